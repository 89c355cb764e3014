package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alcovehq/alcove/internal/upload"
)

// errExit signals a non-zero exit without an extra message; the details were
// already printed.
var errExit = errors.New("completed with errors")

var uploadCmd = &cobra.Command{
	Use:   "upload <workspace-id> <file ...>",
	Short: "Upload files to a workspace and wait for processing",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer flushTraces(a)

		result, err := a.uploads.Run(cmd.Context(), args[0], args[1:])
		if err != nil {
			return err
		}
		if reportResult(result) {
			return errExit
		}
		return nil
	},
}

// reportResult prints the settled batch outcome and reports whether
// anything went wrong.
func reportResult(result *upload.Result) bool {
	if result == nil {
		return false
	}
	for _, id := range result.Succeeded {
		fmt.Printf("processed\t%s\n", id)
	}
	for _, rej := range result.Rejected {
		fmt.Fprintf(os.Stderr, "upload failed\t%s\t%v\n", rej.Path, rej.Err)
	}
	for _, fail := range result.Failed {
		if fail.Indeterminate {
			fmt.Fprintf(os.Stderr, "still processing\t%s\tcheck back later\n", fail.Path)
		} else {
			fmt.Fprintf(os.Stderr, "processing failed\t%s\t%v\n", fail.Path, fail.Err)
		}
	}
	return !result.Clean()
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

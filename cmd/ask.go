package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alcovehq/alcove/internal/api"
)

var askCmd = &cobra.Command{
	Use:   "ask <workspace-id> <question>",
	Short: "Ask a one-shot question and stream the answer to stdout",
	Long: `Ask sends a single question to a workspace and prints the streamed answer.
The conversation is not persisted locally; Ctrl+C aborts the stream and
keeps whatever was printed.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer flushTraces(a)

		req := api.SendMessageRequest{
			WorkspaceID: args[0],
			Message:     strings.Join(args[1:], " "),
			Model:       a.cfg.Model,
		}

		var sources []api.SourceRef
		for frame, err := range a.client.StreamMessage(cmd.Context(), req) {
			if err != nil {
				fmt.Println()
				if cmd.Context().Err() != nil {
					return nil // interrupted; partial output stands
				}
				return err
			}
			switch frame.Type {
			case api.FrameSources:
				sources = frame.Sources
			case api.FrameContent:
				fmt.Print(frame.Text)
			case api.FrameError:
				fmt.Println()
				return errors.New(frame.Message)
			}
		}
		fmt.Println()

		if len(sources) > 0 {
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, "Sources:")
			for _, src := range sources {
				if src.Page > 0 {
					fmt.Fprintf(os.Stderr, "  %s (p.%d)\n", src.Title, src.Page)
				} else {
					fmt.Fprintf(os.Stderr, "  %s\n", src.Title)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}

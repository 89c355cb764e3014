package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage workspace documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list <workspace-id>",
	Short: "List the documents of a workspace with their processing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer flushTraces(a)

		docs, err := a.client.ListDocuments(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents in this workspace.")
			return nil
		}
		for _, doc := range docs {
			fmt.Printf("%s\t%s\t%s\n", doc.ID, doc.Status, doc.Name)
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <workspace-id> <document-id>",
	Short: "Remove a document from a workspace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer flushTraces(a)

		if err := a.client.DeleteDocument(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Document %s deleted.\n", args[1])
		return nil
	},
}

func init() {
	documentsCmd.AddCommand(documentsListCmd, documentsDeleteCmd)
	rootCmd.AddCommand(documentsCmd)
}

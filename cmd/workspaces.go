package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alcovehq/alcove/internal/provision"
)

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "Manage workspaces",
}

var workspacesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer flushTraces(a)

		list, err := a.client.ListWorkspaces(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No workspaces. Create one with: alcove workspaces create <name> [files...]")
			return nil
		}
		for _, ws := range list {
			fmt.Printf("%s\t%s\n", ws.ID, ws.Name)
		}
		return nil
	},
}

var workspacesCreateCmd = &cobra.Command{
	Use:   "create <name> [file ...]",
	Short: "Create a workspace, optionally uploading files into it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer flushTraces(a)

		events := a.provisioner.Run(cmd.Context(), provision.Request{
			Name:  args[0],
			Files: args[1:],
		})

		var failed bool
		for ev := range events {
			switch ev.Phase {
			case provision.PhaseCreating:
				fmt.Println("Creating workspace...")
			case provision.PhaseUploading:
				fmt.Printf("Workspace %s created. Uploading files...\n", ev.Workspace.ID)
			case provision.PhaseProcessing:
				fmt.Println("Waiting for document processing...")
			case provision.PhaseDone:
				fmt.Printf("Workspace %s is ready.\n", ev.Workspace.ID)
				failed = reportResult(ev.Result) || failed
			case provision.PhaseError:
				fmt.Fprintf(os.Stderr, "provisioning failed: %v\n", ev.Err)
				failed = true
			}
		}
		if failed {
			return errExit
		}
		return nil
	},
}

var workspacesDeleteCmd = &cobra.Command{
	Use:   "delete <workspace-id>",
	Short: "Delete a workspace and all its documents and conversations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer flushTraces(a)

		if err := a.client.DeleteWorkspace(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Workspace %s deleted.\n", args[0])
		return nil
	},
}

func init() {
	workspacesCmd.AddCommand(workspacesListCmd, workspacesCreateCmd, workspacesDeleteCmd)
	rootCmd.AddCommand(workspacesCmd)
}

// Package cmd wires the Alcove CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/alcovehq/alcove/internal/config"
	"github.com/alcovehq/alcove/internal/state"
	"github.com/alcovehq/alcove/internal/tui"
)

var rootCmd = &cobra.Command{
	Use:   "alcove",
	Short: "Alcove - chat with your documents from the terminal",
	Long: `Alcove is a terminal client for document workspaces. Upload files into a
workspace, wait for them to be processed, and ask questions answered from
their content with cited sources.

Running alcove with no arguments starts the interactive interface.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runTUI(cmd.Context())
	},
}

// ExecuteContext runs the root command with ctx governing all backend calls.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func runTUI(ctx context.Context) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer flushTraces(a)

	dir, err := config.Dir()
	if err != nil {
		return err
	}
	release, err := state.AcquireAppLock(dir)
	if err != nil {
		if errors.Is(err, state.ErrAlreadyRunning) {
			return errors.New("alcove is already running in another terminal")
		}
		return err
	}
	defer release()

	model, err := tui.New(ctx, tui.Deps{
		Client:      a.client,
		Uploads:     a.uploads,
		Provisioner: a.provisioner,
		Store:       a.store,
		ModelName:   a.cfg.Model,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	program := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running interface: %w", err)
	}
	return nil
}

// flushTraces gives the exporter a bounded window to drain on exit.
func flushTraces(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: flushing traces: %v\n", err)
	}
}

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mixedstack.dev/pkg/mixedstack/internal/domain"
)

// dumpCmd represents the dump command.
var dumpCmd = newDumpCmd()

func newDumpCmd() *cobra.Command {
	var pid int

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every indexed range of a process",
		Long: `Read the newest map file of every domain and print the resulting indexes.

` + mapFilesHelp,
		Args: cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ui, err := newSimpleUI(cmd)
			if err != nil {
				return err
			}

			resolver, err := newResolver()
			if err != nil {
				return err
			}
			defer resolver.CloseAll()

			resolver.Enable(pid)

			if err := resolver.Refresh(cmd.Context(), pid); err != nil {
				if domain.IsParseFailure(err) {
					slog.Error("Map files are invalid", "pid", pid, "error", err)
				}

				return fmt.Errorf("failed to load map files: %w", err)
			}

			snapshot, ok := resolver.Snapshot(pid)
			if !ok {
				return fmt.Errorf("no session for process %d", pid)
			}

			return ui.DisplaySnapshot(cmd.Context(), snapshot)
		},
	}

	addPIDFlag(cmd, &pid)

	return cmd
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

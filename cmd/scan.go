package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// scanCmd represents the scan command.
var scanCmd = newScanCmd()

func newScanCmd() *cobra.Command {
	var pid int

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the map files of a process",
		Long: `List the map files found for a process and which of them would be read.

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

			result, err := resolver.Scan(cmd.Context(), pid)
			if err != nil {
				return fmt.Errorf("failed to scan map files: %w", err)
			}

			return ui.DisplayCandidates(cmd.Context(), pid, result.Candidates)
		},
	}

	addPIDFlag(cmd, &pid)

	return cmd
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

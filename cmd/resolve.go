package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mixedstack.dev/pkg/mixedstack/internal/domain"
	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// resolveCmd represents the resolve command.
var resolveCmd = newResolveCmd()

func newResolveCmd() *cobra.Command {
	var (
		pid       int
		domainID  int
		showStats bool
	)

	cmd := &cobra.Command{
		Use:   "resolve ADDRESS...",
		Short: "Resolve JIT code addresses to symbol names",
		Long: `Resolve one or more hexadecimal instruction pointers of a process.

` + mapFilesHelp,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args)
			if err != nil {
				return err
			}

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

			hint := domainHint(cmd, domainID)
			resolutions := make([]m.Resolution, 0, len(addrs))

			for _, addr := range addrs {
				name, found := resolver.Resolve(cmd.Context(), m.Query{PID: pid, Address: addr, Domain: hint})
				resolutions = append(resolutions, m.Resolution{Address: addr, Name: name, Found: found})
			}

			if err := ui.DisplayResolutions(cmd.Context(), pid, resolutions); err != nil {
				return err
			}

			if !resolver.Enabled(pid) {
				slog.Warn("Resolution disabled after a map file failure", "pid", pid)
				cmd.PrintErrln("warning: map files could not be read, resolution disabled (see log)")
			}

			if !showStats {
				return nil
			}

			stats, err := domain.Stats()
			if err != nil {
				return fmt.Errorf("failed to collect stats: %w", err)
			}

			return ui.DisplayStats(cmd.Context(), stats)
		},
	}

	addPIDFlag(cmd, &pid)
	cmd.Flags().IntVarP(&domainID, domainFlagName, "d", 0, "domain of the frame, searched first")
	cmd.Flags().BoolVar(&showStats, statsFlagName, false, "print resolver counters after resolving")

	return cmd
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

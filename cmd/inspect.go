package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"mixedstack.dev/pkg/mixedstack/internal/controller"
	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// inspectCmd represents the inspect command.
var inspectCmd = newInspectCmd()

func newInspectCmd() *cobra.Command {
	var (
		pid      int
		domainID int
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Resolve addresses interactively",
		Long: `Open an interactive prompt that resolves addresses as they are entered.
Map files are re-scanned before every lookup, so a running process can keep
writing new ones.`,
		Args: cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f, ok := cmd.InOrStdin().(*os.File); ok && !controller.IsTTY(f) {
				return errors.New("inspect needs an interactive terminal, use resolve instead")
			}

			resolver, err := newResolver()
			if err != nil {
				return err
			}
			defer resolver.CloseAll()

			resolver.Enable(pid)
			hint := domainHint(cmd, domainID)

			tui := controller.NewInspectTUI(cmd.InOrStdin(), cmd.OutOrStdout())

			return tui.Run(cmd.Context(), pid, func(ctx context.Context, addr uint64) m.Resolution {
				name, found := resolver.Resolve(ctx, m.Query{PID: pid, Address: addr, Domain: hint})
				return m.Resolution{Address: addr, Name: name, Found: found}
			})
		},
	}

	addPIDFlag(cmd, &pid)
	cmd.Flags().IntVarP(&domainID, domainFlagName, "d", 0, "domain searched first")

	return cmd
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

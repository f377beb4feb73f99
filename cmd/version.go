package cmd

import (
	"runtime/debug"

	"github.com/spf13/cobra"

	"mixedstack.dev/pkg/mixedstack/internal/domain"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version information",
		Long:  "Displays the build version, the Go version and the newest map file format understood.",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("map format\t %.1f\n", domain.MaxSupportedVersion)

			info, ok := debug.ReadBuildInfo()
			if !ok || info.Main.Version == "" {
				cmd.Println("version: unknown")
				return
			}

			cmd.Println("mixedstack\t", info.Main.Version)
			cmd.Println("go version\t", info.GoVersion)
		},
	}
}

// versionCmd represents the version command.
var versionCmd = newVersionCmd()

func init() {
	rootCmd.AddCommand(versionCmd)
}

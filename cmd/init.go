package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// initCmd represents the init command.
var initCmd = newInitCmd()

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate a default mixedstack.yaml configuration file",
		Long: `Create a mixedstack.yaml in the current working directory populated with the
current CLI defaults so it can be edited manually.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targetPath := filepath.Join(configFolderPath, configFileName)

			err := viper.SafeWriteConfigAs(targetPath)
			if err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			cmd.Printf("Wrote %s (maps dir: %s, layout: %s)\n",
				targetPath, viper.GetString(mapsDirKey), viper.GetString(layoutKey))

			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
}

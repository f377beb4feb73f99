// Package cmd provides the root command and CLI setup for mixedstack.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mixedstack.dev/pkg/mixedstack/internal/adapter"
	"mixedstack.dev/pkg/mixedstack/internal/controller"
	"mixedstack.dev/pkg/mixedstack/internal/domain"
	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

var fsAdapter adapter.MapFSAdapter

func init() {
	configureRootFlags(rootCmd)

	fsAdapter = adapter.NewLocalMapFSAdapter()
}

const mapFilesHelp = `Map files are read from the maps directory (default: the system temp dir)
and named pmip_<pid>_<seq>.txt or pmip_<pid>_<seq>_<domain>.txt. The first
line is "<label>:<version>", every other line "start;end;name[;source]"
with hexadecimal addresses.`

const rootLongDescription = `mixedstack resolves instruction pointers inside JIT-generated code to
symbol names, using the map files a managed runtime writes while it runs.

` + mapFilesHelp

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mixedstack",
		Short: "Resolve JIT code addresses from map files",
		Long:  rootLongDescription,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger(viper.GetString(logFilenameKey), viper.GetBool(logVerboseKey))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String(mapsDirFlagName, viper.GetString(mapsDirKey), "directory containing pmip map files")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(mapsDirFlagName), mapsDirKey)

	cmd.PersistentFlags().String(layoutFlagName, viper.GetString(layoutKey), "index layout: domain or flat")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(layoutFlagName), layoutKey)

	cmd.PersistentFlags().String(policyFlagName, viper.GetString(failurePolicyKey), "after a bad map file: disable or retry")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(policyFlagName), failurePolicyKey)

	cmd.PersistentFlags().Int(parallelFlagName, viper.GetInt(parseParallelKey), "map files parsed concurrently during a rebuild")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(parallelFlagName), parseParallelKey)

	cmd.PersistentFlags().StringP(formatFlagName, "f", viper.GetString(outputFormatKey), "output format: table or yaml")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(formatFlagName), outputFormatKey)

	cmd.PersistentFlags().BoolP(verboseFlagName, "v", viper.GetBool(logVerboseKey), "log at debug level")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)

	cmd.PersistentFlags().String(logFileFlagName, viper.GetString(logFilenameKey), "log file path")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(logFileFlagName), logFilenameKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// addPIDFlag registers the required --pid flag.
func addPIDFlag(cmd *cobra.Command, pid *int) {
	cmd.Flags().IntVarP(pid, pidFlagName, "p", 0, "process id of the debugged process")
	cobra.CheckErr(cmd.MarkFlagRequired(pidFlagName))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// newResolver builds a resolver from the current configuration.
func newResolver() (domain.Resolver, error) {
	opts, err := resolverOptions()
	if err != nil {
		return nil, err
	}

	dir := m.Path(viper.GetString(mapsDirKey))
	scanner := domain.NewScanner(fsAdapter, dir)
	parser := domain.NewParser(fsAdapter)

	return domain.NewResolver(scanner, parser, opts...), nil
}

func newSimpleUI(cmd *cobra.Command) (controller.UI, error) {
	format, err := controller.ParseOutputFormat(viper.GetString(outputFormatKey))
	if err != nil {
		return nil, err
	}

	return controller.NewSimpleUI(cmd, format), nil
}

func parseAddresses(args []string) ([]uint64, error) {
	addrs := make([]uint64, 0, len(args))

	for _, arg := range args {
		addr, err := controller.ParseAddress(arg)
		if err != nil {
			return nil, err
		}

		addrs = append(addrs, addr)
	}

	return addrs, nil
}

func domainHint(cmd *cobra.Command, value int) *m.DomainID {
	if !cmd.Flags().Changed(domainFlagName) {
		return nil
	}

	id := m.DomainID(value)

	return &id
}

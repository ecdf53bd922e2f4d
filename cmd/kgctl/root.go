package main

import (
	"encoding/json"

	"github.com/OFFIS-RIT/kgstore/internal/backend"
	"github.com/OFFIS-RIT/kgstore/internal/config"
	"github.com/OFFIS-RIT/kgstore/internal/util"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/logger/console"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	backend string
	envFile string
	debug   bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "kgctl",
		Short: "Operate a knowledge graph store",
		Long: `kgctl runs maintenance tasks against the configured knowledge graph
backend. Connection settings come from the environment (and .env), the same
variables the server and worker read.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.envFile != "" {
				util.LoadEnv(flags.envFile)
			} else {
				util.LoadEnv()
			}
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  flags.debug,
				Prefix: "kgctl",
				Output: cmd.ErrOrStderr(),
			}))
		},
	}

	root.PersistentFlags().StringVar(&flags.backend, "backend", "", "Backend kind, overrides KG_BACKEND")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Load variables from this file instead of .env")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newRepairCmd(flags),
		newCleanCmd(flags),
		newFlushCmd(flags),
		newCommunitiesCmd(flags),
		newExportCmd(flags),
		newEmbedCmd(flags),
		newBenchCmd(flags),
	)
	return root
}

// loadConfig reads the environment and applies the global overrides.
func (f *globalFlags) loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if f.backend != "" {
		cfg.Backend = f.backend
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (f *globalFlags) openStack(cmd *cobra.Command) (*backend.Stack, config.Config, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	stack, err := backend.New(cmd.Context(), cfg, nil)
	return stack, cfg, err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

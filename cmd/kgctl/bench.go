package main

import (
	"github.com/OFFIS-RIT/kgstore/internal/backend"
	"github.com/OFFIS-RIT/kgstore/internal/bench"

	"github.com/spf13/cobra"
)

func newBenchCmd(flags *globalFlags) *cobra.Command {
	var (
		kinds    []string
		workload = bench.DefaultWorkload
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time the same workload against one or more backends",
		Long: `Add nodes and edges, read them back, build a view and remove everything
again on each backend, then report per-operation latency.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if len(kinds) == 0 {
				kinds = []string{cfg.Backend}
			}
			if !cmd.Flags().Changed("embedding-dim") {
				workload.EmbeddingDim = cfg.EmbeddingDim
			}

			results := make([]bench.Result, 0, len(kinds))
			for _, kind := range kinds {
				cfg.Backend = kind
				if err := cfg.Validate(); err != nil {
					return err
				}
				stack, err := backend.New(cmd.Context(), cfg, nil)
				if err != nil {
					return err
				}
				res, err := bench.Run(cmd.Context(), kind, stack.Store, workload)
				stack.Close()
				if err != nil {
					return err
				}
				results = append(results, res)
			}

			if asJSON {
				return printJSON(cmd, results)
			}
			return bench.WriteTable(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "backends", nil, "Backends to compare, defaults to the configured one")
	cmd.Flags().IntVar(&workload.Nodes, "nodes", workload.Nodes, "Number of nodes to add")
	cmd.Flags().IntVar(&workload.EdgesPerNode, "edges-per-node", workload.EdgesPerNode, "Outgoing edges per node")
	cmd.Flags().BoolVar(&workload.Directed, "directed", false, "Add directed edges")
	cmd.Flags().IntVar(&workload.EmbeddingDim, "embedding-dim", 0, "Attach embeddings and time nearest neighbor queries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/OFFIS-RIT/kgstore/pkg/community"
	"github.com/OFFIS-RIT/kgstore/pkg/graph"

	"github.com/spf13/cobra"
)

func newCommunitiesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "communities",
		Short: "Detect and list communities",
	}
	cmd.AddCommand(newDetectCmd(flags), newListCommunitiesCmd(flags))
	return cmd
}

func newDetectCmd(flags *globalFlags) *cobra.Command {
	var (
		resolution float64
		prefix     string
		minSize    int
		noAssign   bool
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run Louvain community detection and store the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, cfg, err := flags.openStack(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()

			res, err := community.Detect(cmd.Context(), stack.Store,
				community.WithResolution(resolution),
				community.WithTitlePrefix(prefix),
				community.WithMinSize(minSize),
				community.WithAssign(!noAssign),
				community.WithParallelism(cfg.Parallelism),
				community.WithDryRun(dryRun),
			)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Float64Var(&resolution, "resolution", graph.DefaultResolution, "Modularity resolution")
	cmd.Flags().StringVar(&prefix, "prefix", "community-", "Title prefix of stored communities")
	cmd.Flags().IntVar(&minSize, "min-size", 1, "Skip communities with fewer members")
	cmd.Flags().BoolVar(&noAssign, "no-assign", false, "Do not set community_id on member nodes")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute the partition without writing")
	return cmd
}

func newListCommunitiesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored communities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, _, err := flags.openStack(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()

			list, err := stack.Store.ListCommunities(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TITLE\tMEMBERS\tUID")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%d\t%s\n", c.Title, len(c.Nodes), c.CommunityUID)
			}
			return w.Flush()
		},
	}
}

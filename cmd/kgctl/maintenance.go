package main

import (
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/spf13/cobra"
)

func newRepairCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Rebuild adjacency lists from the stored edges",
		Long: `Scan every node and edge, delete edges whose endpoints are gone and
rewrite nodes whose adjacency lists disagree with the edge records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, _, err := flags.openStack(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()

			report, err := stack.Store.Repair(cmd.Context(), store.RepairOptions{DryRun: dryRun})
			if perr := printJSON(cmd, report); perr != nil {
				return errors.Join(err, perr)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report problems without writing")
	return cmd
}

func newCleanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove nodes without any edges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, _, err := flags.openStack(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()

			removed, err := stack.Store.CleanZeroDegreeNodes(cmd.Context())
			for _, uid := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), uid)
			}
			return err
		},
	}
}

func newFlushCmd(flags *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Delete every node, edge and community",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("flush deletes the whole graph, pass --yes to confirm")
			}
			stack, cfg, err := flags.openStack(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()

			if err := stack.Store.FlushGraph(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Flushed %s backend\n", cfg.Backend)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting all data")
	return cmd
}

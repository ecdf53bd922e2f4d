package main

import (
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/spf13/cobra"
)

func newEmbedCmd(flags *globalFlags) *cobra.Command {
	var opts store.EmbedOptions
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Backfill node embeddings with the configured model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, _, err := flags.openStack(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()
			if stack.Embedder == nil {
				return errors.New("embed needs AI_ADAPTER and AI_EMBED_MODEL")
			}

			written, err := stack.Store.EmbedNodes(cmd.Context(), stack.Embedder, opts)
			fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d nodes\n", len(written))
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Re-embed nodes that already have an embedding")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 64, "Inputs per embedding request")
	return cmd
}

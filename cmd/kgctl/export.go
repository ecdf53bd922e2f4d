package main

import (
	"fmt"
	"os"

	"github.com/OFFIS-RIT/kgstore/internal/storage"

	"github.com/spf13/cobra"
)

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		format string
		output string
		upload bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of the graph as DOT or JSON",
		Long: `Build a view of the whole graph and write it to stdout, to a file with
--output, or to the configured bucket with --s3.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, cfg, err := flags.openStack(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()

			ctx := cmd.Context()
			view, err := stack.Store.BuildGraphView(ctx)
			if err != nil {
				return err
			}

			if upload {
				if cfg.S3Bucket == "" {
					return fmt.Errorf("--s3 needs AWS_BUCKET")
				}
				client, err := storage.NewS3Client(ctx, storage.ClientOptions{
					Region:    cfg.AWSRegion,
					Endpoint:  cfg.AWSEndpoint,
					AccessKey: cfg.AWSAccessKey,
					SecretKey: cfg.AWSSecretKey,
				})
				if err != nil {
					return err
				}
				key, err := storage.NewExporter(client, cfg.S3Bucket, cfg.S3Prefix).ExportView(ctx, view, format)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}

			data, err := storage.Render(view, format)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", storage.FormatDOT, "Output format: dot or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	cmd.Flags().BoolVar(&upload, "s3", false, "Upload to the configured bucket")
	return cmd
}

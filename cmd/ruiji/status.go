package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hyperjump/ruiji/internal/cli"
	"github.com/hyperjump/ruiji/internal/indexer"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	var serverURL, output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show rebuild, store and index status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			var st *cli.StatusReport
			if serverURL != "" {
				st, err = newAPIClient(serverURL).status(ctx)
			} else {
				st, err = directStatus(ctx, g)
			}
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = read the store directly)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func directStatus(ctx context.Context, g *globalFlags) (*cli.StatusReport, error) {
	cfg, logger, err := g.setup()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	if err := indexer.Reload(ctx, components.Store, components.Index); err != nil {
		return nil, err
	}
	stats, err := components.Store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st := &cli.StatusReport{
		Rebuild:         components.Coordinator.Status(),
		Store:           stats,
		StorePath:       components.Store.Path(),
		VectorIndexSize: components.Engine.IndexSize(),
	}
	if committed, err := components.Store.CommittedIdentity(ctx); err == nil {
		st.Identity = committed
	}
	if n, err := components.Store.DiskUsage(); err == nil {
		st.DiskUsageBytes = &n
	}
	return st, nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/ruiji/internal/cli"
	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/notes"
)

type queryFlags struct {
	cmd           *cobra.Command
	server        string
	limit         int
	minSimilarity float64
	aggregation   string
	output        string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	f.cmd = cmd
	cmd.Flags().StringVar(&f.server, "server", defaultServerURL, "server URL (empty = query the store directly)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of notes (default from config)")
	cmd.Flags().Float64Var(&f.minSimilarity, "min-similarity", 0, "minimum chunk similarity in [-1, 1] (default from config)")
	cmd.Flags().StringVar(&f.aggregation, "aggregation", "", "document score: max or mean (default from config)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "output format: text, compact or json")
}

func (f *queryFlags) query(text string) models.NearestQuery {
	q := models.NearestQuery{
		Text:        text,
		MaxResults:  f.limit,
		Aggregation: models.Aggregation(f.aggregation),
	}
	if f.cmd != nil && f.cmd.Flags().Changed("min-similarity") {
		q.MinSimilarity = models.Threshold(f.minSimilarity)
	}
	return q
}

func newNearestCmd(g *globalFlags) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "nearest <text...>",
		Short: "Find the notes most similar to a text",
		Long: `Nearest embeds the text and ranks notes by the similarity of their chunks.
The text is all remaining arguments joined by spaces; quoting is optional.`,
		Example: `  ruiji nearest vector databases
  ruiji nearest --min-similarity 0.3 --aggregation mean "release checklist"
  ruiji nearest --server "" -o json meeting notes`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(f.output)
			if err != nil {
				return err
			}
			text := buildQueryText(args)
			if text == "" {
				return fmt.Errorf("query text is empty")
			}
			q := f.query(text)

			ctx, stop := signalContext()
			defer stop()
			var resp *models.NearestResponse
			if f.server != "" {
				resp, err = newAPIClient(f.server).nearest(ctx, q)
			} else {
				resp, err = withDirectEngine(ctx, g, func(c *Components) (*models.NearestResponse, error) {
					return c.Engine.FindNearest(ctx, q)
				})
			}
			if err != nil {
				return err
			}
			return cli.WriteNearestResults(cmd.OutOrStdout(), resp, format)
		},
	}
	f.register(cmd)
	return cmd
}

func newRelatedCmd(g *globalFlags) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "related <note>",
		Short: "Find the notes most similar to a note",
		Long:  `Related ranks notes by similarity to the given note, named by ID (note:...) or by path.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(f.output)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			var resp *models.NearestResponse
			if f.server != "" {
				cfg, _, err := loadConfig(g.configPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				vault, err := notes.NewVault(cfg.Vault.Root, notes.WithExtensions(cfg.Vault.Extensions))
				if err != nil {
					return err
				}
				id, err := resolveDocID(vault, args[0])
				if err != nil {
					return err
				}
				resp, err = newAPIClient(f.server).related(ctx, id, f.query(""))
				if err != nil {
					return err
				}
			} else {
				resp, err = withDirectEngine(ctx, g, func(c *Components) (*models.NearestResponse, error) {
					id, err := resolveDocID(c.Vault, args[0])
					if err != nil {
						return nil, err
					}
					return c.Engine.FindSimilarToDocument(ctx, id, f.query(""))
				})
				if err != nil {
					return err
				}
			}
			return cli.WriteNearestResults(cmd.OutOrStdout(), resp, format)
		},
	}
	f.register(cmd)
	return cmd
}

// withDirectEngine opens the store, loads the committed index and runs fn.
func withDirectEngine(ctx context.Context, g *globalFlags, fn func(*Components) (*models.NearestResponse, error)) (*models.NearestResponse, error) {
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
	return fn(components)
}

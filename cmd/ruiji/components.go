package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/notes"
	"github.com/hyperjump/ruiji/internal/search"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Store       *storage.SQLiteStore
	Gateway     *embedding.Gateway
	Vault       *notes.Vault
	Index       *vector.MemoryIndex
	Builder     *indexer.Builder
	Coordinator *indexer.Coordinator
	Engine      *search.Engine
	Identity    models.ModelIdentity
}

// Close stops the coordinator and releases the provider and the store lock.
func (c *Components) Close() {
	if c.Coordinator != nil {
		c.Coordinator.Close()
	}
	if c.Gateway != nil {
		_ = c.Gateway.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func newProvider(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Provider {
	case "http":
		return embedding.NewHTTPProvider(embedding.HTTPConfig{
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			Version:    cfg.Version,
			APIKey:     cfg.APIKey(),
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	case "mock", "":
		return embedding.NewMockProvider(cfg.Dimensions).WithIdentity(cfg.Model, cfg.Version), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.Open(cfg.Storage.DataDir, cfg.Embedding.Model, storage.WithLogger(logger))
	if err != nil {
		return nil, lockHint(fmt.Errorf("failed to initialize storage: %w", err))
	}
	c := &Components{Store: store, Identity: cfg.Embedding.Identity(cfg.Index.MaxBlockSize)}

	provider, err := newProvider(cfg.Embedding)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	c.Gateway = embedding.NewGateway(provider, embedding.GatewayConfig{
		RequestsPerSecond:  cfg.Embedding.RequestsPerSecond,
		MaxConcurrency:     cfg.Embedding.MaxConcurrency,
		MaxOverloadRetries: cfg.Embedding.MaxOverloadRetries,
		QueryCacheSize:     cfg.Embedding.QueryCacheSize,
	}, embedding.WithLogger(logger))

	c.Vault, err = notes.NewVault(cfg.Vault.Root,
		notes.WithExtensions(cfg.Vault.Extensions),
		notes.WithLogger(logger),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	c.Index = vector.NewMemoryIndex()
	c.Builder = indexer.NewBuilder(c.Vault, store, c.Gateway, c.Index, indexer.BuildOptions{
		MaxBlockSize:    cfg.Index.MaxBlockSize,
		PageSize:        cfg.Index.PageSize,
		WaitPeriod:      cfg.Index.WaitPeriod,
		ExcludeTags:     cfg.Vault.ExcludeTags,
		ExcludeFolders:  cfg.Vault.ExcludeFolders,
		StopOnError:     cfg.Index.StopOnError,
		SkipStoreErrors: cfg.Index.SkipStoreErrors,
	}, indexer.WithLogger(logger))
	c.Coordinator = indexer.NewCoordinator(c.Builder, store, c.Index, indexer.CoordinatorConfig{
		AbortTimeout:    cfg.Index.AbortTimeout,
		Debounce:        cfg.Index.Debounce,
		RefreshInterval: cfg.Index.RefreshInterval,
		SwitchPolicy:    indexer.SwitchPolicy(cfg.Index.ModelSwitchPolicy),
	}, indexer.WithCoordinatorLogger(logger))
	c.Engine = search.NewEngine(c.Gateway, c.Index, c.Vault, search.Config{
		MinSimilarity: cfg.Search.MinSimilarity,
		MaxResults:    cfg.Search.MaxResults,
		Aggregation:   models.Aggregation(cfg.Search.Aggregation),
		ExcerptLength: cfg.Search.ExcerptLength,
	}, search.WithLogger(logger))
	return c, nil
}

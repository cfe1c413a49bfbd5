package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/ruiji/data"
	}
	if cfg.Vault.Root == "" {
		cfg.Vault.Root = "notes"
	}
	if cfg.Vault.Extensions == nil {
		cfg.Vault.Extensions = []string{".md", ".markdown", ".txt"}
	}
	if cfg.Vault.Watch == nil {
		t := true
		cfg.Vault.Watch = &t
	}
	if cfg.Vault.WatchDebounce == 0 {
		cfg.Vault.WatchDebounce = 400 * time.Millisecond
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "mock"
	}
	if cfg.Embedding.Version == "" {
		cfg.Embedding.Version = "1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "RUIJI_EMBEDDING_API_KEY"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.SchemaVersion == 0 {
		cfg.Embedding.SchemaVersion = 1
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 10
	}
	if cfg.Embedding.MaxConcurrency == 0 {
		cfg.Embedding.MaxConcurrency = 4
	}
	if cfg.Embedding.MaxOverloadRetries == 0 {
		cfg.Embedding.MaxOverloadRetries = 3
	}
	if cfg.Embedding.QueryCacheSize == 0 {
		cfg.Embedding.QueryCacheSize = 256
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Index.MaxBlockSize == 0 {
		cfg.Index.MaxBlockSize = 200
	}
	if cfg.Index.PageSize == 0 {
		cfg.Index.PageSize = 50
	}
	if cfg.Index.Debounce == 0 {
		cfg.Index.Debounce = 2 * time.Second
	}
	if cfg.Index.RefreshInterval == 0 {
		cfg.Index.RefreshInterval = 30 * time.Minute
	}
	if cfg.Index.AbortTimeout == 0 {
		cfg.Index.AbortTimeout = time.Hour
	}
	if cfg.Index.ModelSwitchPolicy == "" {
		cfg.Index.ModelSwitchPolicy = "rebuild"
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 10
	}
	if cfg.Search.Aggregation == "" {
		cfg.Search.Aggregation = "max"
	}
	if cfg.Search.ExcerptLength == 0 {
		cfg.Search.ExcerptLength = 200
	}
}

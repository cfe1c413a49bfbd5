// Package embedding provides embedding providers and the rate-limited gateway in front of them.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrOverloaded marks a transient provider overload (rate limited, unavailable).
var ErrOverloaded = errors.New("embedding provider overloaded")

// Provider produces vector embeddings for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Identity() ProviderIdentity
	Close() error
}

// ProviderIdentity names the model behind a provider.
type ProviderIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// TooLongError reports that the input exceeded the provider's limit.
// Limit and Actual share a unit (usually tokens); zero means unknown.
type TooLongError struct {
	Limit  int
	Actual int
	Msg    string
}

func (e *TooLongError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("input too long: %d exceeds limit %d", e.Actual, e.Limit)
}

// EmbeddingError is a provider failure that survived the retry policy.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return "embedding failed: " + e.Err.Error()
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Package storage persists embedded chunks and per-document content hashes keyed by model identity.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/ruiji/internal/models"
)

var (
	// ErrNoIdentity is returned when a write happens before UseIdentity.
	ErrNoIdentity = errors.New("no active model identity")
	// ErrLocked is returned when another process holds the store file.
	ErrLocked = errors.New("store is locked by another process")
)

// StoreError wraps a persistence failure with the operation that caused it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Stats summarizes store contents.
type Stats struct {
	Documents  int64 `json:"documents"`
	Chunks     int64 `json:"chunks"`
	Identities int64 `json:"identities"`
}

// Store defines embedding persistence operations.
type Store interface {
	// Identity operations
	CompareIdentity(ctx context.Context, id models.ModelIdentity) (models.IdentityChange, error)
	ActiveIdentity(ctx context.Context) (*models.ModelIdentity, error)
	UseIdentity(ctx context.Context, id models.ModelIdentity) error
	CommittedIdentity(ctx context.Context) (*models.ModelIdentity, error)
	CommitIdentity(ctx context.Context) error

	// Document operations
	IsUpToDate(ctx context.Context, docID, hash string) (bool, error)
	ReplaceDocument(ctx context.Context, docID, hash string, chunks []*models.Chunk) error
	DeleteDocument(ctx context.Context, docID string) error
	PruneMissing(ctx context.Context, existing map[string]struct{}) (int, error)
	DocumentIDs(ctx context.Context) ([]string, error)

	// Chunk operations
	AllChunks(ctx context.Context) ([]*models.Chunk, error)
	ChunksByHash(ctx context.Context, hash string) ([]*models.Chunk, error)

	Stats(ctx context.Context) (Stats, error)
	Path() string
	Close() error
}

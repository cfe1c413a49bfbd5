// Package notes reads notes from the host document source.
package notes

import (
	"context"
	"errors"

	"github.com/hyperjump/ruiji/internal/models"
)

// ErrNotFound is returned by GetDocument for unknown or deleted notes.
var ErrNotFound = errors.New("note not found")

// Source is a read-only, paged view of the note corpus.
type Source interface {
	// ListDocuments returns the zero-based page of notes of at most pageSize items.
	ListDocuments(ctx context.Context, page, pageSize int) (*models.DocumentPage, error)
	// GetDocument returns one note or ErrNotFound.
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

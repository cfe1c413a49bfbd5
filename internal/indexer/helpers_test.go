package indexer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/notes"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/vector"
)

// memSource is an in-memory notes.Source ordered by ID.
type memSource struct {
	mu   sync.Mutex
	docs map[string]*models.Document
	// block, when set, is received from before each GetDocument/ListDocuments call returns.
	block chan struct{}
}

func newMemSource(docs ...*models.Document) *memSource {
	s := &memSource{docs: make(map[string]*models.Document)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *memSource) put(d *models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.ID] = d
}

func (s *memSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

func (s *memSource) wait(ctx context.Context) {
	if s.block == nil {
		return
	}
	select {
	case <-s.block:
	case <-ctx.Done():
	}
}

func (s *memSource) ListDocuments(ctx context.Context, page, pageSize int) (*models.DocumentPage, error) {
	s.wait(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	start := page * pageSize
	if start > len(ids) {
		start = len(ids)
	}
	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	out := &models.DocumentPage{HasMore: end < len(ids)}
	for _, id := range ids[start:end] {
		d := *s.docs[id]
		out.Items = append(out.Items, &d)
	}
	return out, nil
}

func (s *memSource) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.wait(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", notes.ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

var testIdentity = models.ModelIdentity{Name: "mock", Version: "1", MaxBlockSize: 100, SchemaVersion: 1}

type fixture struct {
	source   *memSource
	store    *storage.SQLiteStore
	provider *embedding.MockProvider
	gateway  *embedding.Gateway
	index    *vector.MemoryIndex
	builder  *Builder
}

func newFixture(t *testing.T, opts BuildOptions, docs ...*models.Document) *fixture {
	t.Helper()
	store, err := storage.Open(t.TempDir(), "mock")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.UseIdentity(context.Background(), testIdentity))

	f := &fixture{
		source:   newMemSource(docs...),
		store:    store,
		provider: embedding.NewMockProvider(8),
		index:    vector.NewMemoryIndex(),
	}
	f.gateway = embedding.NewGateway(f.provider, embedding.GatewayConfig{MaxConcurrency: 4})
	f.builder = NewBuilder(f.source, store, f.gateway, f.index, opts)
	return f
}

func doc(id, text string) *models.Document {
	return &models.Document{ID: id, Title: id, Text: text}
}

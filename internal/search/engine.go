// Package search ranks notes by embedding similarity to a query.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/notes"
	"github.com/hyperjump/ruiji/internal/vector"
)

// ErrModelMismatch is returned when the query vector cannot be compared with
// the indexed vectors. Scores across vector spaces are meaningless, so the
// query fails instead of returning them.
var ErrModelMismatch = errors.New("model mismatch")

// QueryEmbedder embeds query text. *embedding.Gateway implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Identity() embedding.ProviderIdentity
}

// Config holds defaults applied to queries that leave a field unset.
type Config struct {
	MinSimilarity float64
	MaxResults    int
	Aggregation   models.Aggregation
	// ExcerptLength > 0 attaches a text excerpt to each returned chunk.
	ExcerptLength int
}

// Engine answers nearest-neighbour queries against the in-memory index.
type Engine struct {
	embedder QueryEmbedder
	index    *vector.MemoryIndex
	source   notes.Source
	config   Config
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine. source may be nil; it is used for
// titles, excerpts and related-note lookups.
func NewEngine(embedder QueryEmbedder, index *vector.MemoryIndex, source notes.Source, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		embedder: embedder,
		index:    index,
		source:   source,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IndexSize returns the number of chunks in the current snapshot.
func (e *Engine) IndexSize() int {
	return e.index.Size()
}

func (e *Engine) prepare(q *models.NearestQuery) (Aggregator, error) {
	if q.MaxResults == 0 {
		q.MaxResults = e.config.MaxResults
	}
	if q.MinSimilarity == nil {
		q.MinSimilarity = models.Threshold(e.config.MinSimilarity)
	}
	if q.Aggregation == "" {
		q.Aggregation = e.config.Aggregation
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return AggregatorFor(q.Aggregation)
}

// FindNearest embeds the query text and returns the documents whose chunks
// are most similar to it. An empty or unbuilt index yields no matches.
func (e *Engine) FindNearest(ctx context.Context, q models.NearestQuery) (*models.NearestResponse, error) {
	start := time.Now()
	agg, err := e.prepare(&q)
	if err != nil {
		return nil, err
	}
	snap := e.index.Snapshot()
	if snap.Identity() == nil || snap.Size() == 0 {
		return emptyResponse(q.Text, start), nil
	}
	if err := e.checkProvider(snap.Identity()); err != nil {
		return nil, err
	}

	vec, err := e.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec, err = vector.Normalize(vec)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.rank(ctx, snap, vec, q, agg, start)
}

// FindSimilarToDocument returns the notes most similar to docID, which is
// excluded from the result. The stored chunk vectors of docID are averaged
// into the query vector; a note not yet indexed is embedded from its text.
func (e *Engine) FindSimilarToDocument(ctx context.Context, docID string, q models.NearestQuery) (*models.NearestResponse, error) {
	start := time.Now()
	if q.Text == "" {
		q.Text = docID
	}
	q.ExcludeID = docID
	agg, err := e.prepare(&q)
	if err != nil {
		return nil, err
	}
	snap := e.index.Snapshot()
	if snap.Identity() == nil || snap.Size() == 0 {
		return emptyResponse(q.Text, start), nil
	}
	identity := snap.Identity()

	vec, err := centroid(snap.Chunks(docID), identity.Key())
	if err != nil {
		if e.source == nil {
			return nil, fmt.Errorf("%w: %s is not indexed", notes.ErrNotFound, docID)
		}
		doc, err := e.source.GetDocument(ctx, docID)
		if err != nil {
			return nil, err
		}
		if err := e.checkProvider(identity); err != nil {
			return nil, err
		}
		text := doc.Text
		if text == "" {
			text = doc.Title
		}
		if vec, err = e.embedder.EmbedQuery(ctx, text); err != nil {
			return nil, fmt.Errorf("embed document %s: %w", docID, err)
		}
		if vec, err = vector.Normalize(vec); err != nil {
			return nil, fmt.Errorf("embed document %s: %w", docID, err)
		}
	}
	return e.rank(ctx, snap, vec, q, agg, start)
}

func (e *Engine) checkProvider(identity *models.ModelIdentity) error {
	pid := e.embedder.Identity()
	if pid.Name != identity.Name || pid.Version != identity.Version {
		return fmt.Errorf("%w: provider %s@%s, index built with %s",
			ErrModelMismatch, pid.Name, pid.Version, identity)
	}
	return nil
}

func (e *Engine) rank(ctx context.Context, snap *vector.Snapshot, vec []float32, q models.NearestQuery, agg Aggregator, start time.Time) (*models.NearestResponse, error) {
	key := snap.Identity().Key()
	threshold := *q.MinSimilarity
	var matches []*models.DocumentMatch
	for _, docID := range snap.Documents() {
		if docID == q.ExcludeID {
			continue
		}
		var match *models.DocumentMatch
		for _, c := range snap.Chunks(docID) {
			if c.Model != key {
				continue
			}
			if len(c.Vector) != len(vec) {
				return nil, fmt.Errorf("%w: query has %d dimensions, chunk %s/%d has %d",
					ErrModelMismatch, len(vec), docID, c.Seq, len(c.Vector))
			}
			sim := vector.Dot(vec, c.Vector)
			if sim < threshold {
				continue
			}
			if match == nil {
				match = &models.DocumentMatch{DocumentID: docID}
				matches = append(matches, match)
			}
			match.Chunks = append(match.Chunks, &models.ScoredChunk{
				StartLine:    c.StartLine,
				HeadingLevel: c.HeadingLevel,
				HeadingTitle: c.HeadingTitle,
				Length:       c.Length,
				Similarity:   sim,
			})
		}
	}

	rankMatches(matches, agg)
	total := len(matches)
	if len(matches) > q.MaxResults {
		matches = matches[:q.MaxResults]
	}
	e.describe(ctx, matches)

	if matches == nil {
		matches = []*models.DocumentMatch{}
	}
	e.logger.Debug("nearest query",
		zap.Int("documents", snap.Len()),
		zap.Int("chunks", snap.Size()),
		zap.Int("matches", total))
	return &models.NearestResponse{
		Matches:   matches,
		Total:     total,
		QueryTime: time.Since(start).Milliseconds(),
		Query:     q.Text,
	}, nil
}

// describe fills titles and excerpts from the document source. Lookup
// failures leave the fields empty.
func (e *Engine) describe(ctx context.Context, matches []*models.DocumentMatch) {
	if e.source == nil {
		return
	}
	for _, m := range matches {
		doc, err := e.source.GetDocument(ctx, m.DocumentID)
		if err != nil {
			e.logger.Debug("describe match", zap.String("doc_id", m.DocumentID), zap.Error(err))
			continue
		}
		m.Title = doc.Title
		if e.config.ExcerptLength <= 0 {
			continue
		}
		for _, c := range m.Chunks {
			c.Excerpt = Excerpt(doc.Text, c.StartLine, e.config.ExcerptLength)
		}
	}
}

// centroid returns the normalized mean of the chunk vectors tagged with key.
func centroid(chunks []*models.Chunk, key models.ModelKey) ([]float32, error) {
	var sum []float32
	for _, c := range chunks {
		if c.Model != key {
			continue
		}
		if sum == nil {
			sum = make([]float32, len(c.Vector))
		}
		if len(c.Vector) != len(sum) {
			return nil, ErrModelMismatch
		}
		for i, v := range c.Vector {
			sum[i] += v
		}
	}
	if sum == nil {
		return nil, errors.New("no chunks")
	}
	return vector.Normalize(sum)
}

func emptyResponse(query string, start time.Time) *models.NearestResponse {
	return &models.NearestResponse{
		Matches:   []*models.DocumentMatch{},
		QueryTime: time.Since(start).Milliseconds(),
		Query:     query,
	}
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/ruiji/internal/hashing"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/notes"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/vector"
)

// maxSummaryErrors caps the error messages kept in a Summary.
const maxSummaryErrors = 20

// ErrCancelled is returned by a build that stopped at a cancellation check.
var ErrCancelled = errors.New("rebuild cancelled")

// ChunkingError reports a block that could not be prepared for embedding.
type ChunkingError struct {
	DocumentID string
	StartLine  int
	Reason     string
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking %s at line %d: %s", e.DocumentID, e.StartLine, e.Reason)
}

// Embedder embeds one text. The provider gateway implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Scope selects the documents a rebuild visits.
type Scope struct {
	Full bool
	IDs  []string
}

// FullScope visits every document of the source.
func FullScope() Scope {
	return Scope{Full: true}
}

// TargetedScope visits the given document IDs.
func TargetedScope(ids ...string) Scope {
	return Scope{IDs: ids}
}

func (s Scope) String() string {
	if s.Full {
		return "full"
	}
	return fmt.Sprintf("targeted(%d)", len(s.IDs))
}

// BuildOptions controls a Builder. MaxBlockSize applies only when the active
// model identity does not carry one.
type BuildOptions struct {
	MaxBlockSize    int
	PageSize        int
	WaitPeriod      time.Duration
	ExcludeTags     []string
	ExcludeFolders  []string
	StopOnError     bool
	SkipStoreErrors bool
}

// Summary reports the outcome of one rebuild.
type Summary struct {
	Scope          string        `json:"scope"`
	Succeeded      int           `json:"succeeded"`
	Unchanged      int           `json:"unchanged"`
	Reused         int           `json:"reused"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	Deleted        int           `json:"deleted"`
	FailedDocument string        `json:"failed_document,omitempty"`
	Errors         []string      `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration"`
}

func (s *Summary) addError(err error) {
	if len(s.Errors) < maxSummaryErrors {
		s.Errors = append(s.Errors, err.Error())
	}
}

// Processed is the number of documents visited.
func (s *Summary) Processed() int {
	return s.Succeeded + s.Unchanged + s.Reused + s.Skipped + s.Failed + s.Deleted
}

// ProgressFunc receives the number of processed documents and the current total estimate.
type ProgressFunc func(processed, total int)

// CancelToken is a cooperative cancellation flag checked between documents.
type CancelToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelToken returns an untriggered token.
func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel triggers the token. It is safe to call more than once.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.ch) })
}

// Cancelled reports whether Cancel was called.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done is closed on Cancel.
func (t *CancelToken) Done() <-chan struct{} {
	return t.ch
}

// Builder brings the store and the in-memory index in sync with the note source.
type Builder struct {
	source   notes.Source
	store    storage.Store
	embedder Embedder
	index    *vector.MemoryIndex
	opts     BuildOptions
	logger   *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder creates a builder.
func NewBuilder(source notes.Source, store storage.Store, embedder Embedder, index *vector.MemoryIndex, opts BuildOptions, options ...BuilderOption) *Builder {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	b := &Builder{
		source:   source,
		store:    store,
		embedder: embedder,
		index:    index,
		opts:     opts,
		logger:   zap.NewNop(),
	}
	for _, o := range options {
		o(b)
	}
	return b
}

// Options returns the build options.
func (b *Builder) Options() BuildOptions {
	return b.opts
}

// SetOptions replaces the build options; it must not be called during Run.
func (b *Builder) SetOptions(opts BuildOptions) {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	b.opts = opts
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeUnchanged
	outcomeReused
	outcomeSkipped
	outcomeFailed
)

// run is the state of one Run call.
type run struct {
	key      models.ModelKey
	maxBlock int
	summary  *Summary
	token    *CancelToken
	progress ProgressFunc
	total    int
	batch    *vector.Batch // index writes, published once per page
}

func (r *run) report() {
	if r.progress != nil {
		r.progress(r.summary.Processed(), r.total)
	}
}

// Run rebuilds scope. It returns ErrCancelled when token fires, a *storage.StoreError
// when a write fails (unless SkipStoreErrors), and the document error under
// StopOnError. The summary is filled in every case.
func (b *Builder) Run(ctx context.Context, scope Scope, token *CancelToken, progress ProgressFunc) (*Summary, error) {
	start := time.Now()
	summary := &Summary{Scope: scope.String()}
	defer func() { summary.Duration = time.Since(start) }()
	if token == nil {
		token = NewCancelToken()
	}

	active, err := b.store.ActiveIdentity(ctx)
	if err != nil {
		return summary, err
	}
	if active == nil {
		return summary, storage.ErrNoIdentity
	}
	committed, err := b.store.CommittedIdentity(ctx)
	if err != nil {
		return summary, err
	}
	if committed == nil && b.index.Snapshot().Identity() == nil {
		// First build: let queries read results as they arrive.
		b.index.SetIdentity(active)
	}

	r := &run{
		key:      active.Key(),
		maxBlock: active.MaxBlockSize,
		summary:  summary,
		token:    token,
		progress: progress,
		batch:    b.index.NewBatch(),
	}
	if r.maxBlock <= 0 {
		r.maxBlock = b.opts.MaxBlockSize
	}
	b.logger.Info("rebuild started", zap.String("scope", summary.Scope), zap.String("identity", active.String()))

	if scope.Full {
		err = b.runFull(ctx, r, active)
	} else {
		err = b.runTargeted(ctx, r, scope.IDs)
	}
	// Documents already written to the store stay visible on cancellation.
	r.batch.Commit()

	fields := []zap.Field{
		zap.String("scope", summary.Scope),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("reused", summary.Reused),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("deleted", summary.Deleted),
		zap.Duration("duration", time.Since(start)),
	}
	switch {
	case errors.Is(err, ErrCancelled):
		b.logger.Info("rebuild cancelled", fields...)
	case err != nil:
		b.logger.Error("rebuild failed", append(fields, zap.Error(err))...)
	default:
		b.logger.Info("rebuild completed", fields...)
	}
	return summary, err
}

// wait sleeps for the page cooldown unless cancelled.
func (b *Builder) wait(ctx context.Context, token *CancelToken) error {
	if b.opts.WaitPeriod <= 0 {
		return nil
	}
	t := time.NewTimer(b.opts.WaitPeriod)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-token.Done():
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Builder) runFull(ctx context.Context, r *run, active *models.ModelIdentity) error {
	existing := make(map[string]struct{})
	for page := 0; ; page++ {
		if r.token.Cancelled() {
			return ErrCancelled
		}
		pg, err := b.source.ListDocuments(ctx, page, b.opts.PageSize)
		if err != nil {
			return fmt.Errorf("list documents page %d: %w", page, err)
		}
		r.total += len(pg.Items)
		for _, doc := range pg.Items {
			if r.token.Cancelled() {
				return ErrCancelled
			}
			if !b.excluded(doc) {
				existing[doc.ID] = struct{}{}
			}
			if err := b.visit(ctx, r, doc); err != nil {
				return err
			}
		}
		r.batch.Commit()
		if !pg.HasMore {
			break
		}
		if err := b.wait(ctx, r.token); err != nil {
			return err
		}
	}

	removed, err := b.store.PruneMissing(ctx, existing)
	if err != nil {
		return err
	}
	r.summary.Deleted += removed

	committed, err := b.store.CommittedIdentity(ctx)
	if err != nil {
		return err
	}
	if committed == nil || *committed != *active {
		if r.summary.Failed > 0 {
			b.logger.Warn("keeping previous model identity until every document is embedded",
				zap.Int("failed", r.summary.Failed))
			return b.reload(ctx)
		}
		if err := b.store.CommitIdentity(ctx); err != nil {
			return err
		}
	}
	return b.reload(ctx)
}

// reload reseeds the in-memory index from the store.
func (b *Builder) reload(ctx context.Context) error {
	return Reload(ctx, b.store, b.index)
}

// Reload seeds index with every stored chunk, reading under the committed
// identity or, before the first commit, the active one.
func Reload(ctx context.Context, store storage.Store, index *vector.MemoryIndex) error {
	read, err := store.CommittedIdentity(ctx)
	if err != nil {
		return err
	}
	if read == nil {
		if read, err = store.ActiveIdentity(ctx); err != nil {
			return err
		}
	}
	chunks, err := store.AllChunks(ctx)
	if err != nil {
		return err
	}
	index.Load(read, chunks)
	return nil
}

func (b *Builder) runTargeted(ctx context.Context, r *run, ids []string) error {
	r.total = len(ids)
	for i, id := range ids {
		if r.token.Cancelled() {
			return ErrCancelled
		}
		if i > 0 && i%b.opts.PageSize == 0 {
			r.batch.Commit()
			if err := b.wait(ctx, r.token); err != nil {
				return err
			}
		}
		doc, err := b.source.GetDocument(ctx, id)
		if errors.Is(err, notes.ErrNotFound) {
			if err := b.store.DeleteDocument(ctx, id); err != nil {
				if ferr := b.storeFailure(r, id, err); ferr != nil {
					return ferr
				}
				continue
			}
			r.batch.Remove(id)
			r.summary.Deleted++
			r.report()
			b.logger.Debug("document removed", zap.String("doc_id", id))
			continue
		}
		if err != nil {
			r.summary.Failed++
			r.summary.addError(fmt.Errorf("get %s: %w", id, err))
			r.report()
			if b.opts.StopOnError {
				r.summary.FailedDocument = id
				return err
			}
			continue
		}
		if err := b.visit(ctx, r, doc); err != nil {
			return err
		}
	}
	return nil
}

// storeFailure applies the store error policy and returns non-nil when the run must stop.
func (b *Builder) storeFailure(r *run, docID string, err error) error {
	r.summary.Failed++
	r.summary.addError(err)
	r.report()
	if b.opts.SkipStoreErrors {
		b.logger.Warn("store write failed, skipping document", zap.String("doc_id", docID), zap.Error(err))
		return nil
	}
	r.summary.FailedDocument = docID
	return err
}

// visit processes one document and records the outcome.
func (b *Builder) visit(ctx context.Context, r *run, doc *models.Document) error {
	out, err := b.process(ctx, r, doc)
	var se *storage.StoreError
	switch {
	case errors.As(err, &se):
		return b.storeFailure(r, doc.ID, err)
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		r.summary.Failed++
		r.summary.addError(err)
		b.logger.Warn("document skipped", zap.String("doc_id", doc.ID), zap.Error(err))
		r.report()
		if b.opts.StopOnError {
			r.summary.FailedDocument = doc.ID
			return err
		}
		return nil
	}
	switch out {
	case outcomeSucceeded:
		r.summary.Succeeded++
	case outcomeUnchanged:
		r.summary.Unchanged++
	case outcomeReused:
		r.summary.Reused++
	case outcomeSkipped:
		r.summary.Skipped++
	}
	r.report()
	return nil
}

func (b *Builder) excluded(doc *models.Document) bool {
	for _, tag := range doc.Tags {
		for _, ex := range b.opts.ExcludeTags {
			if strings.EqualFold(tag, ex) {
				return true
			}
		}
	}
	if doc.Folder == "" {
		return false
	}
	for _, pattern := range b.opts.ExcludeFolders {
		pattern = strings.Trim(pattern, "/")
		if ok, _ := doublestar.Match(pattern, doc.Folder); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern+"/**", doc.Folder); ok {
			return true
		}
	}
	return false
}

// DocumentHash fingerprints everything that feeds the provider input of doc.
func DocumentHash(doc *models.Document) string {
	return hashing.ContentString(doc.Title + "\x00" + doc.Text)
}

func (b *Builder) process(ctx context.Context, r *run, doc *models.Document) (outcome, error) {
	if b.excluded(doc) {
		if err := b.store.DeleteDocument(ctx, doc.ID); err != nil {
			return outcomeFailed, err
		}
		r.batch.Remove(doc.ID)
		return outcomeSkipped, nil
	}

	hash := DocumentHash(doc)
	upToDate, err := b.store.IsUpToDate(ctx, doc.ID, hash)
	if err != nil {
		return outcomeFailed, err
	}
	if upToDate {
		return outcomeUnchanged, nil
	}

	if shared, err := b.store.ChunksByHash(ctx, hash); err != nil {
		return outcomeFailed, err
	} else if len(shared) > 0 {
		copies := make([]*models.Chunk, len(shared))
		for i, ch := range shared {
			c := *ch
			c.DocumentID = doc.ID
			copies[i] = &c
		}
		if err := b.store.ReplaceDocument(ctx, doc.ID, hash, copies); err != nil {
			return outcomeFailed, err
		}
		r.batch.Replace(doc.ID, r.key, copies)
		b.logger.Debug("reused chunks of identical document",
			zap.String("doc_id", doc.ID), zap.String("from", shared[0].DocumentID))
		return outcomeReused, nil
	}

	chunks, err := b.embedDocument(ctx, doc, r.maxBlock)
	if err != nil {
		return outcomeFailed, err
	}
	if err := b.store.ReplaceDocument(ctx, doc.ID, hash, chunks); err != nil {
		return outcomeFailed, err
	}
	r.batch.Replace(doc.ID, r.key, chunks)
	b.logger.Debug("document embedded", zap.String("doc_id", doc.ID), zap.Int("chunks", len(chunks)))
	return outcomeSucceeded, nil
}

// embedDocument chunks doc and embeds every block concurrently; the gateway bounds the calls.
func (b *Builder) embedDocument(ctx context.Context, doc *models.Document, maxBlock int) ([]*models.Chunk, error) {
	var blocks []models.RawBlock
	for blk := range Chunk(doc.Text, doc.Title, maxBlock) {
		if !utf8.ValidString(blk.Text) {
			b.logger.Warn("block skipped", zap.Error(&ChunkingError{
				DocumentID: doc.ID, StartLine: blk.StartLine, Reason: "invalid UTF-8",
			}))
			continue
		}
		blocks = append(blocks, blk)
	}

	vecs := make([][]float32, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	for i, blk := range blocks {
		g.Go(func() error {
			v, err := b.embedder.Embed(gctx, Decorate(blk, doc.Title))
			if err != nil {
				return fmt.Errorf("document %s line %d: %w", doc.ID, blk.StartLine, err)
			}
			vecs[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	chunks := make([]*models.Chunk, 0, len(blocks))
	for i, blk := range blocks {
		v, err := vector.Normalize(vecs[i])
		if err != nil {
			b.logger.Warn("chunk skipped", zap.String("doc_id", doc.ID), zap.Int("line", blk.StartLine), zap.Error(err))
			continue
		}
		chunks = append(chunks, &models.Chunk{
			DocumentID:   doc.ID,
			StartLine:    blk.StartLine,
			HeadingLevel: blk.HeadingLevel,
			HeadingTitle: blk.HeadingTitle,
			Length:       utf8.RuneCountInString(blk.Text),
			Vector:       v,
		})
	}
	return chunks, nil
}

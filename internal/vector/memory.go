package vector

import (
	"sync"
	"sync/atomic"

	"github.com/hyperjump/ruiji/internal/models"
)

// Snapshot is an immutable view of the indexed chunks. Readers hold a
// snapshot for the duration of a query and never observe a partial update
// of any single document.
type Snapshot struct {
	identity *models.ModelIdentity
	order    []string
	docs     map[string][]*models.Chunk
	chunks   int
}

// Identity returns the model identity queries should read, or nil before the first build.
func (s *Snapshot) Identity() *models.ModelIdentity {
	return s.identity
}

// Documents returns document IDs in insertion order.
func (s *Snapshot) Documents() []string {
	return s.order
}

// Chunks returns the chunks of a document. The slice must not be modified.
func (s *Snapshot) Chunks(docID string) []*models.Chunk {
	return s.docs[docID]
}

// Len returns the number of documents.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Size returns the number of chunks.
func (s *Snapshot) Size() int {
	return s.chunks
}

// MemoryIndex holds every stored chunk in memory for brute-force scans.
// Writers build a new snapshot and swap it in atomically (copy-on-write).
type MemoryIndex struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[Snapshot]
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	m := &MemoryIndex{}
	m.snap.Store(&Snapshot{docs: map[string][]*models.Chunk{}})
	return m
}

// Snapshot returns the current view.
func (m *MemoryIndex) Snapshot() *Snapshot {
	return m.snap.Load()
}

// Load replaces the whole index with chunks, keeping the order in which documents first appear.
func (m *MemoryIndex) Load(identity *models.ModelIdentity, chunks []*models.Chunk) {
	next := &Snapshot{identity: identity, docs: make(map[string][]*models.Chunk)}
	for _, ch := range chunks {
		if _, ok := next.docs[ch.DocumentID]; !ok {
			next.order = append(next.order, ch.DocumentID)
		}
		next.docs[ch.DocumentID] = append(next.docs[ch.DocumentID], ch)
		next.chunks++
	}
	m.mu.Lock()
	m.snap.Store(next)
	m.mu.Unlock()
}

// SetIdentity changes the identity readers filter on without touching chunks.
func (m *MemoryIndex) SetIdentity(identity *models.ModelIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.snap.Load()
	next := *cur
	next.identity = identity
	m.snap.Store(&next)
}

// ReplaceDocument swaps the chunks of docID tagged with model for chunks.
// Chunks of the same document under other model identities are kept.
func (m *MemoryIndex) ReplaceDocument(docID string, model models.ModelKey, chunks []*models.Chunk) {
	b := m.NewBatch()
	b.Replace(docID, model, chunks)
	b.Commit()
}

// RemoveDocument drops every chunk of docID.
func (m *MemoryIndex) RemoveDocument(docID string) {
	if _, ok := m.snap.Load().docs[docID]; !ok {
		return
	}
	b := m.NewBatch()
	b.Remove(docID)
	b.Commit()
}

type batchOp struct {
	docID  string
	model  models.ModelKey
	chunks []*models.Chunk
	remove bool
}

// Batch queues document writes and publishes them in a single snapshot swap.
// A Batch is not safe for concurrent use.
type Batch struct {
	m   *MemoryIndex
	ops []batchOp
}

// NewBatch starts an empty batch against m.
func (m *MemoryIndex) NewBatch() *Batch {
	return &Batch{m: m}
}

// Replace queues a ReplaceDocument.
func (b *Batch) Replace(docID string, model models.ModelKey, chunks []*models.Chunk) {
	b.ops = append(b.ops, batchOp{docID: docID, model: model, chunks: chunks})
}

// Remove queues a RemoveDocument.
func (b *Batch) Remove(docID string) {
	b.ops = append(b.ops, batchOp{docID: docID, remove: true})
}

// Len returns the number of queued writes.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Commit applies the queued writes and empties the batch. Readers see either
// none or all of them.
func (b *Batch) Commit() {
	if len(b.ops) == 0 {
		return
	}
	m := b.m
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.snap.Load()

	docs := make(map[string][]*models.Chunk, len(cur.docs)+len(b.ops))
	for id, cs := range cur.docs {
		docs[id] = cs
	}
	var added []string
	seen := make(map[string]struct{})
	for _, op := range b.ops {
		if op.remove {
			delete(docs, op.docID)
			continue
		}
		kept := make([]*models.Chunk, 0, len(docs[op.docID])+len(op.chunks))
		for _, ch := range docs[op.docID] {
			if ch.Model != op.model {
				kept = append(kept, ch)
			}
		}
		kept = append(kept, op.chunks...)
		if len(kept) == 0 {
			delete(docs, op.docID)
			continue
		}
		docs[op.docID] = kept
		if _, ok := cur.docs[op.docID]; !ok {
			if _, dup := seen[op.docID]; !dup {
				seen[op.docID] = struct{}{}
				added = append(added, op.docID)
			}
		}
	}

	next := &Snapshot{identity: cur.identity, docs: docs, order: make([]string, 0, len(docs))}
	for _, id := range cur.order {
		if _, ok := docs[id]; ok {
			next.order = append(next.order, id)
		}
	}
	for _, id := range added {
		if _, ok := docs[id]; ok {
			next.order = append(next.order, id)
		}
	}
	for _, cs := range docs {
		next.chunks += len(cs)
	}
	m.snap.Store(next)
	b.ops = nil
}

// Size returns the number of chunks in the current snapshot.
func (m *MemoryIndex) Size() int {
	return m.snap.Load().Size()
}

package indexer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
)

func TestBuilder_FullRebuild(t *testing.T) {
	f := newFixture(t, BuildOptions{PageSize: 1},
		doc("a", "# Intro\nHello world. Bye."),
		doc("b", "Another note.\n\n```go\nfmt.Println()\n```"),
	)
	ctx := context.Background()

	summary, err := f.builder.Run(ctx, FullScope(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, "full", summary.Scope)

	committed, err := f.store.CommittedIdentity(ctx)
	require.NoError(t, err)
	require.NotNil(t, committed)
	assert.Equal(t, testIdentity, *committed)

	snap := f.index.Snapshot()
	assert.Equal(t, []string{"a", "b"}, snap.Documents())
	assert.Len(t, snap.Chunks("b"), 2)
	assert.Equal(t, testIdentity, *snap.Identity())
	for _, ch := range snap.Chunks("a") {
		assert.InDelta(t, 1.0, squaredNorm(ch.Vector), 1e-5)
	}
}

func squaredNorm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return s
}

func TestBuilder_Idempotent(t *testing.T) {
	f := newFixture(t, BuildOptions{}, doc("a", "one. two."), doc("b", "three."))
	ctx := context.Background()

	_, err := f.builder.Run(ctx, FullScope(), nil, nil)
	require.NoError(t, err)
	before, err := f.store.AllChunks(ctx)
	require.NoError(t, err)
	calls := f.provider.Calls()

	summary, err := f.builder.Run(ctx, FullScope(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Unchanged)
	assert.Equal(t, calls, f.provider.Calls(), "no provider calls for unchanged documents")

	after, err := f.store.AllChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBuilder_ReusesIdenticalContent(t *testing.T) {
	f := newFixture(t, BuildOptions{})
	ctx := context.Background()
	f.source.put(&models.Document{ID: "a", Title: "same", Text: "Shared body. Twice."})
	f.source.put(&models.Document{ID: "b", Title: "same", Text: "Shared body. Twice."})

	summary, err := f.builder.Run(ctx, FullScope(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Reused)
	calls := f.provider.Calls()

	summary, err = f.builder.Run(ctx, TargetedScope("a", "b"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Unchanged)
	assert.Equal(t, calls, f.provider.Calls())

	snap := f.index.Snapshot()
	require.Len(t, snap.Chunks("b"), len(snap.Chunks("a")))
	assert.Equal(t, snap.Chunks("a")[0].Vector, snap.Chunks("b")[0].Vector)
}

func TestBuilder_ExclusionsAndPrune(t *testing.T) {
	f := newFixture(t, BuildOptions{ExcludeTags: []string{"Private"}, ExcludeFolders: []string{"archive"}},
		doc("keep", "visible."),
		doc("gone", "will be deleted."),
	)
	ctx := context.Background()
	_, err := f.builder.Run(ctx, FullScope(), nil, nil)
	require.NoError(t, err)

	f.source.remove("gone")
	f.source.put(&models.Document{ID: "tagged", Title: "t", Text: "secret.", Tags: []string{"private"}})
	f.source.put(&models.Document{ID: "old", Title: "o", Text: "archived.", Folder: "archive/2020"})

	summary, err := f.builder.Run(ctx, FullScope(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Deleted)

	ids, err := f.store.DocumentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, ids)
	assert.Equal(t, []string{"keep"}, f.index.Snapshot().Documents())
}

func TestBuilder_TargetedDeletesMissing(t *testing.T) {
	f := newFixture(t, BuildOptions{}, doc("a", "alpha."), doc("b", "beta."))
	ctx := context.Background()
	_, err := f.builder.Run(ctx, FullScope(), nil, nil)
	require.NoError(t, err)

	f.source.remove("b")
	f.source.put(doc("a", "alpha changed."))
	summary, err := f.builder.Run(ctx, TargetedScope("a", "b", "never-existed"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Deleted)
	assert.Equal(t, []string{"a"}, f.index.Snapshot().Documents())
}

func TestBuilder_EmbeddingFailureSkipsDocument(t *testing.T) {
	f := newFixture(t, BuildOptions{}, doc("a", "fine."), doc("b", "poison."))
	f.provider.SetFailure(func(text string, _ int) error {
		if strings.Contains(text, "poison") {
			return errors.New("provider refused")
		}
		return nil
	})
	ctx := context.Background()

	summary, err := f.builder.Run(ctx, FullScope(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "provider refused")

	// A failed document under a first build keeps the identity uncommitted.
	committed, err := f.store.CommittedIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, committed)
	assert.Equal(t, []string{"a"}, f.index.Snapshot().Documents())
}

func TestBuilder_StopOnError(t *testing.T) {
	f := newFixture(t, BuildOptions{StopOnError: true}, doc("a", "poison."), doc("b", "fine."))
	f.provider.SetFailure(func(text string, _ int) error {
		if strings.Contains(text, "poison") {
			return errors.New("provider refused")
		}
		return nil
	})

	summary, err := f.builder.Run(context.Background(), FullScope(), nil, nil)
	var ee *embedding.EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "a", summary.FailedDocument)
	assert.Equal(t, 0, summary.Succeeded)
}

func TestBuilder_Cancelled(t *testing.T) {
	f := newFixture(t, BuildOptions{}, doc("a", "one."), doc("b", "two."))
	token := NewCancelToken()
	token.Cancel()

	_, err := f.builder.Run(context.Background(), FullScope(), token, nil)
	assert.ErrorIs(t, err, ErrCancelled)
	committed, _ := f.store.CommittedIdentity(context.Background())
	assert.Nil(t, committed, "cancelled runs do not commit")
}

func TestBuilder_StoreErrorIsFatal(t *testing.T) {
	f := newFixture(t, BuildOptions{}, doc("a", "one."))
	require.NoError(t, f.store.Close())

	_, err := f.builder.Run(context.Background(), FullScope(), nil, nil)
	var se *storage.StoreError
	assert.ErrorAs(t, err, &se)
}

func TestBuilder_DegenerateChunkSkipped(t *testing.T) {
	f := newFixture(t, BuildOptions{}, doc("a", "zero."))
	f.provider.SetVector(Decorate(models.RawBlock{HeadingTitle: "a", Text: "zero."}, "a"), make([]float32, 8))

	summary, err := f.builder.Run(context.Background(), FullScope(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, f.index.Snapshot().Chunks("a"))
}

func TestBuilder_Progress(t *testing.T) {
	f := newFixture(t, BuildOptions{PageSize: 2}, doc("a", "1."), doc("b", "2."), doc("c", "3."))
	var last [2]int
	_, err := f.builder.Run(context.Background(), FullScope(), nil, func(p, total int) {
		last = [2]int{p, total}
	})
	require.NoError(t, err)
	assert.Equal(t, [2]int{3, 3}, last)
}

func TestBuilder_ExcludedFolderPatterns(t *testing.T) {
	b := &Builder{opts: BuildOptions{ExcludeFolders: []string{"journal/*", "/tmp/"}}}
	tests := []struct {
		folder string
		want   bool
	}{
		{"journal/2024", true},
		{"journal", false},
		{"tmp", true},
		{"tmp/nested/deep", true},
		{"work", false},
		{"", false},
	}
	for _, tt := range tests {
		got := b.excluded(&models.Document{Folder: tt.folder})
		assert.Equal(t, tt.want, got, "folder %q", tt.folder)
	}
}

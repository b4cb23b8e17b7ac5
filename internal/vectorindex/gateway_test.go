package vectorindex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerianstudio/nl2sql/internal/vectorindex"
)

// fakeIndex is an in-memory vectorindex.Index, the hand-rolled-fake style
// the teacher uses for adapters instead of a real driver under test.
type fakeIndex struct {
	chunks map[string][]vectorindex.Chunk
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{chunks: make(map[string][]vectorindex.Chunk)}
}

func (f *fakeIndex) Upsert(ctx context.Context, chunks []vectorindex.Chunk) error {
	for _, c := range chunks {
		f.chunks[c.Datasource] = append(f.chunks[c.Datasource], c)
	}

	return nil
}

func (f *fakeIndex) DeleteDatasource(ctx context.Context, datasource string) error {
	delete(f.chunks, datasource)
	return nil
}

func (f *fakeIndex) All(ctx context.Context, datasource string) ([]vectorindex.Chunk, error) {
	return f.chunks[datasource], nil
}

type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vectors[text], nil
}

func TestSearchReturnsTightMatchesWhenEnough(t *testing.T) {
	idx := newFakeIndex()
	ctx := context.Background()

	_ = idx.Upsert(ctx, []vectorindex.Chunk{
		vectorindex.NewChunk("sales", vectorindex.KindTable, "orders table", []float32{1, 0, 0}, nil),
		vectorindex.NewChunk("sales", vectorindex.KindTable, "customers table", []float32{0.95, 0.31, 0}, nil),
		vectorindex.NewChunk("sales", vectorindex.KindColumn, "orders.total", []float32{0.9, 0.436, 0}, nil),
		vectorindex.NewChunk("sales", vectorindex.KindExample, "unrelated example", []float32{0, 1, 0}, nil),
	})

	embedder := &fakeEmbedder{vectors: map[string][]float32{"orders revenue": {1, 0, 0}}}
	gw := vectorindex.NewGateway(idx, embedder, vectorindex.Thresholds{MinHits: 2}, nil)

	results, err := gw.Search(ctx, "sales", "orders revenue", 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(results), 2)

	for _, r := range results {
		assert.NotEqual(t, "unrelated example", r.Content)
	}
}

func TestSearchFallsBackToRelaxedThresholdWithVoting(t *testing.T) {
	idx := newFakeIndex()
	ctx := context.Background()

	_ = idx.Upsert(ctx, []vectorindex.Chunk{
		vectorindex.NewChunk("sales", vectorindex.KindTable, "orders table", []float32{0.866, 0.5, 0}, nil),
		vectorindex.NewChunk("sales", vectorindex.KindColumn, "orders.total", []float32{0.707, 0.707, 0}, nil),
	})

	embedder := &fakeEmbedder{vectors: map[string][]float32{"orders": {1, 0, 0}}}
	thresholds := vectorindex.Thresholds{L1: 0.95, L2: 0.5, MinHits: 5, VoteKinds: 2}
	gw := vectorindex.NewGateway(idx, embedder, thresholds, nil)

	results, err := gw.Search(ctx, "sales", "orders", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchSuppressesNoisySingleKindRelaxedResults(t *testing.T) {
	idx := newFakeIndex()
	ctx := context.Background()

	_ = idx.Upsert(ctx, []vectorindex.Chunk{
		vectorindex.NewChunk("sales", vectorindex.KindExample, "loosely related example one", []float32{0.643, 0.766, 0}, nil),
		vectorindex.NewChunk("sales", vectorindex.KindExample, "loosely related example two", []float32{0.574, 0.819, 0}, nil),
	})

	embedder := &fakeEmbedder{vectors: map[string][]float32{"orders": {1, 0, 0}}}
	thresholds := vectorindex.Thresholds{L1: 0.95, L2: 0.5, MinHits: 5, VoteKinds: 2}
	gw := vectorindex.NewGateway(idx, embedder, thresholds, nil)

	results, err := gw.Search(ctx, "sales", "orders", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestContentIDIsStableAndContentAddressed(t *testing.T) {
	id1 := vectorindex.ContentID("sales", vectorindex.KindTable, "orders table")
	id2 := vectorindex.ContentID("sales", vectorindex.KindTable, "orders table")
	id3 := vectorindex.ContentID("sales", vectorindex.KindTable, "customers table")

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
}

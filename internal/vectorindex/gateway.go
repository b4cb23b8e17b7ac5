package vectorindex

import (
	"context"
	"sort"

	"github.com/lerianstudio/nl2sql/internal/resilience"
)

// Thresholds configures the two-layer retrieval search.
type Thresholds struct {
	// L1 is the tight cosine-similarity cutoff tried first.
	L1 float64
	// L2 is the relaxed cutoff tried only when L1 returns fewer than MinHits
	// results.
	L2 float64
	// MinHits is how many L1 hits are enough to skip the L2 fallback.
	MinHits int
	// VoteKinds requires at least this many distinct Kinds represented among
	// the L2 candidates before any of them are trusted, suppressing noisy
	// single-kind matches at the relaxed threshold.
	VoteKinds int
}

func (t Thresholds) withDefaults() Thresholds {
	if t.L1 == 0 {
		t.L1 = 0.82
	}

	if t.L2 == 0 {
		t.L2 = 0.65
	}

	if t.MinHits == 0 {
		t.MinHits = 3
	}

	if t.VoteKinds == 0 {
		t.VoteKinds = 2
	}

	return t
}

// Index is the storage backend a Gateway searches over. Implementations
// need not support real vector-similarity search at the SQL layer — Search
// loads all of a datasource's chunks and ranks them in Go, matching the
// non-cgo fallback this package is grounded on.
type Index interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	DeleteDatasource(ctx context.Context, datasource string) error
	All(ctx context.Context, datasource string) ([]Chunk, error)
}

// Embedder turns query text into the same embedding space the indexed
// chunks live in. Kept as a narrow seam so the concrete embedding model is
// never hard-wired into the gateway.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Gateway is the component spec.md names: it embeds a query, ranks chunks by
// cosine similarity, and applies the two-layer threshold before returning.
type Gateway struct {
	index      Index
	embedder   Embedder
	thresholds Thresholds
	breaker    *resilience.Breaker
}

// NewGateway builds a Gateway. breaker may be nil, in which case Embed calls
// are not circuit-protected (useful for local/offline embedders).
func NewGateway(index Index, embedder Embedder, thresholds Thresholds, breaker *resilience.Breaker) *Gateway {
	return &Gateway{index: index, embedder: embedder, thresholds: thresholds.withDefaults(), breaker: breaker}
}

type scored struct {
	chunk Chunk
	score float64
}

// Search embeds query, ranks every chunk indexed for datasource, and returns
// up to topK chunks. It first tries the L1 tight threshold; if that yields
// fewer than MinHits results, it falls back to the L2 relaxed threshold, but
// only trusts the relaxed results when they span at least VoteKinds distinct
// chunk kinds — a single kind dominating the relaxed results is treated as
// noise rather than signal.
func (g *Gateway) Search(ctx context.Context, datasource, query string, topK int) ([]Chunk, error) {
	embedding, err := g.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	chunks, err := g.index.All(ctx, datasource)
	if err != nil {
		return nil, err
	}

	ranked := rank(chunks, embedding)

	l1 := filterByThreshold(ranked, g.thresholds.L1)
	if len(l1) >= g.thresholds.MinHits {
		return topN(l1, topK), nil
	}

	l2 := filterByThreshold(ranked, g.thresholds.L2)
	if countDistinctKinds(l2) < g.thresholds.VoteKinds {
		return topN(l1, topK), nil
	}

	return topN(l2, topK), nil
}

func (g *Gateway) embed(ctx context.Context, text string) ([]float32, error) {
	if g.breaker == nil {
		return g.embedder.Embed(ctx, text)
	}

	result, err := g.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return g.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}

	return result.([]float32), nil
}

func rank(chunks []Chunk, query []float32) []scored {
	out := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, scored{chunk: c, score: cosineSimilarity(c.Embedding, query)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })

	return out
}

func filterByThreshold(ranked []scored, threshold float64) []scored {
	out := make([]scored, 0, len(ranked))

	for _, s := range ranked {
		if s.score >= threshold {
			out = append(out, s)
		}
	}

	return out
}

func countDistinctKinds(ranked []scored) int {
	kinds := make(map[Kind]struct{})
	for _, s := range ranked {
		kinds[s.chunk.Kind] = struct{}{}
	}

	return len(kinds)
}

func topN(ranked []scored, n int) []Chunk {
	if n <= 0 || n > len(ranked) {
		n = len(ranked)
	}

	out := make([]Chunk, 0, n)
	for _, s := range ranked[:n] {
		out = append(out, s.chunk)
	}

	return out
}

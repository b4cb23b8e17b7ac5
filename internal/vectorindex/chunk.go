// Package vectorindex implements the two-layer threshold retrieval gateway
// spec.md names: chunks are embedded, content-addressed for idempotent
// re-indexing, and searched via a tight L1 threshold falling back to a
// relaxed L2 threshold with per-chunk-kind voting. Grounded on
// theRebelliousNerd/codenerd's non-cgo vector store fallback path
// (embeddings as JSON blobs in plain SQLite, similarity computed in Go)
// rather than the same repo's cgo sqlite-vec extension — see DESIGN.md for
// why the cgo path was not wired.
package vectorindex

import (
	"crypto/sha256"
	"encoding/hex"
)

// Kind classifies what a Chunk describes, matching spec.md's chunk kinds.
type Kind string

const (
	KindTable       Kind = "table"
	KindColumn      Kind = "column"
	KindExample     Kind = "example"
	KindDescription Kind = "description"
)

// Chunk is one embeddable unit of schema or example knowledge for a
// datasource.
type Chunk struct {
	ID         string
	Datasource string
	Kind       Kind
	Content    string
	Embedding  []float32
	Metadata   map[string]string
}

// ContentID derives a stable, content-addressed chunk ID from datasource,
// kind and content, so re-indexing the same schema produces the same IDs
// (an UPSERT, not a duplicate insert) — the idempotent re-indexing property
// spec.md requires.
func ContentID(datasource string, kind Kind, content string) string {
	h := sha256.New()
	h.Write([]byte(datasource))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(content))

	return hex.EncodeToString(h.Sum(nil))
}

// NewChunk builds a Chunk with its ID derived from ContentID, so callers
// never construct an ID by hand and risk an inconsistent one.
func NewChunk(datasource string, kind Kind, content string, embedding []float32, metadata map[string]string) Chunk {
	return Chunk{
		ID:         ContentID(datasource, kind, content),
		Datasource: datasource,
		Kind:       kind,
		Content:    content,
		Embedding:  embedding,
		Metadata:   metadata,
	}
}

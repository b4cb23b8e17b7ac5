package stage

import (
	"context"
	"fmt"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/schema"
	"github.com/lerianstudio/nl2sql/internal/vectorindex"
)

// SchemaRetrieverNode searches the VectorIndex Gateway for every configured
// datasource and accumulates the candidate tables/examples the Decomposer
// needs to route SubQueries, per spec.md's data flow: "Semantic →
// IntentValidator → (VectorIndex retrieval) → Decomposer".
type SchemaRetrieverNode struct {
	index       *vectorindex.Gateway
	schemaStore schema.Store
	topK        int
}

// NewSchemaRetrieverNode builds the SchemaRetriever stage. topK bounds how
// many chunks are retrieved per datasource; 0 uses a sane default.
func NewSchemaRetrieverNode(index *vectorindex.Gateway, schemaStore schema.Store, topK int) *SchemaRetrieverNode {
	if topK <= 0 {
		topK = 8
	}

	return &SchemaRetrieverNode{index: index, schemaStore: schemaStore, topK: topK}
}

func (n *SchemaRetrieverNode) Name() string { return "schema_retriever" }

func (n *SchemaRetrieverNode) Run(ctx context.Context, state pipeline.State) (pipeline.Delta, error) {
	snapshots := n.schemaStore.List()

	var relevant []string

	var events []pipeline.ReasoningEvent

	for _, snap := range snapshots {
		chunks, err := n.index.Search(ctx, snap.Datasource, state.UserQuery, n.topK)
		if err != nil {
			return pipeline.Delta{}, err
		}

		for _, c := range chunks {
			switch c.Kind {
			case vectorindex.KindTable, vectorindex.KindColumn:
				relevant = append(relevant, snap.Datasource+"."+tableNameFromChunk(c))
			case vectorindex.KindExample, vectorindex.KindDescription:
				// Signal-density rule (spec.md §4.9): an example match
				// alone still routes to this datasource even with no
				// matched table, so record the datasource itself.
				relevant = append(relevant, snap.Datasource+".*")
			}
		}

		if len(chunks) > 0 {
			events = append(events, event(n.Name(), fmt.Sprintf("retrieved %d chunks for datasource %s", len(chunks), snap.Datasource)))
		}
	}

	return pipeline.Delta{
		RelevantTables: dedupeStrings(relevant),
		NewEvents:      events,
	}, nil
}

func tableNameFromChunk(c vectorindex.Chunk) string {
	if name, ok := c.Metadata["table"]; ok {
		return name
	}

	return c.Content
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))

	out := make([]string, 0, len(in))

	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}

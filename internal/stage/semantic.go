package stage

import (
	"context"
	"regexp"
	"strings"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
)

// SemanticNode normalizes the raw user query and extracts a coarse set of
// entity tokens, per spec.md §4.9: "normalizes the query, extracts
// entities, emits hints". It runs no LLM and no I/O — later stages
// (SchemaRetriever, Decomposer) are where those entities get resolved
// against real tables.
type SemanticNode struct{}

// NewSemanticNode builds the Semantic stage.
func NewSemanticNode() *SemanticNode {
	return &SemanticNode{}
}

func (s *SemanticNode) Name() string { return "semantic" }

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

func (s *SemanticNode) Run(_ context.Context, state pipeline.State) (pipeline.Delta, error) {
	normalized := strings.Join(strings.Fields(state.UserQuery), " ")

	entities := extractEntities(normalized)

	msg := "normalized query"
	if len(entities) > 0 {
		msg = "normalized query, candidate entities: " + strings.Join(entities, ", ")
	}

	return pipeline.Delta{
		NewEvents: []pipeline.ReasoningEvent{event(s.Name(), msg)},
	}, nil
}

// extractEntities pulls candidate identifier-shaped tokens out of the
// normalized query. They are reported in this node's reasoning event only;
// the SchemaRetriever searches the VectorIndex with the raw query text.
func extractEntities(normalized string) []string {
	matches := wordPattern.FindAllString(normalized, -1)

	seen := make(map[string]struct{}, len(matches))

	entities := make([]string, 0, len(matches))

	for _, m := range matches {
		lower := strings.ToLower(m)
		if len(lower) < 3 {
			continue
		}

		if _, ok := stopwords[lower]; ok {
			continue
		}

		if _, dup := seen[lower]; dup {
			continue
		}

		seen[lower] = struct{}{}
		entities = append(entities, lower)
	}

	return entities
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "are": {}, "was": {}, "how": {}, "many": {}, "what": {},
	"show": {}, "list": {}, "all": {}, "get": {},
}

package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
)

// DecomposerNode receives (user_query, candidate_tables_per_datasource) and
// produces the SubQuery DAG, per spec.md §4.9. It applies the
// signal-density rule: a datasource routed to by an example match alone
// (no matched table, RelevantTables entry "ds.*") is still a valid route.
// Single-datasource queries always produce exactly one SubQuery.
type DecomposerNode struct{}

// NewDecomposerNode builds the Decomposer stage.
func NewDecomposerNode() *DecomposerNode {
	return &DecomposerNode{}
}

func (d *DecomposerNode) Name() string { return "decomposer" }

func (d *DecomposerNode) Run(_ context.Context, state pipeline.State) (pipeline.Delta, error) {
	datasources := datasourcesFromRelevantTables(state.RelevantTables)

	subQueries := make([]pipeline.SubQuery, 0, len(datasources))

	for i, ds := range datasources {
		subQueries = append(subQueries, pipeline.SubQuery{
			ID:         fmt.Sprintf("sq%d", i+1),
			Text:       state.UserQuery,
			Datasource: ds,
		})
	}

	msg := fmt.Sprintf("decomposed into %d sub-queries across datasources: %s", len(subQueries), strings.Join(datasources, ", "))

	return pipeline.Delta{
		FreezeSubQueries: subQueries,
		NewEvents:        []pipeline.ReasoningEvent{event(d.Name(), msg)},
	}, nil
}

// datasourcesFromRelevantTables extracts the distinct datasource prefix
// ("ds" from "ds.table" or "ds.*") out of every RelevantTables entry, sorted
// for a deterministic SubQuery ID assignment.
func datasourcesFromRelevantTables(relevant []string) []string {
	seen := make(map[string]struct{}, len(relevant))

	for _, r := range relevant {
		ds, _, found := strings.Cut(r, ".")
		if !found {
			ds = r
		}

		seen[ds] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for ds := range seen {
		out = append(out, ds)
	}

	sort.Strings(out)

	return out
}

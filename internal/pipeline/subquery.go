package pipeline

import "github.com/lerianstudio/nl2sql/internal/pipelineerr"

// SubQuery is one atomic, single-datasource question produced by
// decomposition, per spec.md §3: {id, text, datasource_id, depends_on}.
type SubQuery struct {
	ID         string
	Text       string
	Datasource string
	DependsOn  []string
}

// SubQueryGraph is the DAG the Decomposer produces: an adjacency list keyed
// by SubQuery ID, used by the runtime to compute fan-out layers.
type SubQueryGraph struct {
	nodes map[string]SubQuery
}

// NewSubQueryGraph builds a graph from subQueries. It does not validate
// acyclicity itself — callers should call TopologicalLayers, which returns a
// LOGICAL_VALIDATION_FAILED error when the graph has a cycle.
func NewSubQueryGraph(subQueries []SubQuery) *SubQueryGraph {
	nodes := make(map[string]SubQuery, len(subQueries))
	for _, sq := range subQueries {
		nodes[sq.ID] = sq
	}

	return &SubQueryGraph{nodes: nodes}
}

// TopologicalLayers groups SubQuery IDs into successive layers: layer 0 has
// no dependencies, layer N depends only on IDs in layers < N. Every layer can
// fan out concurrently; layers themselves run in order. Returns an error if
// the dependency graph contains a cycle (a node whose dependencies never
// fully resolve).
func (g *SubQueryGraph) TopologicalLayers() ([][]string, error) {
	remaining := make(map[string][]string, len(g.nodes))
	for id, sq := range g.nodes {
		remaining[id] = append([]string(nil), sq.DependsOn...)
	}

	var layers [][]string

	for len(remaining) > 0 {
		var layer []string

		for id, deps := range remaining {
			if allSatisfied(deps, remaining) {
				layer = append(layer, id)
			}
		}

		if len(layer) == 0 {
			return nil, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
				"sub-query dependency graph contains a cycle")
		}

		for _, id := range layer {
			delete(remaining, id)
		}

		layers = append(layers, layer)
	}

	return layers, nil
}

// allSatisfied reports whether every id in deps has already been removed
// from remaining (i.e. scheduled into an earlier layer).
func allSatisfied(deps []string, remaining map[string][]string) bool {
	for _, d := range deps {
		if _, stillPending := remaining[d]; stillPending {
			return false
		}
	}

	return true
}

// IDs returns every SubQuery ID in the graph, in no particular order.
func (g *SubQueryGraph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}

	return ids
}

// Get returns the SubQuery for id.
func (g *SubQueryGraph) Get(id string) (SubQuery, bool) {
	sq, ok := g.nodes[id]
	return sq, ok
}

package stage

import (
	"context"
	"fmt"
	"sort"

	"github.com/lerianstudio/nl2sql/internal/adapter"
	"github.com/lerianstudio/nl2sql/internal/artifact"
	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/sandbox"
	"github.com/lerianstudio/nl2sql/internal/schema"
)

// ExecutorNode asks the Sandbox to execute the validated SQL draft, writes
// the result to the Artifact Store, and records the ref in SubResults, per
// spec.md §4.9. The only safeguard applied is the sandbox exec pool's
// per-task timeout; no row or byte limit is placed on the result.
type ExecutorNode struct {
	sandbox     *sandbox.Manager
	artifacts   artifact.Store
	schemaStore schema.Store
	requestID   string
}

// NewExecutorNode builds the Executor stage. requestID scopes every
// artifact this stage writes under the Artifact Store's path template.
func NewExecutorNode(sb *sandbox.Manager, artifacts artifact.Store, schemaStore schema.Store, requestID string) *ExecutorNode {
	return &ExecutorNode{sandbox: sb, artifacts: artifacts, schemaStore: schemaStore, requestID: requestID}
}

func (x *ExecutorNode) Name() string { return "executor" }

func (x *ExecutorNode) Run(ctx context.Context, state pipeline.State) (pipeline.Delta, error) {
	if state.Plan == nil {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeExecutionFailed,
			"executor invoked with no plan").WithNode(x.Name(), "")
	}

	datasource := state.Plan.Datasource
	subQueryID := subQueryIDForDatasource(state, datasource)

	sql, ok := state.SQLDraft[subQueryID]
	if !ok {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeExecutionFailed,
			"no SQL draft to execute for "+subQueryID).WithNode(x.Name(), subQueryID)
	}

	result, err := x.sandbox.Execute(ctx, datasource, sql, nil)
	if err != nil {
		return pipeline.Delta{}, wrapNodeErr(err, x.Name())
	}

	columns := columnsOf(result.Rows)
	execResult := toExecutionResult(columns, result.Rows)

	var schemaVersion string
	if snap, ok := x.schemaStore.Get(datasource); ok {
		schemaVersion = string(snap.Fingerprint)
	}

	ref := artifact.Ref{
		Tenant:   state.TenantID,
		Request:  x.requestID,
		Subgraph: datasource,
		Node:     subQueryID,
		Version:  1,
		Part:     0,
		Ext:      "msgpack",
	}

	batch := artifact.RowsToBatch(rowsAsMaps(result.Rows), columns)

	data, err := artifact.Encode(batch)
	if err != nil {
		return pipeline.Delta{}, pipelineerr.Wrap(pipelineerr.CodeExecutionFailed,
			"failed to encode result artifact for "+subQueryID, err).WithNode(x.Name(), subQueryID)
	}

	if err := x.artifacts.Put(ctx, ref, data); err != nil {
		return pipeline.Delta{}, pipelineerr.Wrap(pipelineerr.CodeExecutionFailed,
			"failed to persist result artifact for "+subQueryID, err).WithNode(x.Name(), subQueryID)
	}

	return pipeline.Delta{
		Execution: map[string]pipeline.ExecutionResult{subQueryID: execResult},
		SubResults: map[string]pipeline.ResultArtifactRef{
			subQueryID: {
				URI:           ref.Path(),
				TenantID:      state.TenantID,
				RequestID:     x.requestID,
				SubgraphName:  datasource,
				DAGNodeID:     subQueryID,
				SchemaVersion: schemaVersion,
			},
		},
		NewEvents: []pipeline.ReasoningEvent{event(x.Name(), fmt.Sprintf("executed %s: %d rows", subQueryID, len(result.Rows)))},
	}, nil
}

// columnsOf derives a stable column order for rows. adapter.Row is a
// map[string]any, and Go's map iteration order is randomized, so the union
// of every row's keys is sorted lexicographically rather than taken in
// iteration order — otherwise execResult.Columns, the persisted artifact's
// column order, and the final answer's column order (when the ResultPlan
// root is a bare leaf) would all vary across runs of the same query.
func columnsOf(rows []adapter.Row) []string {
	seen := make(map[string]struct{})

	var columns []string

	for _, r := range rows {
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				columns = append(columns, k)
			}
		}
	}

	sort.Strings(columns)

	return columns
}

func rowsAsMaps(rows []adapter.Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r)
	}

	return out
}

func toExecutionResult(columns []string, rows []adapter.Row) pipeline.ExecutionResult {
	out := make([][]any, len(rows))

	for i, r := range rows {
		row := make([]any, len(columns))
		for c, name := range columns {
			row[c] = r[name]
		}

		out[i] = row
	}

	return pipeline.ExecutionResult{Columns: columns, Rows: out}
}

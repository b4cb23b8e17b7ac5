// Package pipeline holds the per-request PipelineState value type and the
// Delta/merge mechanism stage nodes use to propose changes to it, per
// SPEC_FULL.md §9's message-passing rearchitecture: a stage never mutates
// State in place, it returns a Delta the runtime merges under a
// single-writer discipline.
package pipeline

import (
	"time"

	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/planmodel"
	"github.com/lerianstudio/nl2sql/internal/policy"
	"github.com/lerianstudio/nl2sql/internal/resultplan"
)

// ReasoningEvent is one structured entry in State.Reasoning — an audit trail
// of what each stage decided, independent of the process log.
type ReasoningEvent struct {
	Stage     string
	Message   string
	Timestamp time.Time
}

// State is the immutable-by-convention per-request pipeline state: every
// field spec.md §3 names for PipelineState. Stages never mutate a State they
// receive; they return a Delta describing what should change.
type State struct {
	TraceID        string
	TenantID       string
	UserQuery      string
	UserContext    policy.UserContext
	RelevantTables []string

	Plan *planmodel.Plan

	SubQueries []SubQuery
	SubResults map[string]ResultArtifactRef

	SQLDraft   map[string]string // SubQuery.ID -> generated SQL
	Execution  map[string]ExecutionResult
	ResultPlan *resultplan.Plan

	Errors     []*pipelineerr.Error
	Warnings   []string
	Reasoning  []ReasoningEvent
	RetryCount map[string]int // node/SubQuery ID -> attempts so far

	FinalAnswer string
}

// ExecutionResult is the row/column shape Execute returns for a SubQuery,
// kept on State only transiently — the durable form lives in the Artifact
// Store, referenced by ResultArtifactRef.
type ExecutionResult struct {
	Columns []string
	Rows    [][]any
}

// ResultArtifactRef is the Go representation of spec.md's ResultArtifactRef
// entity: an address into the Artifact Store, not the data itself.
type ResultArtifactRef struct {
	URI           string
	TenantID      string
	RequestID     string
	SubgraphName  string
	DAGNodeID     string
	SchemaVersion string
}

// NewState builds the initial State for one request. SubQueries is left nil
// until the Decomposer stage freezes it per the "after decomposition,
// sub_queries is frozen" invariant.
func NewState(traceID, tenantID, userQuery string, uc policy.UserContext) State {
	return State{
		TraceID:     traceID,
		TenantID:    tenantID,
		UserQuery:   userQuery,
		UserContext: uc,
		SubResults:  make(map[string]ResultArtifactRef),
		SQLDraft:    make(map[string]string),
		Execution:   make(map[string]ExecutionResult),
		RetryCount:  make(map[string]int),
	}
}

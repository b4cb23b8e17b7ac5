package pipeline

import (
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/planmodel"
	"github.com/lerianstudio/nl2sql/internal/resultplan"
)

// Delta is what a stage.Node returns instead of a mutated State: the set of
// changes the runtime should apply. Zero-valued fields mean "no change" —
// Delta never needs an explicit "unset" since PipelineState fields are
// append-only or replace-whole-value by spec.md's own invariants.
type Delta struct {
	Plan       *planmodel.Plan
	ResultPlan *resultplan.Plan

	RelevantTables []string // appended, not replaced

	FreezeSubQueries []SubQuery // set exactly once by the Decomposer

	SQLDraft  map[string]string
	Execution map[string]ExecutionResult

	SubResults map[string]ResultArtifactRef

	NewErrors   []*pipelineerr.Error
	NewWarnings []string
	NewEvents   []ReasoningEvent

	IncrementRetry string // SubQuery/node ID whose RetryCount should be bumped by one

	FinalAnswer string
}

// Merge applies d onto a copy of s and returns the new State, leaving s
// unmodified — the single-writer discipline spec.md §9 requires: only the
// runtime ever calls Merge, and it does so serially per request.
func Merge(s State, d Delta) State {
	next := s

	if d.Plan != nil {
		next.Plan = d.Plan
	}

	if d.ResultPlan != nil {
		next.ResultPlan = d.ResultPlan
	}

	next.RelevantTables = append(append([]string(nil), s.RelevantTables...), d.RelevantTables...)

	if d.FreezeSubQueries != nil {
		next.SubQueries = d.FreezeSubQueries
	}

	if len(d.SQLDraft) > 0 {
		next.SQLDraft = mergeStringMap(s.SQLDraft, d.SQLDraft)
	}

	if len(d.Execution) > 0 {
		next.Execution = mergeExecutionMap(s.Execution, d.Execution)
	}

	if len(d.SubResults) > 0 {
		next.SubResults = mergeRefMap(s.SubResults, d.SubResults)
	}

	if len(d.NewErrors) > 0 {
		next.Errors = append(append([]*pipelineerr.Error(nil), s.Errors...), d.NewErrors...)
	}

	if len(d.NewWarnings) > 0 {
		next.Warnings = append(append([]string(nil), s.Warnings...), d.NewWarnings...)
	}

	if len(d.NewEvents) > 0 {
		next.Reasoning = append(append([]ReasoningEvent(nil), s.Reasoning...), d.NewEvents...)
	}

	if d.IncrementRetry != "" {
		next.RetryCount = mergeRetryIncrement(s.RetryCount, d.IncrementRetry)
	}

	if d.FinalAnswer != "" {
		next.FinalAnswer = d.FinalAnswer
	}

	return next
}

func mergeStringMap(base, updates map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}

	for k, v := range updates {
		out[k] = v
	}

	return out
}

func mergeExecutionMap(base, updates map[string]ExecutionResult) map[string]ExecutionResult {
	out := make(map[string]ExecutionResult, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}

	for k, v := range updates {
		out[k] = v
	}

	return out
}

func mergeRefMap(base, updates map[string]ResultArtifactRef) map[string]ResultArtifactRef {
	out := make(map[string]ResultArtifactRef, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}

	for k, v := range updates {
		out[k] = v
	}

	return out
}

func mergeRetryIncrement(base map[string]int, id string) map[string]int {
	out := make(map[string]int, len(base)+1)
	for k, v := range base {
		out[k] = v
	}

	out[id]++

	return out
}

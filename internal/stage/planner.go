package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lerianstudio/nl2sql/internal/llmgateway"
	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/planmodel"
)

// PlannerNode produces a planmodel.Plan for every SubQuery it is invoked
// with, per spec.md §4.9. It calls the LLM Gateway with a fixed
// structured-output schema rather than free text, and refuses to proceed on
// a malformed response rather than guessing at a plan. It runs scoped to
// exactly one SubQuery at a time inside the SQL Agent (sqlagent.Agent), so it
// never sees enough of the request to build the global ResultPlan itself —
// that is ResultPlanNode's job, run once after every SubQuery has settled.
type PlannerNode struct {
	llm *llmgateway.Gateway
}

// NewPlannerNode builds the Planner stage over llm.
func NewPlannerNode(llm *llmgateway.Gateway) *PlannerNode {
	return &PlannerNode{llm: llm}
}

func (p *PlannerNode) Name() string { return "planner" }

const plannerSystemPrompt = `You are the planning stage of a natural-language-to-SQL pipeline. ` +
	`Given a sub-query and its target datasource, respond with ONLY a JSON object of this exact shape ` +
	`(no prose, no markdown fences): {"from": "<table>", "columns": ["<col>", ...], ` +
	`"where_column": "<col or empty>", "where_op": "<= | < | = | > | >= or empty>", "where_value": <literal or null>, "limit": <int>}`

// plannerResponse is the fixed structured-output shape the Planner requires
// from the LLM Gateway.
type plannerResponse struct {
	From        string `json:"from"`
	Columns     []string `json:"columns"`
	WhereColumn string `json:"where_column"`
	WhereOp     string `json:"where_op"`
	WhereValue  any    `json:"where_value"`
	Limit       int    `json:"limit"`
}

func (p *PlannerNode) Run(ctx context.Context, state pipeline.State) (pipeline.Delta, error) {
	if len(state.SubQueries) == 0 {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
			"planner invoked with no frozen sub-queries").WithNode(p.Name(), "")
	}

	sqlDraftPlans := make(map[string]*planmodel.Plan, len(state.SubQueries))

	var events []pipeline.ReasoningEvent

	for _, sq := range state.SubQueries {
		resp, err := p.llm.Invoke(ctx, llmgateway.Request{
			SystemPrompt: plannerSystemPrompt,
			UserPrompt:   fmt.Sprintf("sub-query: %s\ndatasource: %s", sq.Text, sq.Datasource),
		})
		if err != nil {
			return pipeline.Delta{}, err
		}

		var parsed plannerResponse
		if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
			return pipeline.Delta{}, pipelineerr.Wrap(pipelineerr.CodeLogicalValidationFailed,
				"planner LLM response was not valid structured output", err).WithNode(p.Name(), sq.ID)
		}

		if parsed.From == "" {
			return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
				"planner LLM response missing required \"from\" table").WithNode(p.Name(), sq.ID)
		}

		plan := buildPlan(sq.Datasource, parsed)
		sqlDraftPlans[sq.ID] = plan

		events = append(events, event(p.Name(), fmt.Sprintf("planned sub-query %s against %s.%s", sq.ID, sq.Datasource, parsed.From)))
	}

	// Only the first SubQuery's plan becomes State.Plan — spec.md's
	// PipelineState names a single "plan" field assigned by the Planner;
	// per-SubQuery plans live in SQLDraft once rendered by the Generator.
	var firstPlan *planmodel.Plan
	for _, sq := range state.SubQueries {
		firstPlan = sqlDraftPlans[sq.ID]
		break
	}

	return pipeline.Delta{
		Plan:      firstPlan,
		NewEvents: events,
	}, nil
}

func buildPlan(datasource string, parsed plannerResponse) *planmodel.Plan {
	items := make([]planmodel.Expr, 0, len(parsed.Columns))
	for _, c := range parsed.Columns {
		items = append(items, planmodel.ColumnRef{Column: c})
	}

	plan := &planmodel.Plan{
		Datasource:    datasource,
		StatementType: planmodel.StatementSelect,
		SelectItems:   items,
		From:          parsed.From,
		Limit:         parsed.Limit,
	}

	if parsed.WhereColumn != "" && parsed.WhereOp != "" {
		plan.Filters = planmodel.BinaryExpr{
			Op:    planmodel.BinaryOp(parsed.WhereOp),
			Left:  planmodel.ColumnRef{Column: parsed.WhereColumn},
			Right: planmodel.Literal{Kind: "dynamic", Value: parsed.WhereValue},
		}
	}

	return plan
}

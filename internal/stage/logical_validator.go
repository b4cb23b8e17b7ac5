package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/planmodel"
	"github.com/lerianstudio/nl2sql/internal/policy"
	"github.com/lerianstudio/nl2sql/internal/schema"
)

// LogicalValidatorNode checks that referenced columns and joined tables
// exist in the authoritative schema (column types are not checked), and
// enforces RBAC
// against UserContext and the RolePolicy, per spec.md §4.9. A security
// violation is fatal; every other failure is LOGICAL_VALIDATION_FAILED and
// retryable through the Refiner loop.
type LogicalValidatorNode struct {
	schemaStore schema.Store
	policy      *policy.Engine
}

// NewLogicalValidatorNode builds the LogicalValidator stage.
func NewLogicalValidatorNode(schemaStore schema.Store, policyEngine *policy.Engine) *LogicalValidatorNode {
	return &LogicalValidatorNode{schemaStore: schemaStore, policy: policyEngine}
}

func (l *LogicalValidatorNode) Name() string { return "logical_validator" }

func (l *LogicalValidatorNode) Run(_ context.Context, state pipeline.State) (pipeline.Delta, error) {
	if state.Plan == nil {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
			"logical validator invoked with no plan").WithNode(l.Name(), "")
	}

	plan := state.Plan

	if !l.policy.Allowed(state.UserContext, plan.Datasource, plan.From) {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeSecurityViolation,
			fmt.Sprintf("access to %s.%s is not permitted for role %s", plan.Datasource, plan.From, state.UserContext.Role)).
			WithNode(l.Name(), "")
	}

	for _, j := range plan.Joins {
		if !l.policy.Allowed(state.UserContext, plan.Datasource, j.Table) {
			return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeSecurityViolation,
				fmt.Sprintf("access to join target %s.%s is not permitted for role %s", plan.Datasource, j.Table, state.UserContext.Role)).
				WithNode(l.Name(), "")
		}
	}

	snap, ok := l.schemaStore.Get(plan.Datasource)
	if !ok {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeSchemaVersionMismatch,
			"no schema snapshot indexed for datasource "+plan.Datasource).WithNode(l.Name(), "")
	}

	if err := planmodel.Validate(plan, snap); err != nil {
		return pipeline.Delta{}, wrapNodeErr(err, l.Name())
	}

	return pipeline.Delta{
		NewEvents: []pipeline.ReasoningEvent{event(l.Name(), "plan validated against "+plan.Datasource+" ("+joinedColumns(plan)+")")},
	}, nil
}

func wrapNodeErr(err error, nodeID string) error {
	if pe, ok := pipelineerr.As(err); ok {
		return pe.WithNode(nodeID, pe.SubQuery)
	}

	return err
}

func joinedColumns(plan *planmodel.Plan) string {
	names := make([]string, 0, len(plan.SelectItems))
	for _, e := range plan.SelectItems {
		if c, ok := e.(planmodel.ColumnRef); ok {
			names = append(names, c.Column)
		}
	}

	if len(names) == 0 {
		return "*"
	}

	return strings.Join(names, ", ")
}

package graph

import (
	"context"
	"errors"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/models"
)

// ConditionalLogic holds the routing rules of the orchestration graph. The
// revision ceiling is enforced here whatever the evaluator reports.
type ConditionalLogic struct {
	MaxRevisions int
}

func NewConditionalLogic(maxRevisions int) *ConditionalLogic {
	if maxRevisions < 0 {
		maxRevisions = 0
	}
	return &ConditionalLogic{MaxRevisions: maxRevisions}
}

// AfterValidate fans out to the research branches only for a valid ticker.
func (cl *ConditionalLogic) AfterValidate(valid bool) string {
	if valid {
		return consts.Fanout
	}
	return consts.Terminate
}

// AfterEvaluate terminates on a compliant result or once the revision
// counter has passed the ceiling; otherwise the loop re-enters aggregate.
func (cl *ConditionalLogic) AfterEvaluate(compliant bool, revisions int) string {
	if compliant || revisions > cl.MaxRevisions {
		return consts.Terminate
	}
	return consts.Aggregate
}

// MaxRunSteps bounds the Pregel super-steps of one run: validate, fanout,
// the branch step and terminate, plus aggregate and evaluate per pass.
func (cl *ConditionalLogic) MaxRunSteps() int {
	return 2*(cl.MaxRevisions+2) + 6
}

var errMissingRoute = errors.New("delta carries no routing field")

func (cl *ConditionalLogic) validateHandOff(_ context.Context, d *models.Delta) (string, error) {
	if d == nil || d.IsTickerValid == nil {
		return consts.Terminate, nil
	}
	return cl.AfterValidate(*d.IsTickerValid), nil
}

func (cl *ConditionalLogic) evaluateHandOff(_ context.Context, d *models.Delta) (string, error) {
	if d == nil || d.Compliant == nil || d.RevisionIterationCount == nil {
		return "", errMissingRoute
	}
	return cl.AfterEvaluate(*d.Compliant, *d.RevisionIterationCount), nil
}

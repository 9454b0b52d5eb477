package agents

import (
	"context"
	"time"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/models"
)

// Subject is the read-only context a research capability works from.
type Subject struct {
	models.Identity
	Industry   string
	Business   string
	TickerInfo *models.TickerInfo
	AsOf       time.Time
}

// SubjectOf snapshots the parts of st a capability may read.
func SubjectOf(st *models.State, now time.Time) Subject {
	return Subject{
		Identity:   st.Identity(),
		Industry:   st.IndustryName(),
		Business:   st.BusinessName(),
		TickerInfo: st.TickerInfo,
		AsOf:       now,
	}
}

// DisplayName is the business name when validation found one, else the ticker.
func (s Subject) DisplayName() string {
	if s.Business != "" {
		return s.Business
	}
	return s.Ticker
}

// Analyst produces one branch's sentiment judgment.
type Analyst interface {
	Analyze(ctx context.Context, subject Subject) (models.Sentiment, models.Usage, error)
}

type AnalystFunc func(ctx context.Context, subject Subject) (models.Sentiment, models.Usage, error)

func (f AnalystFunc) Analyze(ctx context.Context, subject Subject) (models.Sentiment, models.Usage, error) {
	return f(ctx, subject)
}

// Validator decides whether an identity names a real, analyzable security.
type Validator interface {
	Validate(ctx context.Context, id models.Identity) (models.Validation, error)
}

type ValidatorFunc func(ctx context.Context, id models.Identity) (models.Validation, error)

func (f ValidatorFunc) Validate(ctx context.Context, id models.Identity) (models.Validation, error) {
	return f(ctx, id)
}

// AggregateInput is everything one aggregation pass may read. Evidence is
// empty on revision passes under the summary_only policy.
type AggregateInput struct {
	Subject  Subject
	Evidence map[consts.Branch]string
	Previous string
	Feedback string
	Pass     int
}

// Revision reports whether this pass revises an earlier combined output.
func (in AggregateInput) Revision() bool { return in.Previous != "" }

type Aggregator interface {
	Aggregate(ctx context.Context, in AggregateInput) (string, models.Usage, error)
}

type AggregatorFunc func(ctx context.Context, in AggregateInput) (string, models.Usage, error)

func (f AggregatorFunc) Aggregate(ctx context.Context, in AggregateInput) (string, models.Usage, error) {
	return f(ctx, in)
}

type EvaluateInput struct {
	Subject   Subject
	Combined  string
	Iteration int
}

type Evaluator interface {
	Evaluate(ctx context.Context, in EvaluateInput) (models.Review, models.Usage, error)
}

type EvaluatorFunc func(ctx context.Context, in EvaluateInput) (models.Review, models.Usage, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, in EvaluateInput) (models.Review, models.Usage, error) {
	return f(ctx, in)
}

package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/filings"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/models"
)

func init() {
	// fan-in of the research branches into aggregate
	compose.RegisterValuesMergeFunc(models.MergeDeltas)
}

type orchestrator struct {
	deps  *Dependencies
	logic *ConditionalLogic
}

func (o *orchestrator) now() time.Time {
	if o.deps.Now != nil {
		return o.deps.Now()
	}
	return time.Now()
}

// snapshot copies the graph state so a node can read it without holding the
// state lock for the duration of an outbound call.
func snapshot(ctx context.Context) (*models.State, error) {
	var out *models.State
	err := compose.ProcessState[*models.State](ctx, func(_ context.Context, st *models.State) error {
		out = st.Clone()
		return nil
	})
	return out, err
}

func seedState(_ context.Context, in *models.State, st *models.State) (*models.State, error) {
	*st = *in.Clone()
	if st.Sentiments == nil {
		st.Sentiments = make(map[consts.Branch]string)
	}
	if st.Metrics == nil {
		st.Metrics = models.NewMetrics()
	}
	return in, nil
}

func applyDelta(_ context.Context, out *models.Delta, st *models.State) (*models.Delta, error) {
	st.Apply(out)
	return out, nil
}

// NewOrchestrator compiles the research graph:
//
//	validate -> terminate                          (invalid ticker)
//	validate -> fanout -> {branches} -> aggregate  (valid ticker)
//	aggregate -> evaluate -> aggregate | terminate
//
// Every branch node writes only its own sentiment field; deltas are applied
// to the graph state by node post handlers.
func NewOrchestrator(ctx context.Context, d *Dependencies) (compose.Runnable[*models.State, *models.State], error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	o := &orchestrator{deps: d, logic: NewConditionalLogic(d.MaxRevisions)}

	g := compose.NewGraph[*models.State, *models.State](
		compose.WithGenLocalState(func(context.Context) *models.State {
			return models.NewState(models.Identity{})
		}),
	)

	// Nodes first: eino rejects an edge whose end node is not added yet.
	nodes := []struct {
		name string
		add  func() error
	}{
		{consts.Validate, func() error {
			return g.AddLambdaNode(consts.Validate, compose.InvokableLambda(o.validate),
				compose.WithNodeName(consts.Validate),
				compose.WithStatePreHandler(seedState),
				compose.WithStatePostHandler(applyDelta))
		}},
		{consts.Fanout, func() error {
			return g.AddLambdaNode(consts.Fanout, compose.InvokableLambda(o.fanout), compose.WithNodeName(consts.Fanout))
		}},
		{consts.Aggregate, func() error {
			return g.AddLambdaNode(consts.Aggregate, compose.InvokableLambda(o.aggregate),
				compose.WithNodeName(consts.Aggregate),
				compose.WithStatePostHandler(applyDelta))
		}},
		{consts.Evaluate, func() error {
			return g.AddLambdaNode(consts.Evaluate, compose.InvokableLambda(o.evaluate),
				compose.WithNodeName(consts.Evaluate),
				compose.WithStatePostHandler(applyDelta))
		}},
		{consts.Terminate, func() error {
			return g.AddLambdaNode(consts.Terminate, compose.InvokableLambda(o.terminate), compose.WithNodeName(consts.Terminate))
		}},
	}
	for _, n := range nodes {
		if err := n.add(); err != nil {
			return nil, fmt.Errorf("add %s: %w", n.name, err)
		}
	}

	for _, b := range consts.Branches {
		name := b.String()
		if b == consts.BranchFilings {
			fg, err := filings.NewGraph(d.Filings)
			if err != nil {
				return nil, fmt.Errorf("build filings subgraph: %w", err)
			}
			if err := g.AddGraphNode(name, fg,
				compose.WithNodeName(name),
				compose.WithGraphCompileOptions(compose.WithGraphName(consts.FilingsGraphName)),
				compose.WithStatePostHandler(applyDelta)); err != nil {
				return nil, fmt.Errorf("add %s: %w", name, err)
			}
		} else {
			if err := g.AddLambdaNode(name, compose.InvokableLambda(o.branch(b, d.Analysts[b])),
				compose.WithNodeName(name),
				compose.WithStatePostHandler(applyDelta)); err != nil {
				return nil, fmt.Errorf("add %s: %w", name, err)
			}
		}
		if err := g.AddEdge(consts.Fanout, name); err != nil {
			return nil, fmt.Errorf("edge %s->%s: %w", consts.Fanout, name, err)
		}
		if err := g.AddEdge(name, consts.Aggregate); err != nil {
			return nil, fmt.Errorf("edge %s->%s: %w", name, consts.Aggregate, err)
		}
	}

	if err := g.AddEdge(compose.START, consts.Validate); err != nil {
		return nil, fmt.Errorf("edge start->%s: %w", consts.Validate, err)
	}
	if err := g.AddBranch(consts.Validate, compose.NewGraphBranch(o.logic.validateHandOff, map[string]bool{
		consts.Fanout:    true,
		consts.Terminate: true,
	})); err != nil {
		return nil, fmt.Errorf("branch %s: %w", consts.Validate, err)
	}
	if err := g.AddEdge(consts.Aggregate, consts.Evaluate); err != nil {
		return nil, fmt.Errorf("edge %s->%s: %w", consts.Aggregate, consts.Evaluate, err)
	}
	if err := g.AddBranch(consts.Evaluate, compose.NewGraphBranch(o.logic.evaluateHandOff, map[string]bool{
		consts.Aggregate: true,
		consts.Terminate: true,
	})); err != nil {
		return nil, fmt.Errorf("branch %s: %w", consts.Evaluate, err)
	}
	if err := g.AddEdge(consts.Terminate, compose.END); err != nil {
		return nil, fmt.Errorf("edge %s->end: %w", consts.Terminate, err)
	}

	r, err := g.Compile(ctx,
		compose.WithGraphName(consts.GraphName),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(o.logic.MaxRunSteps()),
	)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", consts.GraphName, err)
	}
	return r, nil
}

// validate is the only node whose negative result stops the request. A
// failed lookup is reported as an unknown ticker.
func (o *orchestrator) validate(ctx context.Context, st *models.State) (*models.Delta, error) {
	res, nm := agents.Invoke(ctx, o.deps.Runner, consts.Validate, st, func(ctx context.Context) (models.Validation, models.Usage, error) {
		v, err := o.deps.Validator.Validate(ctx, st.Identity())
		return v, models.Usage{}, err
	})
	v, ok := res.Get()
	if !ok {
		logging.FromContext(ctx).Warn().Err(res.Reason()).Str(logging.FieldTicker, st.Ticker).Msg("validation failed, treating ticker as not found")
		v = models.Validation{}
	}
	return models.ValidationDelta(v, models.NodeFragment(consts.Validate, nm)), nil
}

func (o *orchestrator) fanout(ctx context.Context, _ *models.Delta) (*models.State, error) {
	return snapshot(ctx)
}

func (o *orchestrator) branch(b consts.Branch, a agents.Analyst) func(ctx context.Context, st *models.State) (*models.Delta, error) {
	return func(ctx context.Context, st *models.State) (*models.Delta, error) {
		return o.deps.Runner.Branch(ctx, b, st, func(ctx context.Context) (agents.Outcome, error) {
			sent, usage, err := a.Analyze(ctx, agents.SubjectOf(st, o.now()))
			if err != nil {
				return agents.Outcome{Usage: usage}, err
			}
			return agents.Outcome{Text: sent.String(), Usage: usage}, nil
		}), nil
	}
}

// aggregate ignores its input: on the first pass it is the merged branch
// deltas, already applied, and on later passes the evaluation delta.
func (o *orchestrator) aggregate(ctx context.Context, _ *models.Delta) (*models.Delta, error) {
	st, err := snapshot(ctx)
	if err != nil {
		return nil, err
	}
	in := agents.AggregateInput{
		Subject: agents.SubjectOf(st, o.now()),
		Pass:    st.RevisionIterationCount + 1,
	}
	if st.RevisionIterationCount > 0 {
		in.Previous = st.CombinedSentiment
		in.Feedback = st.Feedback
	}
	if !in.Revision() || o.deps.RevisionEvidence == consts.EvidenceFull {
		in.Evidence = make(map[consts.Branch]string, len(st.Sentiments))
		for b, v := range st.Sentiments {
			in.Evidence[b] = v
		}
	}

	res, nm := o.deps.Runner.Run(ctx, consts.Aggregate, nil, func(ctx context.Context) (agents.Outcome, error) {
		text, usage, err := o.deps.Aggregator.Aggregate(ctx, in)
		return agents.Outcome{Text: text, Usage: usage}, err
	})
	text := res.OrElse(agents.Outcome{}).Text
	if text == "" {
		text = consts.AggregationFallback
	}
	return models.AggregationDelta(text, models.NodeFragment(consts.Aggregate, nm)), nil
}

// evaluate fails open: an evaluator error counts as compliant.
func (o *orchestrator) evaluate(ctx context.Context, _ *models.Delta) (*models.Delta, error) {
	st, err := snapshot(ctx)
	if err != nil {
		return nil, err
	}
	iteration := st.RevisionIterationCount + 1
	res, nm := agents.Invoke(ctx, o.deps.Runner, consts.Evaluate, nil, func(ctx context.Context) (models.Review, models.Usage, error) {
		return o.deps.Evaluator.Evaluate(ctx, agents.EvaluateInput{
			Subject:   agents.SubjectOf(st, o.now()),
			Combined:  st.CombinedSentiment,
			Iteration: iteration,
		})
	})
	review := res.OrElse(models.Review{Compliant: true})
	return models.EvaluationDelta(review.Compliant, review.Feedback, iteration, models.NodeFragment(consts.Evaluate, nm)), nil
}

func (o *orchestrator) terminate(ctx context.Context, _ *models.Delta) (*models.State, error) {
	return snapshot(ctx)
}

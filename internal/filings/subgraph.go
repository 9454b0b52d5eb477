package filings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/agents/analysts"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/models"
)

// Synthesizer turns retrieved passages into the filings sentiment.
type Synthesizer interface {
	Synthesize(ctx context.Context, s agents.Subject, passages []models.Passage) (models.Sentiment, models.Usage, error)
}

// LLMSynthesizer reads the passages with the filings analyst prompt.
type LLMSynthesizer struct {
	analyst *analysts.LLMAnalyst
}

func NewLLMSynthesizer(llm *agents.LLM) (*LLMSynthesizer, error) {
	a, err := analysts.NewLLMAnalyst(consts.BranchFilings, nil, llm)
	if err != nil {
		return nil, err
	}
	return &LLMSynthesizer{analyst: a}, nil
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, subject agents.Subject, passages []models.Passage) (models.Sentiment, models.Usage, error) {
	return s.analyst.AnalyzeEvidence(ctx, subject, RenderPassages(passages))
}

// Deps are the collaborators of the filings research subgraph.
type Deps struct {
	Runner      *agents.Runner
	Corpus      Corpus
	Queries     QueryBuilder
	Synthesizer Synthesizer
	TopK        int
	MaxPassages int
	Now         func() time.Time
}

// localState lives for one subgraph run. Only the filings sentiment and
// the merged metrics leave it.
type localState struct {
	Ingested bool
	Queries  []string
	Passages []models.Passage
	Metrics  *models.Metrics
}

func (s *localState) record(node string, nm models.NodeMetrics) {
	s.Metrics = models.MergeMetrics(s.Metrics, models.NodeFragment(node, nm))
}

var errNoPassages = errors.New("no filing passages retrieved")

// NewGraph builds ingest -> queries -> retrieve -> synthesize. Each step
// degrades instead of failing: a failed ingest still searches what is
// stored, failed query planning falls back to DefaultQueries, and a
// failed synthesis writes the filings fallback message.
func NewGraph(d *Deps) (*compose.Graph[*models.State, *models.Delta], error) {
	if d.Queries == nil {
		d.Queries = StaticQueries{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	g := compose.NewGraph[*models.State, *models.Delta](
		compose.WithGenLocalState(func(context.Context) *localState {
			return &localState{Metrics: models.NewMetrics()}
		}),
	)
	steps := []struct {
		name   string
		lambda *compose.Lambda
	}{
		{consts.FilingsIngest, compose.InvokableLambda(d.ingest)},
		{consts.FilingsQueries, compose.InvokableLambda(d.queries)},
		{consts.FilingsRetrieve, compose.InvokableLambda(d.retrieve)},
		{consts.FilingsSynthesize, compose.InvokableLambda(d.synthesize)},
	}
	prev := compose.START
	for _, s := range steps {
		if err := g.AddLambdaNode(s.name, s.lambda, compose.WithNodeName(s.name)); err != nil {
			return nil, fmt.Errorf("add %s: %w", s.name, err)
		}
		if err := g.AddEdge(prev, s.name); err != nil {
			return nil, err
		}
		prev = s.name
	}
	if err := g.AddEdge(prev, compose.END); err != nil {
		return nil, err
	}
	return g, nil
}

// Compile builds the subgraph as a standalone runnable.
func Compile(ctx context.Context, d *Deps) (compose.Runnable[*models.State, *models.Delta], error) {
	g, err := NewGraph(d)
	if err != nil {
		return nil, err
	}
	return g.Compile(ctx, compose.WithGraphName(consts.FilingsGraphName))
}

func (d *Deps) ingest(ctx context.Context, st *models.State) (*models.State, error) {
	res, nm := agents.Invoke(ctx, d.Runner, consts.FilingsIngest, nil, func(ctx context.Context) (bool, models.Usage, error) {
		fresh, err := d.Corpus.EnsureIngested(ctx, st.Ticker)
		return fresh, models.Usage{}, err
	})
	_, ok := res.Get()
	if !ok {
		logging.FromContext(ctx).Warn().Err(res.Reason()).Str(logging.FieldTicker, st.Ticker).Msg("filings ingestion failed, searching stored filings")
	}
	err := compose.ProcessState[*localState](ctx, func(_ context.Context, ls *localState) error {
		ls.Ingested = ok
		ls.record(consts.FilingsIngest, nm)
		return nil
	})
	return st, err
}

func (d *Deps) queries(ctx context.Context, st *models.State) (*models.State, error) {
	res, nm := agents.Invoke(ctx, d.Runner, consts.FilingsQueries, st, func(ctx context.Context) ([]string, models.Usage, error) {
		return d.Queries.Queries(ctx, st.Identity())
	})
	queries := res.OrElse(DefaultQueries(st.Identity()))
	err := compose.ProcessState[*localState](ctx, func(_ context.Context, ls *localState) error {
		ls.Queries = queries
		ls.record(consts.FilingsQueries, nm)
		return nil
	})
	return st, err
}

func (d *Deps) retrieve(ctx context.Context, st *models.State) (*models.State, error) {
	var queries []string
	if err := compose.ProcessState[*localState](ctx, func(_ context.Context, ls *localState) error {
		queries = ls.Queries
		return nil
	}); err != nil {
		return nil, err
	}
	res, nm := agents.Invoke(ctx, d.Runner, consts.FilingsRetrieve, nil, func(ctx context.Context) ([]models.Passage, models.Usage, error) {
		ps, err := Retrieve(ctx, d.Corpus, st.Ticker, queries, d.TopK, d.MaxPassages)
		return ps, models.Usage{Model: "bm25"}, err
	})
	err := compose.ProcessState[*localState](ctx, func(_ context.Context, ls *localState) error {
		ls.Passages = res.OrElse(nil)
		ls.record(consts.FilingsRetrieve, nm)
		return nil
	})
	return st, err
}

func (d *Deps) synthesize(ctx context.Context, st *models.State) (*models.Delta, error) {
	var ls localState
	if err := compose.ProcessState[*localState](ctx, func(_ context.Context, s *localState) error {
		ls = *s
		return nil
	}); err != nil {
		return nil, err
	}
	delta := d.Runner.Branch(ctx, consts.BranchFilings, st, func(ctx context.Context) (agents.Outcome, error) {
		if len(ls.Passages) == 0 {
			return agents.Outcome{}, errNoPassages
		}
		sent, usage, err := d.Synthesizer.Synthesize(ctx, agents.SubjectOf(st, d.Now()), ls.Passages)
		if err != nil {
			return agents.Outcome{Usage: usage}, err
		}
		return agents.Outcome{Text: sent.String(), Usage: usage}, nil
	})
	delta.Metrics = models.MergeMetrics(ls.Metrics, delta.Metrics)
	return delta, nil
}

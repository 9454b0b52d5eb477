package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/agents/analysts"
	"github.com/dyike/CortexThesis/internal/agents/managers"
	"github.com/dyike/CortexThesis/internal/cache"
	"github.com/dyike/CortexThesis/internal/dataflows"
	"github.com/dyike/CortexThesis/internal/filings"
	"github.com/dyike/CortexThesis/internal/logging"
)

// Dependencies are everything the orchestration graph calls out to. They
// are built once per process and shared by every request.
type Dependencies struct {
	Runner     *agents.Runner
	Validator  agents.Validator
	Analysts   map[consts.Branch]agents.Analyst
	Filings    *filings.Deps
	Aggregator agents.Aggregator
	Evaluator  agents.Evaluator

	MaxRevisions     int
	RevisionEvidence string
	Now              func() time.Time

	closers []io.Closer
}

// check verifies every non-filings branch has an analyst. The branch set is
// closed, so a gap here is a wiring bug, not a runtime condition.
func (d *Dependencies) check() error {
	var errs []error
	if d.Runner == nil {
		errs = append(errs, errors.New("runner is required"))
	}
	if d.Validator == nil {
		errs = append(errs, errors.New("validator is required"))
	}
	if d.Aggregator == nil || d.Evaluator == nil {
		errs = append(errs, errors.New("aggregator and evaluator are required"))
	}
	if d.Filings == nil {
		errs = append(errs, errors.New("filings dependencies are required"))
	} else if d.Filings.Runner == nil {
		d.Filings.Runner = d.Runner
	}
	for _, b := range consts.Branches {
		if b == consts.BranchFilings {
			continue
		}
		if d.Analysts[b] == nil {
			errs = append(errs, fmt.Errorf("no analyst for branch %q", b))
		}
	}
	return errors.Join(errs...)
}

// Close releases the stores and clients opened by NewDependencies.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i].Close())
	}
	d.closers = nil
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// NewDependencies wires the production collaborators from cfg: the chat
// models, market data sources, filings corpus and validators.
func NewDependencies(ctx context.Context, cfg *config.Config, c *cache.Cache) (_ *Dependencies, err error) {
	logger := logging.Component("graph")

	llms, err := agents.NewModels(ctx, cfg)
	if err != nil {
		return nil, err
	}
	aggregator, err := managers.NewResearchManager(llms.Deep)
	if err != nil {
		return nil, err
	}
	evaluator, err := managers.NewRiskManager(llms.Quick)
	if err != nil {
		return nil, err
	}
	queries, err := filings.NewLLMQueries(llms.Quick)
	if err != nil {
		return nil, err
	}
	synth, err := filings.NewLLMSynthesizer(llms.Quick)
	if err != nil {
		return nil, err
	}

	d := &Dependencies{
		Runner:           agents.NewRunner(cfg, c),
		Aggregator:       aggregator,
		Evaluator:        evaluator,
		MaxRevisions:     cfg.MaxRevisions,
		RevisionEvidence: cfg.RevisionEvidence,
	}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	sources := analysts.NewSources(cfg)
	lpcfg := dataflows.LongportConfig{
		AppKey:      cfg.LongportAppKey,
		AppSecret:   cfg.LongportAppSecret,
		AccessToken: cfg.LongportAccessToken,
	}
	if lpcfg.Configured() {
		lp, lpErr := dataflows.NewLongportClient(lpcfg)
		if lpErr != nil {
			logger.Warn().Err(lpErr).Msg("longport unavailable, using Yahoo for quotes and bars")
		} else {
			sources.Longport = lp
			d.closers = append(d.closers, closerFunc(func() error { lp.Close(); return nil }))
		}
	}
	d.Analysts, err = analysts.New(sources.Gatherers(), llms.Quick)
	if err != nil {
		return nil, err
	}

	store, err := filings.OpenStore(filepath.Join(cfg.DataDir, "filings.db"),
		dataflows.NewEdgarClient(cfg.SECUserAgent, "", ""))
	if err != nil {
		return nil, fmt.Errorf("open filings store: %w", err)
	}
	d.closers = append(d.closers, store)
	d.Filings = &filings.Deps{
		Runner:      d.Runner,
		Corpus:      store,
		Queries:     queries,
		Synthesizer: synth,
	}

	validators := agents.FirstValid{&agents.MarketValidator{Equities: sources.Yahoo, Profiles: sources.Finnhub}}
	if sources.Longport != nil {
		validators = append(validators, &agents.LongportValidator{Static: sources.Longport, Profiles: sources.Finnhub})
	}
	d.Validator = validators

	logger.Info().
		Str("quick_model", llms.Quick.Name).
		Str("deep_model", llms.Deep.Name).
		Int("validators", len(validators)).
		Bool("longport", sources.Longport != nil).
		Msg("graph dependencies ready")
	return d, nil
}

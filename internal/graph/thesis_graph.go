package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/internal/storage"
	"github.com/dyike/CortexThesis/models"
)

var (
	// ErrInvalidInput rejects a malformed request before the graph runs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTicker is the ticker-format case of ErrInvalidInput.
	ErrInvalidTicker = fmt.Errorf("%w: ticker", ErrInvalidInput)
	// ErrTickerNotFound means validation ran and did not resolve the ticker.
	ErrTickerNotFound = errors.New("ticker not found")
)

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}([.-][A-Z]{1,2})?$`)

// SanitizeTicker upper-cases raw and checks it against the ticker
// allow-list.
func SanitizeTicker(raw string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(raw))
	if !tickerPattern.MatchString(t) {
		return "", fmt.Errorf("%w %q", ErrInvalidTicker, raw)
	}
	return t, nil
}

// ParseIdentity sanitizes a request into an Identity.
func ParseIdentity(ticker, duration, direction string) (models.Identity, error) {
	t, err := SanitizeTicker(ticker)
	if err != nil {
		return models.Identity{}, err
	}
	d := consts.TradeDuration(strings.ToLower(strings.TrimSpace(duration)))
	if !d.Valid() {
		return models.Identity{}, fmt.Errorf("%w: trade_duration %q", ErrInvalidInput, duration)
	}
	dir := consts.TradeDirection(strings.ToLower(strings.TrimSpace(direction)))
	if !dir.Valid() {
		return models.Identity{}, fmt.Errorf("%w: trade_direction %q", ErrInvalidInput, direction)
	}
	return models.Identity{Ticker: t, TradeDuration: d, TradeDirection: dir}, nil
}

// RunStatus maps a Propagate result onto the persisted run status.
func RunStatus(err error) string {
	switch {
	case err == nil:
		return storage.StatusDone
	case errors.Is(err, ErrTickerNotFound):
		return storage.StatusNotFound
	default:
		return storage.StatusError
	}
}

// ThesisGraph runs one analysis request end to end under the request
// timeout.
type ThesisGraph struct {
	timeout      time.Duration
	orchestrator compose.Runnable[*models.State, *models.State]
}

func NewThesisGraph(ctx context.Context, cfg *config.Config, deps *Dependencies) (*ThesisGraph, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if deps.RevisionEvidence == "" {
		deps.RevisionEvidence = cfg.RevisionEvidence
	}
	r, err := NewOrchestrator(ctx, deps)
	if err != nil {
		return nil, err
	}
	return &ThesisGraph{timeout: cfg.RequestTimeout.Std(), orchestrator: r}, nil
}

type propagateOptions struct {
	events chan<- models.NodeEvent
}

type PropagateOption func(*propagateOptions)

// WithEvents streams node progress to ch. Events are dropped when ch is
// full.
func WithEvents(ch chan<- models.NodeEvent) PropagateOption {
	return func(o *propagateOptions) { o.events = ch }
}

// Propagate analyzes id. The returned state is non-nil whenever the graph
// ran, including the ErrTickerNotFound case.
func (g *ThesisGraph) Propagate(ctx context.Context, id models.Identity, opts ...PropagateOption) (*models.State, error) {
	id, err := ParseIdentity(id.Ticker, string(id.TradeDuration), string(id.TradeDirection))
	if err != nil {
		return nil, err
	}
	var po propagateOptions
	for _, opt := range opts {
		opt(&po)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	logger := logging.FromContext(ctx).With().Str(logging.FieldTicker, id.Ticker).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().
		Str("trade_duration", string(id.TradeDuration)).
		Str("trade_direction", string(id.TradeDirection)).
		Msg("analysis started")

	start := time.Now()
	final, err := g.orchestrator.Invoke(ctx, models.NewState(id),
		compose.WithCallbacks(&LoggerCallback{Out: po.events}))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, fmt.Errorf("analyze %s: %w", id.Ticker, err)
	}
	if !final.IsTickerValid {
		logger.Info().Msg("ticker not found, research skipped")
		return final, fmt.Errorf("%w: %s", ErrTickerNotFound, id.Ticker)
	}
	logger.Info().
		Dur("elapsed", time.Since(start)).
		Int("revisions", final.RevisionIterationCount).
		Bool("compliant", final.Compliant).
		Int("total_tokens", final.Metrics.TotalTokens).
		Msg("analysis finished")
	return final, nil
}

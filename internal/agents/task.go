package agents

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/cache"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/models"
)

// Result is the outcome of a node task: a value or the reason there is none.
type Result[T any] struct {
	value  T
	reason error
	ok     bool
}

func Ok[T any](v T) Result[T] { return Result[T]{value: v, ok: true} }

func Fail[T any](reason error) Result[T] {
	if reason == nil {
		reason = errors.New("unknown failure")
	}
	return Result[T]{reason: reason}
}

func (r Result[T]) Get() (T, bool) { return r.value, r.ok }

func (r Result[T]) Reason() error { return r.reason }

// OrElse returns the value, or fallback when the task failed.
func (r Result[T]) OrElse(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}

// Outcome is what a capability call leaves behind: rendered text plus the
// resource usage that produced it.
type Outcome struct {
	Text  string
	Usage models.Usage
}

var ErrPanic = errors.New("node task panicked")

// Runner wraps node tasks with a per-call timeout, a tracing span, panic
// recovery, result caching and usage accounting.
type Runner struct {
	NodeTimeout time.Duration
	TokenBudget int
	Cache       *cache.Cache

	tracer trace.Tracer
	now    func() time.Time
}

func NewRunner(cfg *config.Config, c *cache.Cache) *Runner {
	return &Runner{
		NodeTimeout: cfg.NodeTimeout.Std(),
		TokenBudget: cfg.TokenBudget,
		Cache:       c,
		tracer:      otel.Tracer("github.com/dyike/CortexThesis/internal/agents"),
		now:         time.Now,
	}
}

type taskResult[T any] struct {
	out   T
	usage models.Usage
	hit   bool
	err   error
}

// memo is the cached form of a task result; usage travels with the value so
// a hit still reports the model that produced it.
type memo[T any] struct {
	Value T
	Usage models.Usage
}

// Run executes fn for node. The returned metrics describe the call whether
// or not it succeeded. st selects the cache entry; a nil st bypasses the
// cache.
func (r *Runner) Run(ctx context.Context, node string, st *models.State, fn func(ctx context.Context) (Outcome, error)) (Result[Outcome], models.NodeMetrics) {
	return Invoke(ctx, r, node, st, func(ctx context.Context) (Outcome, models.Usage, error) {
		out, err := fn(ctx)
		return out, out.Usage, err
	})
}

// Invoke is Run for tasks producing any cacheable value.
func Invoke[T any](ctx context.Context, r *Runner, node string, st *models.State, fn func(ctx context.Context) (T, models.Usage, error)) (Result[T], models.NodeMetrics) {
	if r.tracer == nil {
		r.tracer = otel.Tracer("github.com/dyike/CortexThesis/internal/agents")
	}
	if r.now == nil {
		r.now = time.Now
	}
	ctx, span := r.tracer.Start(ctx, "node."+node, trace.WithAttributes(attribute.String("node", node)))
	defer span.End()
	if r.NodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.NodeTimeout)
		defer cancel()
	}

	start := r.now()
	done := make(chan taskResult[T], 1)
	go func() {
		var res taskResult[T]
		defer func() {
			if p := recover(); p != nil {
				res = taskResult[T]{err: fmt.Errorf("%w: %v\n%s", ErrPanic, p, debug.Stack())}
			}
			done <- res
		}()
		compute := func(ctx context.Context) (memo[T], error) {
			v, usage, err := fn(ctx)
			return memo[T]{Value: v, Usage: usage}, err
		}
		var m memo[T]
		if st == nil {
			m, res.err = compute(ctx)
		} else {
			m, res.hit, res.err = cache.Do(ctx, r.Cache, node, st, compute)
			if errors.Is(res.err, cache.ErrComputePanic) {
				res.err = fmt.Errorf("%w: %w", ErrPanic, res.err)
			}
		}
		res.out, res.usage = m.Value, m.Usage
	}()

	var res taskResult[T]
	select {
	case res = <-done:
	case <-ctx.Done():
		res = taskResult[T]{err: fmt.Errorf("%s: %w", node, ctx.Err())}
	}

	nm := models.NodeMetrics{Latency: r.now().Sub(start), Model: res.usage.Model, CacheHit: res.hit}
	if !res.hit {
		nm.PromptTokens = res.usage.PromptTokens
		nm.CompletionTokens = res.usage.CompletionTokens
	}
	nm.BudgetExceeded = r.TokenBudget > 0 && nm.Tokens() > r.TokenBudget

	span.SetAttributes(
		attribute.Bool("cache_hit", nm.CacheHit),
		attribute.Int("tokens", nm.Tokens()),
		attribute.Bool("budget_exceeded", nm.BudgetExceeded),
	)
	logger := logging.FromContext(ctx).With().Str(logging.FieldNode, node).Logger()
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		logger.Warn().Err(res.err).Dur("latency", nm.Latency).Msg("node task failed")
		return Fail[T](res.err), nm
	}
	if nm.BudgetExceeded {
		logger.Warn().Int("tokens", nm.Tokens()).Int("budget", r.TokenBudget).Msg("token budget exceeded")
	}
	logger.Debug().Dur("latency", nm.Latency).Bool("cache_hit", nm.CacheHit).Int("tokens", nm.Tokens()).Msg("node task done")
	return Ok(res.out), nm
}

// Branch runs a research branch and always returns a delta that writes
// exactly that branch's field: the result text on success, the branch
// fallback message on any failure.
func (r *Runner) Branch(ctx context.Context, b consts.Branch, st *models.State, fn func(ctx context.Context) (Outcome, error)) *models.Delta {
	res, nm := r.Run(ctx, b.String(), st, fn)
	text := res.OrElse(Outcome{Text: consts.FallbackFor(b)}).Text
	if text == "" {
		text = consts.FallbackFor(b)
	}
	return models.BranchDelta(b, text, models.NodeFragment(b.String(), nm))
}

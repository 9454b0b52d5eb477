package graph

import (
	"context"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/models"
)

type startKey struct{ name string }

// LoggerCallback logs node start, end and error through zerolog and, when
// Out is set, forwards the same events for progress display. Sends to Out
// never block the graph.
type LoggerCallback struct {
	callbacks.HandlerBuilder

	Out chan<- models.NodeEvent
	Now func() time.Time
}

func (cb *LoggerCallback) now() time.Time {
	if cb.Now != nil {
		return cb.Now()
	}
	return time.Now()
}

func (cb *LoggerCallback) push(ev models.NodeEvent) {
	if cb.Out == nil {
		return
	}
	select {
	case cb.Out <- ev:
	default:
	}
}

func (cb *LoggerCallback) event(ctx context.Context, info *callbacks.RunInfo, phase string) models.NodeEvent {
	ev := models.NodeEvent{Node: info.Name, Component: string(info.Component), Phase: phase, At: cb.now()}
	if started, ok := ctx.Value(startKey{info.Name}).(time.Time); ok {
		ev.Elapsed = ev.At.Sub(started)
	}
	return ev
}

func (cb *LoggerCallback) logger(ctx context.Context, info *callbacks.RunInfo) zerolog.Logger {
	return logging.FromContext(ctx).With().
		Str(logging.FieldNode, info.Name).
		Str(logging.FieldComponent, string(info.Component)).
		Logger()
}

func (cb *LoggerCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if info == nil || info.Name == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, startKey{info.Name}, cb.now())
	l := cb.logger(ctx, info)
	l.Debug().Msg("node start")
	cb.push(cb.event(ctx, info, "start"))
	return ctx
}

func (cb *LoggerCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if info == nil || info.Name == "" {
		return ctx
	}
	ev := cb.event(ctx, info, "end")
	l := cb.logger(ctx, info)
	l.Debug().Dur("elapsed", ev.Elapsed).Msg("node end")
	cb.push(ev)
	return ctx
}

func (cb *LoggerCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if info == nil {
		return ctx
	}
	ev := cb.event(ctx, info, "error")
	ev.Error = err.Error()
	l := cb.logger(ctx, info)
	l.Error().Err(err).Dur("elapsed", ev.Elapsed).Msg("node error")
	cb.push(ev)
	return ctx
}

func (cb *LoggerCallback) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	return cb.OnEnd(ctx, info, nil)
}

func (cb *LoggerCallback) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return cb.OnStart(ctx, info, nil)
}

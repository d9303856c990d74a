package observer

import (
	"context"
	"time"

	colony "github.com/hivegrid/colony"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedDispatcher wraps a colony.Dispatcher with OTEL instrumentation.
// It records both the round-trip duration seen by the engine and the
// execution time the worker reports inside the response envelope.
type ObservedDispatcher struct {
	inner colony.Dispatcher
	inst  *Instruments
}

// WrapDispatcher returns an instrumented dispatcher.
func WrapDispatcher(inner colony.Dispatcher, inst *Instruments) *ObservedDispatcher {
	return &ObservedDispatcher{inner: inner, inst: inst}
}

func (o *ObservedDispatcher) Execute(ctx context.Context, req colony.ToolRequest) (colony.ToolResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(
		AttrToolName.String(req.Tool),
		AttrToolTurn.Int(req.TurnIndex),
		AttrToolRepo.String(req.RepoURL),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Execute(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := resp.Status
	if err != nil {
		status = "transport_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(AttrToolStatus.String(status))
	if resp.Err != nil {
		span.SetAttributes(AttrToolErrorCode.String(resp.Err.Code))
	}

	o.inst.ToolDispatches.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(req.Tool),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(req.Tool),
	))
	if resp.ExecTime > 0 {
		o.inst.ToolExecTime.Record(ctx, resp.ExecTime, metric.WithAttributes(
			AttrToolName.String(req.Tool),
		))
	}

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool dispatch completed"))
	rec.AddAttributes(
		otellog.String("tool.name", req.Tool),
		otellog.String("tool.status", status),
		otellog.Int("tool.turn_idx", req.TurnIndex),
		otellog.Float64("tool.exec_time", resp.ExecTime),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return resp, err
}

// compile-time check
var _ colony.Dispatcher = (*ObservedDispatcher)(nil)

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

// TaskRunner is the slice of the Runtime the task wrapper instruments.
type TaskRunner interface {
	RunAgentTask(ctx context.Context, task colony.Task) (colony.TaskResult, error)
}

// ObservedRunner wraps a TaskRunner to emit OTEL lifecycle spans, metrics,
// and logs. The wrapper creates a parent span for each task that contains
// all inner operations (LLM calls, tool dispatches) as child spans via
// context propagation.
type ObservedRunner struct {
	inner TaskRunner
	inst  *Instruments
}

// WrapRunner returns an instrumented task runner.
func WrapRunner(inner TaskRunner, inst *Instruments) *ObservedRunner {
	return &ObservedRunner{inner: inner, inst: inst}
}

// RunAgentTask wraps the inner runner, emitting an agent.execute span that
// serves as the parent for all inner operations.
func (o *ObservedRunner) RunAgentTask(ctx context.Context, task colony.Task) (colony.TaskResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		AttrAgentRole.String(task.Key.Role),
		AttrAgentID.String(task.Key.ID),
		AttrAgentRepo.String(task.Key.Repo),
	))
	defer span.End()
	start := time.Now()

	span.AddEvent("agent.started")

	result, err := o.inner.RunAgentTask(ctx, task)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"

	switch {
	case ctx.Err() != nil && err != nil:
		status = "cancelled"
		span.AddEvent("agent.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	case err != nil:
		status = "error"
		span.AddEvent("agent.failed", trace.WithAttributes(
			attribute.String("error", err.Error()),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !result.Success:
		status = "incomplete"
		span.AddEvent("agent.incomplete")
	default:
		span.AddEvent("agent.completed")
	}

	span.SetAttributes(
		AttrAgentStatus.String(status),
		AttrAgentIterations.Int(result.Iterations),
	)

	// Metrics
	o.inst.AgentExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrAgentRole.String(task.Key.Role),
		attribute.String("status", status),
	))
	o.inst.AgentDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrAgentRole.String(task.Key.Role),
	))
	o.inst.AgentIterations.Record(ctx, int64(result.Iterations), metric.WithAttributes(
		AttrAgentRole.String(task.Key.Role),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("agent task completed"))
	rec.AddAttributes(
		otellog.String("agent.role", task.Key.Role),
		otellog.String("agent.id", task.Key.ID),
		otellog.String("agent.repo_url", task.Key.Repo),
		otellog.String("agent.status", status),
		otellog.Int("agent.iterations", result.Iterations),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

// compile-time check
var _ TaskRunner = (*ObservedRunner)(nil)

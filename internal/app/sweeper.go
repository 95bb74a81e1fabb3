package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// MaintenanceTask is one periodic housekeeping job: context TTL eviction,
// rate-limiter window GC, pricing refresh.
type MaintenanceTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// RunPeriodic executes the task once immediately and then on every interval
// tick until ctx is cancelled. Intended to be started as a goroutine from
// main; tasks with no work to do should return quickly.
func RunPeriodic(ctx context.Context, task MaintenanceTask) {
	if task.Run == nil || task.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	sweepOnce(ctx, task)

	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance task stopping", slog.String("task", task.Name))
			return
		case <-ticker.C:
			sweepOnce(ctx, task)
		}
	}
}

func sweepOnce(ctx context.Context, task MaintenanceTask) {
	tracer := otel.Tracer("app.maintenance")
	ctx, span := tracer.Start(ctx, "maintenance.sweep")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.name", task.Name),
		attribute.Float64("task.interval_seconds", task.Interval.Seconds()),
	)
	task.Run(ctx)
}

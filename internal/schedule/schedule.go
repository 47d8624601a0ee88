// Package schedule runs a job on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Parse accepts a standard 5-field cron expression (minute hour
// day-of-month month day-of-week) or a descriptor such as "@daily".
// Examples: "0 9 * * *" (daily 9am), "0 9 * * 1-5" (weekdays 9am).
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule is empty")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule '%s': %w", expr, err)
	}
	return sched, nil
}

// Run calls job at every activation of expr, evaluated in loc, until ctx is
// canceled. Runs never overlap; an activation missed while job was running is
// skipped. Run returns ctx.Err() on cancellation.
func Run(ctx context.Context, expr string, loc *time.Location, logger *zap.Logger, job func(context.Context)) error {
	sched, err := Parse(expr)
	if err != nil {
		return err
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	for {
		now := time.Now().In(loc)
		next := sched.Next(now)
		wait := next.Sub(now)
		logger.Info("next scheduled run",
			zap.String("schedule", expr),
			zap.Time("at", next),
			zap.Duration("in", wait.Round(time.Second)),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		start := time.Now()
		job(ctx)
		logger.Info("scheduled run complete", zap.Duration("took", time.Since(start)))
	}
}

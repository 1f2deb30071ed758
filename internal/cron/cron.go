// Package cron runs periodic maintenance for the memory store, such as
// repairing records that were persisted with a fallback embedding.
package cron

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts standard 5-field expressions without seconds.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Job is a maintenance task run on a schedule.
type Job interface {
	// Name identifies the job in logs and Trigger calls. Unique per scheduler.
	Name() string

	// Schedule is a 5-field cron expression such as "*/5 * * * *".
	Schedule() string

	// Run does one pass. It returns early when ctx is cancelled.
	Run(ctx context.Context) error
}

// ValidateSchedule reports whether expr is a usable 5-field expression.
func ValidateSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return nil
}

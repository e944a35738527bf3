/*
Package jobqueue configuration - tunable parameters for the River queue that
drives scheduled engagement runs.

## Quick Configuration Reference:

- Cron is a standard five-field expression (gronx syntax). Every tick inserts
  one engagement_run job.
- MaxWorkers stays at 1: runs are serialized by the engagement lock anyway, so
  extra workers would only lose the lock race.
- JobTimeout should stay below the lock TTL so a stuck run never outlives its
  lock.
- Failed runs are not retried by River; the next tick is the retry.
*/
package jobqueue

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/riverqueue/river"
)

// QueueConfig holds the queue tuning knobs.
type QueueConfig struct {
	MaxWorkers  int
	MaxAttempts int
	JobTimeout  time.Duration
	Cron        string // empty disables the periodic job
	RunOnStart  bool
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  1,
		MaxAttempts: 1,
		JobTimeout:  4 * time.Minute,
		Cron:        "*/15 * * * *",
	}
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	workers := c.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: workers},
	}
}

// CronSchedule adapts a cron expression to river.PeriodicSchedule.
type CronSchedule struct {
	expr string
}

// NewCronSchedule validates expr.
func NewCronSchedule(expr string) (*CronSchedule, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q", expr)
	}
	return &CronSchedule{expr: expr}, nil
}

// Next returns the first tick strictly after current.
func (s *CronSchedule) Next(current time.Time) time.Time {
	next, err := gronx.NextTickAfter(s.expr, current, false)
	if err != nil {
		// unreachable for a validated expression; back off an hour
		return current.Add(time.Hour)
	}
	return next
}

/*
Package jobqueue runs engagement passes from a River queue: a periodic job
inserts engagement_run jobs on a cron schedule, and ad-hoc runs can be
enqueued by the API.

For tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/orchestrator"
)

// Runner executes one engagement pass.
type Runner interface {
	Run(ctx context.Context, opts orchestrator.Options) (orchestrator.Summary, error)
}

// EngagementRunArgs represents the arguments for an engagement run job
type EngagementRunArgs struct {
	AccountID string `json:"account_id,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

// Kind returns the job kind for River
func (EngagementRunArgs) Kind() string {
	return "engagement_run"
}

// EngagementRunWorker handles engagement run jobs
type EngagementRunWorker struct {
	river.WorkerDefaults[EngagementRunArgs]
	runner  Runner
	base    orchestrator.Options
	timeout time.Duration
}

// Timeout bounds a single run.
func (w *EngagementRunWorker) Timeout(*river.Job[EngagementRunArgs]) time.Duration {
	return w.timeout
}

func (w *EngagementRunWorker) Work(ctx context.Context, job *river.Job[EngagementRunArgs]) error {
	opts := w.base
	if job.Args.AccountID != "" {
		opts.AccountID = job.Args.AccountID
	}
	if job.Args.DryRun {
		opts.DryRun = true
	}

	summary, err := w.runner.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("engagement run: %w", err)
	}
	log.Info().
		Int64("job_id", job.ID).
		Str("run_id", summary.RunID).
		Int("sent", summary.ResponsesSent).
		Strs("errors", summary.Errors).
		Msg("engagement run job finished")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	config *QueueConfig
}

func newWorker(runner Runner, base orchestrator.Options, config *QueueConfig) *EngagementRunWorker {
	return &EngagementRunWorker{runner: runner, base: base, timeout: config.JobTimeout}
}

func periodicJobs(config *QueueConfig) ([]*river.PeriodicJob, error) {
	if config.Cron == "" {
		return nil, nil
	}
	schedule, err := NewCronSchedule(config.Cron)
	if err != nil {
		return nil, err
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(schedule, func() (river.JobArgs, *river.InsertOpts) {
			return EngagementRunArgs{}, nil
		}, &river.PeriodicJobOpts{RunOnStart: config.RunOnStart}),
	}, nil
}

// NewJobQueue creates a new job queue instance on pool. River's schema must
// already be migrated.
func NewJobQueue(pool *pgxpool.Pool, runner Runner, base orchestrator.Options, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}
	periodic, err := periodicJobs(config)
	if err != nil {
		return nil, err
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, newWorker(runner, base, config))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       config.RiverQueueConfig(),
		Workers:      workers,
		PeriodicJobs: periodic,
		MaxAttempts:  config.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, config: config}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// Enqueue queues an ad-hoc engagement run and returns its job id.
func (jq *JobQueue) Enqueue(ctx context.Context, args EngagementRunArgs) (int64, error) {
	res, err := jq.client.Insert(ctx, args, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to queue engagement run: %w", err)
	}
	return res.Job.ID, nil
}

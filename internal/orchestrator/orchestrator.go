// Package orchestrator runs one bounded engagement pass: it takes the
// process-wide lock, picks due conversations, ingests their replies and walks
// each new reply through decision, generation, safety and send.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/budget"
	"github.com/autopost/internal/decision"
	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/escalation"
	"github.com/autopost/internal/generate"
	"github.com/autopost/internal/ingest"
	"github.com/autopost/internal/lock"
	"github.com/autopost/internal/logging"
	"github.com/autopost/internal/platform"
	"github.com/autopost/internal/safety"
	"github.com/autopost/internal/scheduler"
	"github.com/autopost/internal/store"
)

const (
	DefaultLockName           = "auto-engagement"
	DefaultInterResponseDelay = 2 * time.Second
	DefaultPoolMultiplier     = 3

	// recordTimeout bounds persisting a reply that was already posted.
	recordTimeout = 10 * time.Second
)

// ErrLockHeld is reported in Summary.Errors when another run holds the lock.
var ErrLockHeld = errors.New("lock held")

// Options is the per-run configuration bundle.
type Options struct {
	AccountID               string
	MaxConversationsToCheck int
	MaxResponsesToSend      int
	MinTimeBetweenChecks    time.Duration
	DryRun                  bool
	UseSmartPolling         bool
	InterResponseDelay      time.Duration
	PoolMultiplier          int
	// MaxChars overrides the platform reply limit when positive.
	MaxChars int
}

func DefaultOptions() Options {
	return Options{
		MaxConversationsToCheck: 10,
		MaxResponsesToSend:      5,
		MinTimeBetweenChecks:    15 * time.Minute,
		UseSmartPolling:         true,
		InterResponseDelay:      DefaultInterResponseDelay,
		PoolMultiplier:          DefaultPoolMultiplier,
		MaxChars:                280,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxConversationsToCheck <= 0 {
		o.MaxConversationsToCheck = d.MaxConversationsToCheck
	}
	if o.MaxResponsesToSend <= 0 {
		o.MaxResponsesToSend = d.MaxResponsesToSend
	}
	if o.MinTimeBetweenChecks <= 0 {
		o.MinTimeBetweenChecks = d.MinTimeBetweenChecks
	}
	if o.InterResponseDelay < 0 {
		o.InterResponseDelay = 0
	}
	if o.PoolMultiplier <= 0 {
		o.PoolMultiplier = d.PoolMultiplier
	}
	return o
}

// Summary reports what a run did.
type Summary struct {
	RunID                string    `json:"runId"`
	ConversationsChecked int       `json:"conversationsChecked"`
	UpdatesFound         int       `json:"updatesFound"`
	ResponsesGenerated   int       `json:"responsesGenerated"`
	ResponsesSent        int       `json:"responsesSent"`
	Errors               []string  `json:"errors"`
	DryRun               bool      `json:"dryRun"`
	StoppedReason        string    `json:"stoppedReason,omitempty"`
	StartedAt            time.Time `json:"startedAt"`
	FinishedAt           time.Time `json:"finishedAt"`
}

func (s *Summary) addError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// Deps are the collaborators of a run.
type Deps struct {
	Engagements store.EngagementStore
	Accounts    store.AccountStore
	Locker      *lock.Locker
	Governor    *budget.Governor
	Adapters    map[string]platform.Adapter // keyed by platform name
	Decision    *decision.Engine
	Generator   *generate.Generator
	Gate        *safety.Gate
	Escalator   *escalation.Escalator

	LockName    string
	LockOptions lock.Options
	// RunLogDir enables per-run transcript files when set.
	RunLogDir string
}

type Orchestrator struct {
	deps      Deps
	ingesters map[string]*ingest.Ingester
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(deps Deps) *Orchestrator {
	if deps.LockName == "" {
		deps.LockName = DefaultLockName
	}
	o := &Orchestrator{
		deps:      deps,
		ingesters: make(map[string]*ingest.Ingester, len(deps.Adapters)),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for name, a := range deps.Adapters {
		o.ingesters[name] = ingest.New(a, deps.Engagements)
	}
	return o
}

// SetClock overrides time.Now for the orchestrator and its ingesters.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	for _, in := range o.ingesters {
		in.SetClock(now)
	}
}

// SetSleep replaces the pause between sends.
func (o *Orchestrator) SetSleep(fn func(ctx context.Context, d time.Duration) error) { o.sleep = fn }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes one engagement pass. Losing the lock race is not an error: the
// summary carries "lock held" and nothing else happens. A returned error
// means the run could not proceed at all; per-conversation failures are only
// collected in Summary.Errors.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Summary, error) {
	opts = opts.withDefaults()
	summary := Summary{RunID: uuid.NewString(), DryRun: opts.DryRun, StartedAt: o.now(), Errors: []string{}}

	acquired, err := o.deps.Locker.WithLock(ctx, o.deps.LockName, o.deps.LockOptions, func(ctx context.Context) error {
		// only the lock holder owns the process-wide transcript
		if o.deps.RunLogDir != "" {
			if rl, err := logging.StartRunLogging(o.deps.RunLogDir, summary.RunID); err != nil {
				log.Warn().Err(err).Msg("run transcript disabled")
			} else {
				defer rl.Close()
			}
		}
		return o.runLocked(ctx, opts, &summary)
	})
	if !acquired {
		summary.Errors = append(summary.Errors, ErrLockHeld.Error())
		summary.FinishedAt = o.now()
		log.Info().Str("lock", o.deps.LockName).Msg("engagement run skipped: lock held")
		return summary, nil
	}

	summary.FinishedAt = o.now()
	log.Info().
		Str("run_id", summary.RunID).
		Bool("dry_run", summary.DryRun).
		Int("checked", summary.ConversationsChecked).
		Int("updates", summary.UpdatesFound).
		Int("generated", summary.ResponsesGenerated).
		Int("sent", summary.ResponsesSent).
		Int("errors", len(summary.Errors)).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("engagement run finished")
	return summary, err
}

func (o *Orchestrator) runLocked(ctx context.Context, opts Options, summary *Summary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engagement run panicked: %v", r)
			summary.Errors = append(summary.Errors, err.Error())
			log.Error().Str("stack", string(debug.Stack())).Msg(err.Error())
			logging.GetCurrentLogger().LogError("run", err)
		}
	}()

	runLog := logging.GetCurrentLogger()
	runLog.LogSection("RUN START")
	runLog.Log("Run ID: %s, dry run: %v, account: %q", summary.RunID, opts.DryRun, opts.AccountID)

	if err := o.deps.Governor.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("budget refresh failed")
	}
	if d, _ := o.deps.Governor.CheckDailyLimits(ctx); !d.Allowed {
		summary.StoppedReason = d.Reason
		runLog.Log("Budget exhausted before start: %s", d.Reason)
		return nil
	}

	pool, err := o.deps.Engagements.FindCandidates(ctx, store.CandidateQuery{
		AccountID: opts.AccountID,
		Limit:     opts.MaxConversationsToCheck * opts.PoolMultiplier,
	})
	if err != nil {
		err = fmt.Errorf("find candidates: %w", err)
		summary.Errors = append(summary.Errors, err.Error())
		return err
	}

	batch := scheduler.SelectBatch(pool, opts.MaxConversationsToCheck, o.now(), scheduler.Options{
		UseSmartPolling:      opts.UseSmartPolling,
		MinTimeBetweenChecks: opts.MinTimeBetweenChecks,
	})
	runLog.Log("Pool: %d candidates, batch: %d", len(pool), len(batch))

	r := &run{Orchestrator: o, opts: opts, summary: summary, accounts: make(map[string]platform.Account)}
	for _, c := range batch {
		if err := ctx.Err(); err != nil {
			summary.addError("run interrupted: %v", err)
			return nil
		}
		if stop := r.process(ctx, c.Engagement); stop {
			break
		}
	}
	return nil
}

// run holds per-pass state.
type run struct {
	*Orchestrator
	opts      Options
	summary   *Summary
	accounts  map[string]platform.Account
	responded int // sends, or would-be sends in a dry run
}

func (r *run) account(ctx context.Context, id string) (platform.Account, error) {
	if a, ok := r.accounts[id]; ok {
		return a, nil
	}
	a, err := r.deps.Accounts.GetAccount(ctx, id)
	if err != nil {
		return platform.Account{}, err
	}
	r.accounts[id] = a
	return a, nil
}

func (r *run) budgetAllows(ctx context.Context, stage string) bool {
	d, _ := r.deps.Governor.CheckDailyLimits(ctx)
	if d.Allowed {
		return true
	}
	r.summary.StoppedReason = d.Reason
	log.Info().Str("stage", stage).Str("reason", d.Reason).Msg("daily budget exhausted; stopping run")
	return false
}

// process handles one engagement and reports whether the run should stop.
func (r *run) process(ctx context.Context, e *engagement.Engagement) (stop bool) {
	logger := log.With().Str("engagement_id", e.ID).Str("platform", e.Platform).Logger()
	runLog := logging.GetCurrentLogger()
	runLog.LogSection("ENGAGEMENT " + e.ID)

	account, err := r.account(ctx, e.AccountID)
	if err != nil {
		r.summary.addError("engagement %s: load account %s: %v", e.ID, e.AccountID, err)
		return false
	}
	adapter, ok := r.deps.Adapters[e.Platform]
	if !ok {
		r.summary.addError("engagement %s: no adapter for platform %q", e.ID, e.Platform)
		return false
	}

	if e.Conversation == nil {
		first := engagement.InitConversation{Conversation: *engagement.NewConversation(e.TargetPostID)}
		if err := engagement.Mutate(ctx, r.deps.Engagements, e, r.now(), first); err != nil {
			r.summary.addError("engagement %s: init conversation: %v", e.ID, err)
			return false
		}
		logger.Info().Msg("conversation synthesized on first contact")
	}

	r.summary.ConversationsChecked++
	fresh, err := r.ingesters[e.Platform].FetchNewReplies(ctx, account, e)
	if err != nil {
		r.summary.addError("engagement %s: %v", e.ID, err)
		runLog.LogError("ingest", err)
		if _, escErr := r.deps.Escalator.RecordFailure(ctx, e, err); escErr != nil {
			r.summary.addError("engagement %s: record failure: %v", e.ID, escErr)
		}
		return false
	}
	if err := r.deps.Escalator.RecordSuccess(ctx, e); err != nil {
		logger.Warn().Err(err).Msg("failed to reset failure counter")
	}

	if len(fresh) == 0 {
		runLog.Log("No new replies")
		return false
	}
	r.summary.UpdatesFound += len(fresh)
	runLog.Log("%d new replies", len(fresh))

	if !e.CanRespond() {
		runLog.Log("Auto-response unavailable (state %s)", e.State())
		return false
	}
	if !r.budgetAllows(ctx, "before_generation") {
		return true
	}

	latest := fresh[len(fresh)-1]
	logger.Debug().Str("state", string(engagement.StateResponding)).Str("message_id", latest.ID).Msg("responding")

	d := r.deps.Decision.ShouldRespond(ctx, e.Conversation, latest)
	runLog.Log("Decision: respond=%v fallback=%v reason=%q tone=%q", d.Respond, d.Fallback, d.Reason, d.Tone)
	if !d.Respond {
		return false
	}

	limits := platform.DefaultLimits(e.Platform)
	if r.opts.MaxChars > 0 {
		limits.MaxChars = r.opts.MaxChars
	}
	reply, err := r.deps.Generator.Generate(ctx, generate.Request{Engagement: e, Latest: latest, Tone: d.Tone}, limits)
	if err != nil {
		r.summary.addError("engagement %s: generate reply: %v", e.ID, err)
		return false
	}
	r.summary.ResponsesGenerated++
	runLog.Log("Candidate reply: %s", reply)

	verdict := r.deps.Gate.ValidateWithin(ctx, reply, latest.Text, e, limits)
	if !verdict.Safe {
		runLog.Log("Rejected by %s (%s): %s", verdict.Check, verdict.Severity, verdict.Reason)
		if _, err := r.deps.Escalator.DisableForSafety(ctx, e, verdict); err != nil {
			r.summary.addError("engagement %s: disable after safety rejection: %v", e.ID, err)
		}
		return false
	}

	if !r.budgetAllows(ctx, "before_send") {
		return true
	}

	if r.opts.DryRun {
		logger.Info().Str("reply", reply).Msg("dry run: reply not sent")
		r.responded++
		return r.responded >= r.opts.MaxResponsesToSend
	}

	posted, err := adapter.PostReply(ctx, account, latest.ID, reply)
	if err != nil {
		r.summary.addError("engagement %s: post reply: %v", e.ID, err)
		if _, escErr := r.deps.Escalator.RecordFailure(ctx, e, err); escErr != nil {
			r.summary.addError("engagement %s: record failure: %v", e.ID, escErr)
		}
		return false
	}

	sent := engagement.Message{
		ID:        posted.ReplyID,
		AuthorID:  account.PlatformUserID,
		Text:      reply,
		Timestamp: r.now(),
		IsFromUs:  true,
		URL:       posted.ReplyURL,
	}
	if sent.ID == "" {
		sent.ID = engagement.LocalIDPrefix + uuid.NewString()
	}
	r.deps.Governor.RecordSent()
	r.summary.ResponsesSent++
	r.responded++
	// The reply is public now; record it even when the run's context is gone.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	err = engagement.Mutate(recordCtx, r.deps.Engagements, e, sent.Timestamp,
		engagement.AppendMessage{Message: sent}, engagement.IncrementResponseCount{})
	cancel()
	if err != nil {
		r.summary.addError("engagement %s: record sent reply: %v", e.ID, err)
	}
	logger.Info().Str("reply_id", sent.ID).Int("count", e.Conversation.CurrentAutoResponseCount).Msg("reply sent")

	if r.responded >= r.opts.MaxResponsesToSend {
		return true
	}
	if err := r.sleep(ctx, r.opts.InterResponseDelay); err != nil {
		return true
	}
	return false
}

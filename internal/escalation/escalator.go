package escalation

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/safety"
)

const DefaultFailureThreshold = 5

var authPatterns = []string{
	"unauthorized",
	"401",
	"expired",
	"could not get user info",
	"invalid token",
}

// IsAuthError reports whether err means the account credentials are no longer
// usable. Such failures are permanent and never counted.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range authPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Outcome is what RecordFailure did to the engagement.
type Outcome string

const (
	OutcomeCounted  Outcome = "counted"
	OutcomeDisabled Outcome = "disabled"
)

type Escalator struct {
	store     engagement.Applier
	threshold int
	now       func() time.Time
}

func New(store engagement.Applier, threshold int) *Escalator {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Escalator{store: store, threshold: threshold, now: time.Now}
}

// SetClock overrides time.Now.
func (x *Escalator) SetClock(now func() time.Time) { x.now = now }

// RecordFailure handles an adapter error for e. Auth errors disable at once;
// anything else is counted and disables when the count reaches the threshold.
func (x *Escalator) RecordFailure(ctx context.Context, e *engagement.Engagement, cause error) (Outcome, error) {
	if IsAuthError(cause) {
		reason := "authentication failed: " + cause.Error()
		if err := engagement.Mutate(ctx, x.store, e, x.now(), engagement.Disable{Reason: reason}); err != nil {
			return "", err
		}
		log.Warn().Str("engagement_id", e.ID).Err(cause).Msg("engagement disabled after authentication failure")
		return OutcomeDisabled, nil
	}

	if err := engagement.Mutate(ctx, x.store, e, x.now(), engagement.RecordFailure{}); err != nil {
		return "", err
	}
	failures := e.Conversation.ConsecutiveFailures
	if failures < x.threshold {
		log.Info().Str("engagement_id", e.ID).Int("consecutive_failures", failures).Err(cause).Msg("adapter failure recorded")
		return OutcomeCounted, nil
	}

	reason := "too many consecutive failures: " + cause.Error()
	if err := engagement.Mutate(ctx, x.store, e, x.now(), engagement.Disable{Reason: reason}); err != nil {
		return OutcomeCounted, err
	}
	log.Warn().Str("engagement_id", e.ID).Int("consecutive_failures", failures).Msg("engagement disabled after repeated failures")
	return OutcomeDisabled, nil
}

// RecordSuccess clears the failure counter when it is non-zero.
func (x *Escalator) RecordSuccess(ctx context.Context, e *engagement.Engagement) error {
	if e.Conversation == nil || e.Conversation.ConsecutiveFailures == 0 {
		return nil
	}
	return engagement.Mutate(ctx, x.store, e, x.now(), engagement.ResetFailures{})
}

// DisableForSafety disables e when the gate reported a high-severity
// violation. It reports whether it did.
func (x *Escalator) DisableForSafety(ctx context.Context, e *engagement.Engagement, res safety.Result) (bool, error) {
	if res.Safe || res.Severity != safety.SeverityHigh {
		return false, nil
	}
	reason := "safety: " + res.Check + ": " + res.Reason
	if err := engagement.Mutate(ctx, x.store, e, x.now(), engagement.Disable{Reason: reason}); err != nil {
		return false, err
	}
	log.Warn().Str("engagement_id", e.ID).Str("check", res.Check).Msg("engagement disabled by safety gate")
	return true, nil
}

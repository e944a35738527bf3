package scheduler

import (
	"sort"
	"time"

	"github.com/autopost/internal/engagement"
)

// Polling tiers by time since the newest message in the thread.
var tiers = []struct {
	below    time.Duration
	interval time.Duration
}{
	{2 * time.Hour, 15 * time.Minute},
	{6 * time.Hour, 30 * time.Minute},
	{24 * time.Hour, 60 * time.Minute},
	{72 * time.Hour, 120 * time.Minute},
}

const dormantInterval = 240 * time.Minute

// AdaptiveInterval maps conversation recency to a polling interval.
func AdaptiveInterval(sinceLastReply time.Duration) time.Duration {
	for _, t := range tiers {
		if sinceLastReply < t.below {
			return t.interval
		}
	}
	return dormantInterval
}

type Options struct {
	UseSmartPolling      bool
	MinTimeBetweenChecks time.Duration
}

func DefaultOptions() Options {
	return Options{UseSmartPolling: true, MinTimeBetweenChecks: 15 * time.Minute}
}

type Candidate struct {
	Engagement *engagement.Engagement
	Score      int
	Interval   time.Duration
}

// IntervalFor returns the polling interval for e at now.
func IntervalFor(e *engagement.Engagement, now time.Time) time.Duration {
	last, ok := e.Conversation.LastReplyAt()
	if !ok {
		return dormantInterval
	}
	return AdaptiveInterval(now.Sub(last))
}

// Score ranks an engagement; higher is checked first.
func Score(e *engagement.Engagement, now time.Time) int {
	score := 0
	conv := e.Conversation

	if last, ok := conv.LastReplyAt(); ok {
		switch age := now.Sub(last); {
		case age < 6*time.Hour:
			score += 100
		case age < 24*time.Hour:
			score += 50
		case age < 72*time.Hour:
			score += 20
		}
	}

	if conv != nil {
		score += min(len(conv.Messages)*5, 30)
	}

	switch {
	case conv == nil || conv.LastCheckedAt == nil:
		score += 40
	case now.Sub(*conv.LastCheckedAt) > 12*time.Hour:
		score += 15
	}
	return score
}

func lastChecked(e *engagement.Engagement) *time.Time {
	if e.Conversation == nil {
		return nil
	}
	return e.Conversation.LastCheckedAt
}

// SelectBatch filters the pool down to engagements due for a check and returns
// at most maxBatch of them. With smart polling the result is ordered by score
// descending (ties keep pool order); otherwise a fixed interval applies and
// pool order is kept.
func SelectBatch(pool []*engagement.Engagement, maxBatch int, now time.Time, opts Options) []Candidate {
	if maxBatch <= 0 {
		return nil
	}

	due := make([]Candidate, 0, len(pool))
	for _, e := range pool {
		interval := opts.MinTimeBetweenChecks
		if opts.UseSmartPolling {
			interval = IntervalFor(e, now)
		}
		if checked := lastChecked(e); checked != nil && now.Sub(*checked) < interval {
			continue
		}
		due = append(due, Candidate{Engagement: e, Score: Score(e, now), Interval: interval})
	}

	if opts.UseSmartPolling {
		sort.SliceStable(due, func(i, j int) bool { return due[i].Score > due[j].Score })
	}
	if len(due) > maxBatch {
		due = due[:maxBatch]
	}
	return due
}

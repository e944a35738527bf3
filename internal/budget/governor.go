package budget

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// UsageCounter reports how many replies were sent since a point in time.
type UsageCounter interface {
	CountSentSince(ctx context.Context, since time.Time) (int, error)
}

type Limits struct {
	MaxDailyResponses int
	MaxDailyCost      float64
	CostPerResponse   float64
}

func DefaultLimits() Limits {
	return Limits{MaxDailyResponses: 50, MaxDailyCost: 1.00, CostPerResponse: 0.02}
}

type Decision struct {
	Allowed bool
	Reason  string
}

// Governor caches the day's sent count. The store stays the source of truth;
// the snapshot is rebuilt whenever the UTC date moves on or Refresh is called.
type Governor struct {
	counter UsageCounter
	limits  Limits
	now     func() time.Time

	mu       sync.Mutex
	day      string
	sent     int
	hasValue bool
}

func NewGovernor(counter UsageCounter, limits Limits) *Governor {
	return &Governor{counter: counter, limits: limits, now: time.Now}
}

// SetClock overrides time.Now.
func (g *Governor) SetClock(now func() time.Time) { g.now = now }

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Refresh recomputes the snapshot from the store.
func (g *Governor) Refresh(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recompute(ctx, g.now())
}

func (g *Governor) recompute(ctx context.Context, now time.Time) error {
	n, err := g.counter.CountSentSince(ctx, midnightUTC(now))
	if err != nil {
		g.hasValue = false
		return fmt.Errorf("count daily usage: %w", err)
	}
	g.day = dayKey(now)
	g.sent = n
	g.hasValue = true
	log.Debug().Str("day", g.day).Int("sent", n).Msg("budget snapshot refreshed")
	return nil
}

// CheckDailyLimits reports whether one more reply fits today's caps.
func (g *Governor) CheckDailyLimits(ctx context.Context) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.hasValue || g.day != dayKey(now) {
		if err := g.recompute(ctx, now); err != nil {
			return Decision{Allowed: false, Reason: "usage unavailable"}, err
		}
	}

	if g.limits.MaxDailyResponses > 0 && g.sent >= g.limits.MaxDailyResponses {
		return Decision{Reason: fmt.Sprintf("daily response limit reached (%d/%d)", g.sent, g.limits.MaxDailyResponses)}, nil
	}
	if g.limits.MaxDailyCost > 0 {
		cost := float64(g.sent) * g.limits.CostPerResponse
		if int64(g.sent)*micros(g.limits.CostPerResponse) >= micros(g.limits.MaxDailyCost) {
			return Decision{Reason: fmt.Sprintf("daily cost limit reached (%.2f/%.2f)", cost, g.limits.MaxDailyCost)}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// RecordSent bumps the cached count after a successful send.
func (g *Governor) RecordSent() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if g.hasValue && g.day == dayKey(now) {
		g.sent++
	}
}

// Sent returns the cached count for the current snapshot day.
func (g *Governor) Sent() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent
}

// micros converts a currency amount to integer millionths so cap comparisons
// do not depend on float rounding.
func micros(v float64) int64 {
	return int64(math.Round(v * 1e6))
}

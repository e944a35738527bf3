package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	n     int
	err   error
	calls int
	since []time.Time
}

func (f *fakeCounter) CountSentSince(_ context.Context, since time.Time) (int, error) {
	f.calls++
	f.since = append(f.since, since)
	return f.n, f.err
}

func TestCheckDailyLimitsCountsFromMidnightUTC(t *testing.T) {
	c := &fakeCounter{n: 3}
	g := NewGovernor(c, DefaultLimits())
	g.SetClock(func() time.Time { return time.Date(2026, 10, 16, 15, 30, 0, 0, time.FixedZone("X", 3*3600)) })

	d, err := g.CheckDailyLimits(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), c.since[0])

	_, err = g.CheckDailyLimits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, c.calls, "snapshot is reused within the same day")
}

func TestResponseCap(t *testing.T) {
	c := &fakeCounter{n: 1}
	g := NewGovernor(c, Limits{MaxDailyResponses: 2})

	d, err := g.CheckDailyLimits(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	g.RecordSent()
	d, err = g.CheckDailyLimits(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily response limit")
}

func TestCostCap(t *testing.T) {
	c := &fakeCounter{n: 10}
	g := NewGovernor(c, Limits{MaxDailyResponses: 100, MaxDailyCost: 0.5, CostPerResponse: 0.05})

	d, err := g.CheckDailyLimits(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "cost")
}

func TestSnapshotRollsOverAtMidnight(t *testing.T) {
	c := &fakeCounter{n: 50}
	now := time.Date(2026, 10, 16, 23, 59, 0, 0, time.UTC)
	g := NewGovernor(c, DefaultLimits())
	g.SetClock(func() time.Time { return now })

	d, err := g.CheckDailyLimits(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	c.n = 0
	now = now.Add(2 * time.Minute)
	d, err = g.CheckDailyLimits(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, c.calls)
}

func TestRefreshForcesRecompute(t *testing.T) {
	c := &fakeCounter{n: 0}
	g := NewGovernor(c, DefaultLimits())
	_, _ = g.CheckDailyLimits(context.Background())

	c.n = 7
	require.NoError(t, g.Refresh(context.Background()))
	assert.Equal(t, 7, g.Sent())
}

func TestCounterErrorDenies(t *testing.T) {
	c := &fakeCounter{err: errors.New("db down")}
	g := NewGovernor(c, DefaultLimits())

	d, err := g.CheckDailyLimits(context.Background())
	require.Error(t, err)
	assert.False(t, d.Allowed)
}

func TestCostCapIsExactAtDecimalBoundary(t *testing.T) {
	// 11 * 0.03 is 0.32999999999999996 in float64
	c := &fakeCounter{n: 11}
	g := NewGovernor(c, Limits{MaxDailyCost: 0.33, CostPerResponse: 0.03})

	d, err := g.CheckDailyLimits(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "cost")

	c.n = 10
	require.NoError(t, g.Refresh(context.Background()))
	d, err = g.CheckDailyLimits(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

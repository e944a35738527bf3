package escalation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/safety"
	"github.com/autopost/internal/store"
)

func setup(t *testing.T) (*store.InMemoryStore, *engagement.Engagement) {
	t.Helper()
	s := store.NewInMemoryStore()
	s.PutEngagement(&engagement.Engagement{ID: "e1", Status: engagement.StatusActiveConversation, Conversation: engagement.NewConversation("t")})
	e, err := s.Get(context.Background(), "e1")
	require.NoError(t, err)
	return s, e
}

func TestIsAuthError(t *testing.T) {
	for _, msg := range []string{"HTTP 401", "Unauthorized", "token expired", "Could not get user info", "invalid token supplied"} {
		assert.True(t, IsAuthError(errors.New(msg)), msg)
	}
	for _, msg := range []string{"503 service unavailable", "connection reset", "rate limited"} {
		assert.False(t, IsAuthError(errors.New(msg)), msg)
	}
	assert.False(t, IsAuthError(nil))
	assert.True(t, IsAuthError(fmt.Errorf("check replies: %w", errors.New("401 Unauthorized"))))
}

func TestAuthFailureDisablesWithoutCounting(t *testing.T) {
	s, e := setup(t)
	out, err := New(s, 5).RecordFailure(context.Background(), e, errors.New("401 Unauthorized"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisabled, out)

	stored, _ := s.Get(context.Background(), "e1")
	assert.Equal(t, engagement.StatusDisabled, stored.Status)
	assert.False(t, stored.Conversation.AutoResponseEnabled)
	assert.Equal(t, 0, stored.Conversation.ConsecutiveFailures)
	assert.Contains(t, stored.Conversation.DisabledReason, "authentication")
}

func TestFiveTransientFailuresDisable(t *testing.T) {
	s, e := setup(t)
	x := New(s, 5)
	for i := 1; i <= 4; i++ {
		out, err := x.RecordFailure(context.Background(), e, errors.New("503 service unavailable"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeCounted, out)
		assert.Equal(t, i, e.Conversation.ConsecutiveFailures)
	}
	out, err := x.RecordFailure(context.Background(), e, errors.New("503 service unavailable"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisabled, out)

	stored, _ := s.Get(context.Background(), "e1")
	assert.Equal(t, 5, stored.Conversation.ConsecutiveFailures)
	assert.Equal(t, engagement.StateDisabled, stored.State())
}

func TestSuccessResetsCounter(t *testing.T) {
	s, e := setup(t)
	x := New(s, 5)
	_, _ = x.RecordFailure(context.Background(), e, errors.New("timeout"))
	_, _ = x.RecordFailure(context.Background(), e, errors.New("timeout"))
	require.NoError(t, x.RecordSuccess(context.Background(), e))

	stored, _ := s.Get(context.Background(), "e1")
	assert.Equal(t, 0, stored.Conversation.ConsecutiveFailures)

	before := len(s.AppliedCommands())
	require.NoError(t, x.RecordSuccess(context.Background(), e))
	assert.Len(t, s.AppliedCommands(), before, "no write when already zero")
}

func TestDisableForSafety(t *testing.T) {
	s, e := setup(t)
	x := New(s, 5)

	disabled, err := x.DisableForSafety(context.Background(), e, safety.Result{Safe: false, Severity: safety.SeverityMedium, Check: "relevance"})
	require.NoError(t, err)
	assert.False(t, disabled)

	disabled, err = x.DisableForSafety(context.Background(), e, safety.Result{Safe: false, Severity: safety.SeverityHigh, Check: "toxicity", Reason: "offensive"})
	require.NoError(t, err)
	assert.True(t, disabled)

	stored, _ := s.Get(context.Background(), "e1")
	assert.Equal(t, "safety: toxicity: offensive", stored.Conversation.DisabledReason)
}

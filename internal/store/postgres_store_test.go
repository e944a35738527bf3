package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopost/internal/database"
	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/platform"
	"github.com/autopost/internal/store"
)

func newPostgresStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := database.NewDB(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.MigrateUp(db))

	pool, err := database.NewPool(context.Background(), url, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return store.NewPostgresStore(pool)
}

func TestPostgresEngagementLifecycle(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	acct := platform.Account{ID: "acct-" + uuid.NewString(), Platform: "twitter", Handle: "autopost"}
	require.NoError(t, s.PutAccount(ctx, acct))

	id := uuid.NewString()
	created, err := s.CreateEngagement(ctx, &engagement.Engagement{ID: id, AccountID: acct.ID, Platform: "twitter", TargetPostID: "post-" + id})
	require.NoError(t, err)
	require.True(t, created)

	e, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, e.Conversation)
	assert.Equal(t, engagement.StatusPending, e.Status)

	conv := engagement.NewConversation("post-" + id)
	conv.MaxAutoResponses = 1
	require.NoError(t, s.Apply(ctx, id, engagement.InitConversation{Conversation: *conv}))
	assert.ErrorIs(t, s.Apply(ctx, id, engagement.InitConversation{Conversation: *conv}), engagement.ErrConversationExists)

	now := time.Now().UTC().Truncate(time.Microsecond)
	msg := engagement.Message{ID: "m1", AuthorID: "alice", Text: "hi", Timestamp: now}
	require.NoError(t, s.Apply(ctx, id, engagement.AppendMessage{Message: msg}, engagement.MarkChecked{At: now}))
	assert.ErrorIs(t, s.Apply(ctx, id, engagement.AppendMessage{Message: msg}), engagement.ErrDuplicateMessage)

	require.NoError(t, s.Apply(ctx, id, engagement.IncrementResponseCount{}))
	assert.ErrorIs(t, s.Apply(ctx, id, engagement.IncrementResponseCount{}), engagement.ErrCapReached)

	e, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, e.Conversation)
	assert.Equal(t, 1, e.Conversation.CurrentAutoResponseCount)
	assert.Len(t, e.Conversation.Messages, 1)
	require.NotNil(t, e.Conversation.LastCheckedAt)
	assert.True(t, now.Equal(*e.Conversation.LastCheckedAt))

	cands, err := s.FindCandidates(ctx, store.CandidateQuery{AccountID: acct.ID, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, cands, "capped engagement is not a candidate")

	require.NoError(t, s.Apply(ctx, id, engagement.Disable{Reason: "test"}))
	assert.ErrorIs(t, s.Apply(ctx, id, engagement.SetStatus{Status: engagement.StatusActiveConversation}), engagement.ErrDisabled)
}

func TestPostgresLocks(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	name := "test-lock-" + uuid.NewString()
	now := time.Now()

	ok, holder, err := s.TryAcquire(ctx, name, "a", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", holder)

	ok, holder, err = s.TryAcquire(ctx, name, "b", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "a", holder)

	later := now.Add(2 * time.Minute)
	ok, _, err = s.TryAcquire(ctx, name, "b", later, later.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "expired record is taken over")

	released, err := s.Release(ctx, name, "a")
	require.NoError(t, err)
	assert.False(t, released)
	released, err = s.Release(ctx, name, "b")
	require.NoError(t, err)
	assert.True(t, released)
}

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/platform"
	"github.com/autopost/internal/store"
)

type fakeAdapter struct {
	replies    []platform.Reply
	err        error
	ownID      string
	ownIDErr   error
	ownIDCalls int
	lastSince  *time.Time
	lastAnchor string
}

func (f *fakeAdapter) CheckConversationReplies(_ context.Context, _ platform.Account, _ string, since *time.Time, anchor string) ([]platform.Reply, error) {
	f.lastSince = since
	f.lastAnchor = anchor
	return f.replies, f.err
}

func (f *fakeAdapter) GetOwnUserID(context.Context, platform.Account) (string, error) {
	f.ownIDCalls++
	return f.ownID, f.ownIDErr
}

func (f *fakeAdapter) PostReply(context.Context, platform.Account, string, string) (platform.PostedReply, error) {
	return platform.PostedReply{}, nil
}

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, status engagement.Status, msgs ...engagement.Message) (*store.InMemoryStore, *engagement.Engagement) {
	t.Helper()
	s := store.NewInMemoryStore()
	conv := engagement.NewConversation("thread-1")
	conv.Messages = msgs
	e := &engagement.Engagement{ID: "e1", AccountID: "acc", Status: status, TargetPostID: "thread-1", Conversation: conv}
	s.PutEngagement(e)
	got, err := s.Get(context.Background(), "e1")
	require.NoError(t, err)
	return s, got
}

func messageIDs(ms []engagement.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestFetchNewRepliesFiltersAndSorts(t *testing.T) {
	s, e := setup(t, engagement.StatusPending,
		engagement.Message{ID: "ours", AuthorID: "me", IsFromUs: true, Timestamp: now.Add(-3 * time.Hour)})
	ad := &fakeAdapter{ownID: "me", replies: []platform.Reply{
		{ID: "r2", AuthorID: "them", Text: "second", CreatedAt: now.Add(-time.Hour)},
		{ID: "r1", AuthorID: "them", Text: "first", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "self", AuthorID: "me", Text: "echo", CreatedAt: now.Add(-90 * time.Minute)},
		{ID: "flagged", AuthorID: "alt", IsFromUs: true, CreatedAt: now},
		{ID: "ours", AuthorID: "them", CreatedAt: now},
		{ID: "r1", AuthorID: "them", Text: "first", CreatedAt: now.Add(-2 * time.Hour)},
	}}
	in := New(ad, s)
	in.SetClock(func() time.Time { return now })

	fresh, err := in.FetchNewReplies(context.Background(), platform.Account{ID: "acc"}, e)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"r1", "r2"}, messageIDs(fresh)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	assert.Equal(t, "ours", ad.lastAnchor)

	stored, err := s.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ours", "r1", "r2"}, messageIDs(stored.Conversation.Messages))
	assert.Equal(t, engagement.StatusActiveConversation, stored.Status)
	require.NotNil(t, stored.Conversation.LastCheckedAt)
	assert.Equal(t, now, *stored.Conversation.LastCheckedAt)
	assert.Equal(t, stored.Conversation.Messages, e.Conversation.Messages)
}

func TestFetchNewRepliesIsIdempotent(t *testing.T) {
	s, e := setup(t, engagement.StatusActiveConversation)
	ad := &fakeAdapter{ownID: "me", replies: []platform.Reply{{ID: "r1", AuthorID: "them", CreatedAt: now}}}
	in := New(ad, s)

	first, err := in.FetchNewReplies(context.Background(), platform.Account{ID: "acc"}, e)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := in.FetchNewReplies(context.Background(), platform.Account{ID: "acc"}, e)
	require.NoError(t, err)
	assert.Empty(t, second)

	stored, _ := s.Get(context.Background(), "e1")
	assert.Len(t, stored.Conversation.Messages, 1)
	assert.Equal(t, 1, ad.ownIDCalls, "own id is cached per account")
}

func TestFetchNewRepliesStampsCheckOnAdapterError(t *testing.T) {
	s, e := setup(t, engagement.StatusActiveConversation)
	ad := &fakeAdapter{err: errors.New("503 service unavailable")}
	in := New(ad, s)
	in.SetClock(func() time.Time { return now })

	_, err := in.FetchNewReplies(context.Background(), platform.Account{ID: "acc"}, e)
	require.Error(t, err)

	stored, _ := s.Get(context.Background(), "e1")
	require.NotNil(t, stored.Conversation.LastCheckedAt)
	assert.Equal(t, now, *stored.Conversation.LastCheckedAt)
}

func TestOwnUserIDFallsBackToStoredID(t *testing.T) {
	s, e := setup(t, engagement.StatusActiveConversation)
	ad := &fakeAdapter{ownIDErr: errors.New("rate limited"), replies: []platform.Reply{
		{ID: "x", AuthorID: "stored-me", CreatedAt: now},
		{ID: "y", AuthorID: "them", CreatedAt: now},
	}}
	in := New(ad, s)

	fresh, err := in.FetchNewReplies(context.Background(), platform.Account{ID: "acc", PlatformUserID: "stored-me"}, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, messageIDs(fresh))
}

func TestFetchNewRepliesRequiresConversation(t *testing.T) {
	in := New(&fakeAdapter{}, store.NewInMemoryStore())
	_, err := in.FetchNewReplies(context.Background(), platform.Account{}, &engagement.Engagement{ID: "x"})
	assert.ErrorIs(t, err, engagement.ErrNoConversation)
}

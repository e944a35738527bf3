package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/platform"
)

// Ingester pulls new replies for an engagement from its platform and records
// them on the aggregate.
type Ingester struct {
	adapter platform.Adapter
	store   engagement.Applier
	now     func() time.Time

	mu     sync.Mutex
	ownIDs map[string]string // account id -> platform user id
}

func New(adapter platform.Adapter, store engagement.Applier) *Ingester {
	return &Ingester{adapter: adapter, store: store, now: time.Now, ownIDs: make(map[string]string)}
}

// SetClock overrides time.Now.
func (in *Ingester) SetClock(now func() time.Time) { in.now = now }

// OwnUserID resolves the platform identity of account, cached for the
// ingester's lifetime. A lookup failure falls back to the stored id.
func (in *Ingester) OwnUserID(ctx context.Context, account platform.Account) string {
	in.mu.Lock()
	id, ok := in.ownIDs[account.ID]
	in.mu.Unlock()
	if ok {
		return id
	}

	id, err := in.adapter.GetOwnUserID(ctx, account)
	if err != nil || id == "" {
		if err != nil {
			log.Warn().Err(err).Str("account_id", account.ID).Msg("could not resolve own user id; using stored id")
		}
		return account.PlatformUserID
	}

	in.mu.Lock()
	in.ownIDs[account.ID] = id
	in.mu.Unlock()
	return id
}

// FetchNewReplies asks the adapter for replies since the last check, keeps
// only unseen messages from other participants, appends them in timestamp
// order and stamps lastCheckedAt. The stamp is written even when the adapter
// fails, so a broken thread does not stay at the head of the queue.
func (in *Ingester) FetchNewReplies(ctx context.Context, account platform.Account, e *engagement.Engagement) ([]engagement.Message, error) {
	conv := e.Conversation
	if conv == nil {
		return nil, engagement.ErrNoConversation
	}

	ownID := in.OwnUserID(ctx, account)
	replies, fetchErr := in.adapter.CheckConversationReplies(ctx, account, e.ThreadID(), conv.LastCheckedAt, conv.LastOwnMessageID())
	checked := engagement.MarkChecked{At: in.now()}

	if fetchErr != nil {
		if err := engagement.Mutate(ctx, in.store, e, checked.At, checked); err != nil {
			log.Error().Err(err).Str("engagement_id", e.ID).Msg("failed to stamp last check after adapter error")
		}
		return nil, fmt.Errorf("check conversation replies: %w", fetchErr)
	}

	fresh := filterNew(conv, replies, ownID)
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Timestamp.Before(fresh[j].Timestamp) })

	cmds := make([]engagement.Command, 0, len(fresh)+2)
	for _, m := range fresh {
		cmds = append(cmds, engagement.AppendMessage{Message: m})
	}
	if len(fresh) > 0 && e.Status == engagement.StatusPending {
		cmds = append(cmds, engagement.SetStatus{Status: engagement.StatusActiveConversation})
	}
	cmds = append(cmds, checked)

	if err := engagement.Mutate(ctx, in.store, e, checked.At, cmds...); err != nil {
		return nil, fmt.Errorf("record replies: %w", err)
	}

	if len(fresh) > 0 {
		log.Info().Str("engagement_id", e.ID).Int("new_replies", len(fresh)).Msg("ingested conversation replies")
	}
	return fresh, nil
}

func filterNew(conv *engagement.Conversation, replies []platform.Reply, ownID string) []engagement.Message {
	seen := make(map[string]struct{}, len(conv.Messages)+len(replies))
	for _, m := range conv.Messages {
		seen[m.ID] = struct{}{}
	}
	out := make([]engagement.Message, 0, len(replies))
	for _, r := range replies {
		if r.ID == "" || r.IsFromUs {
			continue
		}
		if ownID != "" && r.AuthorID == ownID {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r.ToMessage())
	}
	return out
}

package platform

// Provider-agnostic surface for reading conversation replies and posting
// replies on a named social account. Hosts implement Adapter.

import (
	"context"
	"time"

	"github.com/autopost/internal/engagement"
)

// Account identifies the social account an engagement belongs to.
type Account struct {
	ID             string
	Platform       string
	Handle         string
	PlatformUserID string
	AccessToken    string
}

// Reply is a single message returned by the host.
type Reply struct {
	ID        string
	AuthorID  string
	Text      string
	CreatedAt time.Time
	URL       string
	// IsFromUs is set by adapters that can tell the message was authored by
	// the account itself.
	IsFromUs bool
}

// PostedReply is returned after a reply was published.
type PostedReply struct {
	ReplyID  string
	ReplyURL string
}

// Adapter is the platform contract consumed by the engagement scheduler.
type Adapter interface {
	// CheckConversationReplies lists replies in threadID newer than since,
	// anchored after ownLastMessageID when it is set.
	CheckConversationReplies(ctx context.Context, account Account, threadID string, since *time.Time, ownLastMessageID string) ([]Reply, error)

	// GetOwnUserID returns the platform user id of account, or "" when unknown.
	GetOwnUserID(ctx context.Context, account Account) (string, error)

	// PostReply publishes text as a reply to parentMessageID.
	PostReply(ctx context.Context, account Account, parentMessageID, text string) (PostedReply, error)
}

// ToMessage converts a host reply to an inbound conversation message.
func (r Reply) ToMessage() engagement.Message {
	return engagement.Message{
		ID:        r.ID,
		AuthorID:  r.AuthorID,
		Text:      r.Text,
		Timestamp: r.CreatedAt,
		URL:       r.URL,
	}
}

// Limits describes per-platform content constraints.
type Limits struct {
	MaxChars int
}

// DefaultLimits returns limits for a known platform name.
func DefaultLimits(platform string) Limits {
	switch platform {
	case "linkedin":
		return Limits{MaxChars: 1250}
	case "threads":
		return Limits{MaxChars: 500}
	default:
		return Limits{MaxChars: 280}
	}
}

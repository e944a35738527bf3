package engagement

// Domain models for tracked conversation threads and their automation state.

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending            Status = "pending"
	StatusActiveConversation Status = "active_conversation"
	StatusDisabled           Status = "disabled"
)

// DefaultMaxAutoResponses is applied when a conversation is synthesized.
const DefaultMaxAutoResponses = 3

type Message struct {
	ID        string
	AuthorID  string
	Text      string
	Timestamp time.Time
	IsFromUs  bool
	URL       string // optional permalink
}

type Conversation struct {
	ThreadID                 string
	Messages                 []Message
	AutoResponseEnabled      bool
	MaxAutoResponses         int
	CurrentAutoResponseCount int
	LastCheckedAt            *time.Time
	ConsecutiveFailures      int
	DisabledReason           string
	DisabledAt               *time.Time
}

// Engagement is one tracked (platform account, target thread) pair.
type Engagement struct {
	ID                 string
	AccountID          string
	Platform           string
	TargetPostID       string
	TargetAuthorID     string
	TargetAuthorHandle string
	OriginalContent    string
	Status             Status
	Conversation       *Conversation
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewConversation builds the sub-entity for an engagement that has never been
// touched by the scheduler.
func NewConversation(threadID string) *Conversation {
	return &Conversation{
		ThreadID:            threadID,
		AutoResponseEnabled: true,
		MaxAutoResponses:    DefaultMaxAutoResponses,
	}
}

// HasMessage reports whether id is already recorded.
func (c *Conversation) HasMessage(id string) bool {
	if c == nil {
		return false
	}
	for _, m := range c.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// LastMessage returns the most recently inserted message.
func (c *Conversation) LastMessage() (Message, bool) {
	if c == nil || len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// LastReplyAt is the newest message timestamp in the thread, from either side.
func (c *Conversation) LastReplyAt() (time.Time, bool) {
	if c == nil || len(c.Messages) == 0 {
		return time.Time{}, false
	}
	latest := c.Messages[0].Timestamp
	for _, m := range c.Messages[1:] {
		if m.Timestamp.After(latest) {
			latest = m.Timestamp
		}
	}
	return latest, true
}

// LocalIDPrefix marks ids minted locally for sent messages the platform did
// not return an id for.
const LocalIDPrefix = "local-"

// LastOwnMessageID returns the platform id of the last message we sent, or "".
// Locally minted ids are skipped since the platform cannot resolve them.
func (c *Conversation) LastOwnMessageID() string {
	if c == nil {
		return ""
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.IsFromUs && !strings.HasPrefix(m.ID, LocalIDPrefix) {
			return m.ID
		}
	}
	return ""
}

// OwnMessages returns the messages this account sent, oldest first.
func (c *Conversation) OwnMessages() []Message {
	if c == nil {
		return nil
	}
	var out []Message
	for _, m := range c.Messages {
		if m.IsFromUs {
			out = append(out, m)
		}
	}
	return out
}

// Recent returns at most n trailing messages.
func (c *Conversation) Recent(n int) []Message {
	if c == nil || n <= 0 {
		return nil
	}
	if len(c.Messages) <= n {
		return append([]Message(nil), c.Messages...)
	}
	return append([]Message(nil), c.Messages[len(c.Messages)-n:]...)
}

// CapReached is true once no further automatic sends are permitted.
func (c *Conversation) CapReached() bool {
	return c != nil && c.CurrentAutoResponseCount >= c.MaxAutoResponses
}

// ThreadID returns the conversation thread, falling back to the target post.
func (e *Engagement) ThreadID() string {
	if e.Conversation != nil && e.Conversation.ThreadID != "" {
		return e.Conversation.ThreadID
	}
	return e.TargetPostID
}

// CanRespond reports whether an automatic reply may be sent right now.
func (e *Engagement) CanRespond() bool {
	if e == nil || e.Status == StatusDisabled || e.Conversation == nil {
		return false
	}
	return e.Conversation.AutoResponseEnabled && !e.Conversation.CapReached()
}

// Clone returns a deep copy.
func (e *Engagement) Clone() *Engagement {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Conversation != nil {
		conv := *e.Conversation
		conv.Messages = append([]Message(nil), e.Conversation.Messages...)
		if e.Conversation.LastCheckedAt != nil {
			t := *e.Conversation.LastCheckedAt
			conv.LastCheckedAt = &t
		}
		if e.Conversation.DisabledAt != nil {
			t := *e.Conversation.DisabledAt
			conv.DisabledAt = &t
		}
		cp.Conversation = &conv
	}
	return &cp
}

package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCapReached         = errors.New("auto-response cap reached")
	ErrDuplicateMessage   = errors.New("message already recorded")
	ErrDisabled           = errors.New("engagement is disabled")
	ErrNoConversation     = errors.New("engagement has no conversation")
	ErrConversationExists = errors.New("conversation already initialized")
)

// Command is a single field-scoped mutation of the Engagement aggregate.
// Stores translate each concrete command into one scoped update.
type Command interface {
	apply(e *Engagement, now time.Time) error
	String() string
}

// InitConversation synthesizes the conversation sub-entity on first contact.
type InitConversation struct {
	Conversation Conversation
}

// AppendMessage records an inbound or outbound message.
type AppendMessage struct {
	Message Message
}

// IncrementResponseCount bumps the auto-response counter after a send.
type IncrementResponseCount struct{}

// MarkChecked stamps lastCheckedAt.
type MarkChecked struct {
	At time.Time
}

// RecordFailure bumps the consecutive adapter failure counter.
type RecordFailure struct{}

// ResetFailures clears the consecutive adapter failure counter.
type ResetFailures struct{}

// Disable permanently turns off auto-response.
type Disable struct {
	Reason string
}

// SetStatus moves the engagement between non-terminal lifecycle states.
type SetStatus struct {
	Status Status
}

func (c InitConversation) apply(e *Engagement, _ time.Time) error {
	if e.Conversation != nil {
		return ErrConversationExists
	}
	conv := c.Conversation
	conv.Messages = append([]Message(nil), c.Conversation.Messages...)
	if conv.MaxAutoResponses <= 0 {
		conv.MaxAutoResponses = DefaultMaxAutoResponses
	}
	e.Conversation = &conv
	return nil
}

func (c AppendMessage) apply(e *Engagement, _ time.Time) error {
	if e.Conversation == nil {
		return ErrNoConversation
	}
	if c.Message.ID == "" {
		return fmt.Errorf("append message: empty id")
	}
	if e.Conversation.HasMessage(c.Message.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, c.Message.ID)
	}
	e.Conversation.Messages = append(e.Conversation.Messages, c.Message)
	return nil
}

func (IncrementResponseCount) apply(e *Engagement, _ time.Time) error {
	if e.Conversation == nil {
		return ErrNoConversation
	}
	if e.Status == StatusDisabled {
		return ErrDisabled
	}
	if e.Conversation.CapReached() {
		return ErrCapReached
	}
	e.Conversation.CurrentAutoResponseCount++
	return nil
}

func (c MarkChecked) apply(e *Engagement, _ time.Time) error {
	if e.Conversation == nil {
		return ErrNoConversation
	}
	at := c.At
	e.Conversation.LastCheckedAt = &at
	return nil
}

func (RecordFailure) apply(e *Engagement, _ time.Time) error {
	if e.Conversation == nil {
		return ErrNoConversation
	}
	e.Conversation.ConsecutiveFailures++
	return nil
}

func (ResetFailures) apply(e *Engagement, _ time.Time) error {
	if e.Conversation == nil {
		return ErrNoConversation
	}
	e.Conversation.ConsecutiveFailures = 0
	return nil
}

func (c Disable) apply(e *Engagement, now time.Time) error {
	if e.Conversation == nil {
		return ErrNoConversation
	}
	e.Status = StatusDisabled
	e.Conversation.AutoResponseEnabled = false
	e.Conversation.DisabledReason = c.Reason
	e.Conversation.DisabledAt = &now
	return nil
}

func (c SetStatus) apply(e *Engagement, _ time.Time) error {
	if c.Status == StatusDisabled {
		return fmt.Errorf("use Disable to disable an engagement")
	}
	if e.Status == StatusDisabled {
		return ErrDisabled
	}
	e.Status = c.Status
	return nil
}

func (c InitConversation) String() string     { return "init_conversation" }
func (c AppendMessage) String() string        { return "append_message:" + c.Message.ID }
func (IncrementResponseCount) String() string { return "increment_response_count" }
func (c MarkChecked) String() string          { return "mark_checked" }
func (RecordFailure) String() string          { return "record_failure" }
func (ResetFailures) String() string          { return "reset_failures" }
func (c Disable) String() string              { return "disable" }
func (c SetStatus) String() string            { return "set_status:" + string(c.Status) }

// Apply validates and applies commands in order against the in-memory
// aggregate. It stops at the first command that violates an invariant; the
// engagement is left unchanged in that case.
func (e *Engagement) Apply(now time.Time, cmds ...Command) error {
	work := e.Clone()
	for _, cmd := range cmds {
		if err := cmd.apply(work, now); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	work.UpdatedAt = now
	*e = *work
	return nil
}

// Applier persists commands for one engagement.
type Applier interface {
	Apply(ctx context.Context, engagementID string, cmds ...Command) error
}

// Mutate applies cmds to the local aggregate first, so invariants are checked
// before anything is written, then persists them.
func Mutate(ctx context.Context, store Applier, e *Engagement, now time.Time, cmds ...Command) error {
	if len(cmds) == 0 {
		return nil
	}
	next := e.Clone()
	if err := next.Apply(now, cmds...); err != nil {
		return err
	}
	if err := store.Apply(ctx, e.ID, cmds...); err != nil {
		return fmt.Errorf("persist engagement %s: %w", e.ID, err)
	}
	*e = *next
	return nil
}

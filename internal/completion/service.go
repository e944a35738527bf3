// Package completion is the language-model boundary: classification prompts
// that return free text or JSON, and reply generation from a message list.
package completion

import (
	"context"
	"errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// PreferFast routes the call to the cheaper model when one is configured.
	PreferFast bool
	// Model overrides the configured model name for this call.
	Model string
}

// Service is implemented by Client and by test fakes.
type Service interface {
	Classify(ctx context.Context, prompt string) (string, error)
	Generate(ctx context.Context, req Request) (string, error)
}

var ErrNoModel = errors.New("no completion model configured")

package prompts

import (
	"fmt"
	"strings"

	"github.com/autopost/internal/completion"
	"github.com/autopost/internal/engagement"
)

// DefaultContextMessages is how many trailing messages are shown to the model.
const DefaultContextMessages = 10

// BuildDecisionPrompt asks the classifier whether latest deserves a reply.
func BuildDecisionPrompt(conv *engagement.Conversation, latest engagement.Message, contextMessages int) string {
	var b strings.Builder
	b.WriteString(ConversationAnalystRole)
	b.WriteString(".\n\n")
	b.WriteString(DecisionInstructions)
	b.WriteString("\n\n")
	writeTranscript(&b, conv.Recent(orDefault(contextMessages)))
	b.WriteString("\nLATEST MESSAGE:\n")
	b.WriteString(latest.Text)
	b.WriteString("\n\n")
	b.WriteString(DecisionJSONStructure)
	return b.String()
}

// ReplyInput is what the reply prompt is built from.
type ReplyInput struct {
	Engagement      *engagement.Engagement
	Latest          engagement.Message
	Tone            string
	MaxChars        int
	ContextMessages int
}

// BuildReplyMessages returns the system and user messages for generation.
func BuildReplyMessages(in ReplyInput) []completion.Message {
	var sys strings.Builder
	sys.WriteString(ReplyWriterRole)
	sys.WriteString(".\n\n")
	sys.WriteString(ReplyGuidelines)
	if in.MaxChars > 0 {
		fmt.Fprintf(&sys, "\n- Hard limit: %d characters", in.MaxChars)
	}
	if in.Tone != "" {
		fmt.Fprintf(&sys, "\n- Tone: %s", in.Tone)
	}

	var user strings.Builder
	if e := in.Engagement; e != nil {
		if e.OriginalContent != "" {
			user.WriteString("ORIGINAL POST WE REPLIED TO")
			if e.TargetAuthorHandle != "" {
				fmt.Fprintf(&user, " (by @%s)", e.TargetAuthorHandle)
			}
			user.WriteString(":\n")
			user.WriteString(e.OriginalContent)
			user.WriteString("\n\n")
		}
		writeTranscript(&user, e.Conversation.Recent(orDefault(in.ContextMessages)))
	}
	user.WriteString("\nREPLY TO THIS MESSAGE:\n")
	user.WriteString(in.Latest.Text)

	return []completion.Message{
		{Role: completion.RoleSystem, Content: sys.String()},
		{Role: completion.RoleUser, Content: user.String()},
	}
}

// BuildQualityPrompt asks for a 0..1 score of candidate as a reply to theirs.
func BuildQualityPrompt(candidate, theirs string) string {
	var b strings.Builder
	b.WriteString(QualityReviewerRole)
	b.WriteString(".\n\n")
	b.WriteString(QualityInstructions)
	b.WriteString("\n\nTHEIR MESSAGE:\n")
	b.WriteString(theirs)
	b.WriteString("\n\nDRAFT REPLY:\n")
	b.WriteString(candidate)
	return b.String()
}

func writeTranscript(b *strings.Builder, msgs []engagement.Message) {
	if len(msgs) == 0 {
		return
	}
	b.WriteString("CONVERSATION SO FAR (oldest first):\n")
	for _, m := range msgs {
		who := "THEM"
		if m.IsFromUs {
			who = "US"
		}
		fmt.Fprintf(b, "[%s] %s\n", who, m.Text)
	}
}

func orDefault(n int) int {
	if n <= 0 {
		return DefaultContextMessages
	}
	return n
}

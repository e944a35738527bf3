package decision

import (
	"context"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/completion"
	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/llm"
	"github.com/autopost/internal/prompts"
)

const DefaultTone = "friendly"

type Decision struct {
	Respond bool
	Reason  string
	Tone    string
	// Fallback is set when the classifier could not be used and the
	// configured policy decided instead.
	Fallback bool
}

type Options struct {
	// FailOpen makes a classifier failure count as "respond".
	FailOpen        bool
	ContextMessages int
}

func DefaultOptions() Options {
	return Options{FailOpen: true, ContextMessages: prompts.DefaultContextMessages}
}

type Engine struct {
	svc  completion.Service
	opts Options
}

func New(svc completion.Service, opts Options) *Engine {
	return &Engine{svc: svc, opts: opts}
}

type verdict struct {
	ShouldRespond *bool  `json:"shouldRespond"`
	Reason        string `json:"reason"`
	Tone          string `json:"tone"`
	Sentiment     string `json:"sentiment"`
}

// ShouldRespond decides whether latest gets a reply. Cheap local checks run
// before the classifier is consulted.
func (en *Engine) ShouldRespond(ctx context.Context, conv *engagement.Conversation, latest engagement.Message) Decision {
	if conv == nil || !conv.AutoResponseEnabled {
		return Decision{Reason: "auto-response disabled"}
	}
	if conv.CapReached() {
		return Decision{Reason: "auto-response cap reached"}
	}
	if IsCloser(latest.Text) {
		return Decision{Reason: "acknowledgement or closer"}
	}

	raw, err := en.svc.Classify(ctx, prompts.BuildDecisionPrompt(conv, latest, en.opts.ContextMessages))
	if err != nil {
		return en.fallback("classifier unavailable", err)
	}

	var v verdict
	if _, err := llm.DecodeJSON(raw, &v); err != nil {
		return en.fallback("classifier output unreadable", err)
	}
	if v.ShouldRespond == nil {
		return en.fallback("classifier output missing shouldRespond", nil)
	}

	switch strings.ToLower(strings.TrimSpace(v.Sentiment)) {
	case "hostile", "dismissive":
		return Decision{Reason: "sentiment " + strings.ToLower(v.Sentiment)}
	}
	if !*v.ShouldRespond {
		return Decision{Reason: nonEmpty(v.Reason, "classifier declined")}
	}
	return Decision{Respond: true, Reason: v.Reason, Tone: nonEmpty(strings.ToLower(v.Tone), DefaultTone)}
}

func (en *Engine) fallback(reason string, err error) Decision {
	log.Warn().Err(err).Bool("fail_open", en.opts.FailOpen).Msg("decision fallback: " + reason)
	if en.opts.FailOpen {
		return Decision{Respond: true, Reason: reason, Tone: DefaultTone, Fallback: true}
	}
	return Decision{Reason: reason, Fallback: true}
}

func nonEmpty(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

var closerWords = map[string]bool{
	"thanks": true, "thank": true, "thx": true, "ty": true, "tysm": true, "tyvm": true,
	"bye": true, "goodbye": true, "cya": true, "cheers": true,
	"ok": true, "okay": true, "k": true, "kk": true,
	"cool": true, "great": true, "nice": true, "awesome": true, "perfect": true,
	"appreciated": true, "appreciate": true, "np": true, "lol": true, "haha": true,
	"gotcha": true, "noted": true,
}

// Words that may pad a closer without changing its meaning.
var fillerWords = map[string]bool{
	"you": true, "so": true, "much": true, "a": true, "lot": true, "again": true,
	"very": true, "all": true, "man": true, "mate": true, "for": true, "that": true,
	"the": true, "info": true, "it": true, "got": true, "will": true, "do": true,
	"too": true, "really": true, "sounds": true, "good": true, "see": true, "ya": true,
}

// IsCloser reports whether text only acknowledges or ends the conversation:
// empty, emoji-only, or made entirely of thanks/bye/ok style words.
func IsCloser(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	if strings.Contains(text, "?") {
		return false
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	if len(words) == 0 {
		// Only emoji or punctuation.
		return true
	}

	sawCloser := false
	for _, w := range words {
		w = strings.Trim(w, "'")
		switch {
		case closerWords[w]:
			sawCloser = true
		case fillerWords[w]:
		default:
			return false
		}
	}
	return sawCloser
}

package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/completion"
	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/platform"
	"github.com/autopost/internal/prompts"
)

// ErrEmptyGeneration means every strategy produced nothing usable.
var ErrEmptyGeneration = errors.New("no usable reply generated")

// Strategy is one generation attempt.
type Strategy struct {
	Name        string
	PreferFast  bool
	Model       string // optional model override
	Temperature float64
}

// DefaultStrategies tries the primary model, then the fast one, then the
// fallback model when one is configured.
func DefaultStrategies(fallbackModel string) []Strategy {
	s := []Strategy{
		{Name: "primary", Temperature: 0.7},
		{Name: "fast", PreferFast: true, Temperature: 0.7},
	}
	if fallbackModel != "" {
		s = append(s, Strategy{Name: "fallback", Model: fallbackModel, Temperature: 0.5})
	} else {
		s = append(s, Strategy{Name: "primary-retry", Temperature: 0.4})
	}
	return s
}

const maxAttempts = 3

type Options struct {
	Strategies      []Strategy
	ContextMessages int
	MaxTokens       int
}

type Request struct {
	Engagement *engagement.Engagement
	Latest     engagement.Message
	Tone       string
}

type Generator struct {
	svc  completion.Service
	opts Options
}

func New(svc completion.Service, opts Options) *Generator {
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultStrategies("")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 200
	}
	return &Generator{svc: svc, opts: opts}
}

// Generate produces a cleaned reply no longer than limits.MaxChars.
func (g *Generator) Generate(ctx context.Context, req Request, limits platform.Limits) (string, error) {
	messages := prompts.BuildReplyMessages(prompts.ReplyInput{
		Engagement:      req.Engagement,
		Latest:          req.Latest,
		Tone:            req.Tone,
		MaxChars:        limits.MaxChars,
		ContextMessages: g.opts.ContextMessages,
	})

	var lastErr error
	for i, s := range g.opts.Strategies {
		if i >= maxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := g.svc.Generate(ctx, completion.Request{
			Messages:    messages,
			Temperature: s.Temperature,
			MaxTokens:   g.opts.MaxTokens,
			PreferFast:  s.PreferFast,
			Model:       s.Model,
		})
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("strategy", s.Name).Int("attempt", i+1).Msg("reply generation failed")
			continue
		}

		reply := Clean(out)
		if Garbled(reply) {
			lastErr = fmt.Errorf("strategy %s returned unusable output", s.Name)
			log.Warn().Str("strategy", s.Name).Int("attempt", i+1).Int("raw_len", len(out)).Msg("discarding unusable generation")
			continue
		}
		return Truncate(reply, limits.MaxChars), nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrEmptyGeneration, lastErr)
	}
	return "", ErrEmptyGeneration
}

var labelPrefixes = []string{"reply:", "response:", "answer:", "here's a reply:", "here is a reply:", "here's my reply:"}

// Clean strips whitespace, wrapping quotes and leading labels.
func Clean(s string) string {
	for {
		before := s
		s = strings.TrimSpace(s)
		lower := strings.ToLower(s)
		for _, p := range labelPrefixes {
			if strings.HasPrefix(lower, p) {
				s = s[len(p):]
				break
			}
		}
		s = trimQuotes(strings.TrimSpace(s))
		if s == before {
			return s
		}
	}
}

var quotePairs = [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"‘", "’"}}

func trimQuotes(s string) string {
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}

// Garbled reports output that cannot be posted as a reply: empty, a code or
// JSON block, or mostly non-letter noise.
func Garbled(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") || strings.HasPrefix(s, "```") {
		return true
	}
	letters, total := 0, 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return total > 0 && letters*10 < total*3
}

// Truncate shortens text to at most max runes. It prefers ending on a
// sentence boundary in the second half of the limit, then on a word boundary
// with an ellipsis, and finally cuts hard with an ellipsis.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	const ellipsis = "..."
	if max <= len(ellipsis) {
		return string(runes[:max])
	}

	window := runes[:max]
	for i := len(window) - 1; i >= max/2; i-- {
		switch window[i] {
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				return string(window[:i+1])
			}
		}
	}

	limit := max - len(ellipsis)
	for i := limit; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			cut := strings.TrimRightFunc(string(runes[:i]), func(r rune) bool {
				return unicode.IsSpace(r) || unicode.IsPunct(r)
			})
			if cut != "" {
				return cut + ellipsis
			}
			break
		}
	}
	return string(runes[:limit]) + ellipsis
}

package safety

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/completion"
	"github.com/autopost/internal/llm"
	"github.com/autopost/internal/prompts"
)

type LengthCheck struct{ Min int }

func (LengthCheck) Name() string { return "length" }

func (c LengthCheck) Validate(_ context.Context, in Input) *Violation {
	n := utf8.RuneCountInString(strings.TrimSpace(in.Candidate))
	if n < c.Min {
		return &Violation{Reason: fmt.Sprintf("reply too short (%d < %d chars)", n, c.Min), Severity: SeverityLow}
	}
	if in.MaxChars > 0 && n > in.MaxChars {
		return &Violation{Reason: fmt.Sprintf("reply exceeds platform limit (%d > %d chars)", n, in.MaxChars), Severity: SeverityHigh}
	}
	return nil
}

var (
	urlRe      = regexp.MustCompile(`(?i)(https?://|www\.|\b[a-z0-9-]+\.(com|io|net|org|ly|co|app|dev)/)`)
	promoTerms = []string{
		"buy now", "discount", "promo code", "use code", "limited time", "click here",
		"sign up", "free trial", "dm me", "check out my", "% off", "subscribe", "giveaway",
	}
)

type SpamCheck struct{}

func (SpamCheck) Name() string { return "spam" }

func (SpamCheck) Validate(_ context.Context, in Input) *Violation {
	if urlRe.MatchString(in.Candidate) {
		return &Violation{Reason: "reply contains a link", Severity: SeverityHigh}
	}
	lower := strings.ToLower(in.Candidate)
	for _, t := range promoTerms {
		if strings.Contains(lower, t) {
			return &Violation{Reason: fmt.Sprintf("promotional language (%q)", t), Severity: SeverityHigh}
		}
	}
	return nil
}

type RepetitionCheck struct{ Threshold float64 }

func (RepetitionCheck) Name() string { return "repetition" }

func (c RepetitionCheck) Validate(_ context.Context, in Input) *Violation {
	if in.Engagement == nil || in.Engagement.Conversation == nil {
		return nil
	}
	cand := tokenSet(in.Candidate)
	for _, m := range in.Engagement.Conversation.OwnMessages() {
		if r := overlap(cand, tokenSet(m.Text)); r >= c.Threshold {
			return &Violation{Reason: fmt.Sprintf("reply repeats an earlier message (%.0f%% overlap)", r*100), Severity: SeverityMedium}
		}
	}
	return nil
}

type RelevanceCheck struct{ MinQuestionAnswerLength int }

func (RelevanceCheck) Name() string { return "relevance" }

func (c RelevanceCheck) Validate(_ context.Context, in Input) *Violation {
	theirs := meaningfulTokens(in.TheirMessage)
	if len(theirs) == 0 {
		return nil
	}
	ours := meaningfulTokens(in.Candidate)
	for t := range theirs {
		if _, ok := ours[t]; ok {
			return nil
		}
	}
	if strings.Contains(in.TheirMessage, "?") && utf8.RuneCountInString(strings.TrimSpace(in.Candidate)) >= c.MinQuestionAnswerLength {
		return nil
	}
	return &Violation{Reason: "reply does not address their message", Severity: SeverityMedium}
}

// QualityCheck asks the completion service for a 0..1 score.
type QualityCheck struct {
	Scorer    completion.Service
	Threshold float64
	FailOpen  bool
}

func (QualityCheck) Name() string { return "quality" }

type qualityScore struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

func (c QualityCheck) Validate(ctx context.Context, in Input) *Violation {
	if c.Scorer == nil {
		return nil
	}
	score, err := c.score(ctx, in)
	if err != nil {
		log.Warn().Err(err).Bool("fail_open", c.FailOpen).Msg("quality scoring failed")
		if !c.FailOpen {
			return &Violation{Reason: "quality scorer unavailable", Severity: SeverityMedium}
		}
		score = c.Threshold
	}
	if score < c.Threshold {
		return &Violation{Reason: fmt.Sprintf("quality score %.2f below %.2f", score, c.Threshold), Severity: SeverityMedium}
	}
	return nil
}

func (c QualityCheck) score(ctx context.Context, in Input) (float64, error) {
	raw, err := c.Scorer.Classify(ctx, prompts.BuildQualityPrompt(in.Candidate, in.TheirMessage))
	if err != nil {
		return 0, err
	}
	var q qualityScore
	if _, err := llm.DecodeJSON(raw, &q); err != nil {
		return 0, err
	}
	if q.Score == nil {
		return 0, fmt.Errorf("quality response missing score")
	}
	return min(max(*q.Score, 0), 1), nil
}

var profanity = map[string]bool{
	"fuck": true, "fucking": true, "shit": true, "bitch": true, "bastard": true,
	"asshole": true, "dick": true, "cunt": true, "idiot": true, "stupid": true,
	"moron": true, "retard": true, "retarded": true, "dumbass": true, "crap": true,
}

type ToxicityCheck struct{ UppercaseRatio float64 }

func (ToxicityCheck) Name() string { return "toxicity" }

func (c ToxicityCheck) Validate(_ context.Context, in Input) *Violation {
	for _, w := range words(in.Candidate) {
		if profanity[w] {
			return &Violation{Reason: "reply contains offensive language", Severity: SeverityHigh}
		}
	}
	letters, upper := 0, 0
	for _, r := range in.Candidate {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters >= 10 && float64(upper)/float64(letters) > c.UppercaseRatio {
		return &Violation{Reason: "reply is shouting", Severity: SeverityHigh}
	}
	return nil
}

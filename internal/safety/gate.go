// Package safety validates a generated reply before it is sent. Checks run in
// a fixed order and the first violation wins.
package safety

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/completion"
	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/platform"
)

type Severity string

const (
	SeverityNone   Severity = ""
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Input struct {
	Candidate    string
	TheirMessage string
	Engagement   *engagement.Engagement
	MaxChars     int
}

type Violation struct {
	Reason   string
	Severity Severity
}

// Check is a single validation step. Validate returns nil when the input passes.
type Check interface {
	Name() string
	Validate(ctx context.Context, in Input) *Violation
}

type Result struct {
	Safe     bool
	Reason   string
	Severity Severity
	Check    string
}

type Options struct {
	MinLength               int
	MinQuestionAnswerLength int
	RepetitionThreshold     float64
	QualityThreshold        float64
	QualityFailOpen         bool
	UppercaseRatio          float64
	// MaxChars overrides the per-platform default limit when set.
	MaxChars int
}

func DefaultOptions() Options {
	return Options{
		MinLength:               10,
		MinQuestionAnswerLength: 40,
		RepetitionThreshold:     0.8,
		QualityThreshold:        0.7,
		QualityFailOpen:         true,
		UppercaseRatio:          0.6,
	}
}

type Gate struct {
	checks   []Check
	maxChars int
}

func NewGate(maxChars int, checks ...Check) *Gate {
	return &Gate{checks: checks, maxChars: maxChars}
}

// DefaultChecks returns the standard sequence: length, spam, repetition,
// relevance, quality, toxicity.
func DefaultChecks(scorer completion.Service, opts Options) []Check {
	return []Check{
		LengthCheck{Min: opts.MinLength},
		SpamCheck{},
		RepetitionCheck{Threshold: opts.RepetitionThreshold},
		RelevanceCheck{MinQuestionAnswerLength: opts.MinQuestionAnswerLength},
		QualityCheck{Scorer: scorer, Threshold: opts.QualityThreshold, FailOpen: opts.QualityFailOpen},
		ToxicityCheck{UppercaseRatio: opts.UppercaseRatio},
	}
}

func NewDefaultGate(scorer completion.Service, opts Options) *Gate {
	return NewGate(opts.MaxChars, DefaultChecks(scorer, opts)...)
}

// Validate runs every check in order and stops at the first violation. The
// length limit is the gate's own, or the platform default.
func (g *Gate) Validate(ctx context.Context, candidate, theirMessage string, e *engagement.Engagement) Result {
	limits := platform.Limits{MaxChars: g.maxChars}
	if limits.MaxChars <= 0 {
		p := ""
		if e != nil {
			p = e.Platform
		}
		limits = platform.DefaultLimits(p)
	}
	return g.ValidateWithin(ctx, candidate, theirMessage, e, limits)
}

// ValidateWithin is Validate against the limits the reply was generated for.
func (g *Gate) ValidateWithin(ctx context.Context, candidate, theirMessage string, e *engagement.Engagement, limits platform.Limits) Result {
	in := Input{Candidate: candidate, TheirMessage: theirMessage, Engagement: e, MaxChars: limits.MaxChars}

	for _, c := range g.checks {
		if v := c.Validate(ctx, in); v != nil {
			log.Info().Str("check", c.Name()).Str("severity", string(v.Severity)).Str("reason", v.Reason).Msg("reply rejected by safety gate")
			return Result{Safe: false, Reason: v.Reason, Severity: v.Severity, Check: c.Name()}
		}
	}
	return Result{Safe: true}
}

package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats describes what RepairJSON had to do.
type RepairStats struct {
	OriginalBytes int
	RepairedBytes int
	Strategies    []string
	RepairTime    time.Duration
	WasRepaired   bool
}

type repairStrategy struct {
	name  string
	apply func(string) string
}

// Cheap local fixes for the mistakes models make most often, tried in order.
// After each one the text is re-validated so later strategies never touch
// JSON that is already valid.
var repairStrategies = []repairStrategy{
	{"trailing_commas", removeTrailingCommas},
	{"comments_removed", removeComments},
	{"key_quotes", addKeyQuotes},
	{"single_quotes", fixSingleQuotes},
	{"completion", completeJSON},
}

// RepairJSON returns raw unchanged when it is valid, otherwise applies the
// local strategies and finally the jsonrepair library.
func RepairJSON(raw string) (string, RepairStats, error) {
	start := time.Now()
	stats := RepairStats{OriginalBytes: len(raw)}
	finish := func(s string) RepairStats {
		stats.RepairedBytes = len(s)
		stats.RepairTime = time.Since(start)
		return stats
	}

	if json.Valid([]byte(raw)) {
		return raw, finish(raw), nil
	}
	stats.WasRepaired = true

	repaired := strings.TrimSpace(raw)
	for _, s := range repairStrategies {
		next := s.apply(repaired)
		if next == repaired {
			continue
		}
		repaired = next
		stats.Strategies = append(stats.Strategies, s.name)
		if json.Valid([]byte(repaired)) {
			return repaired, finish(repaired), nil
		}
	}

	if fixed, err := jsonrepair.JSONRepair(repaired); err == nil && json.Valid([]byte(fixed)) {
		stats.Strategies = append(stats.Strategies, "jsonrepair_library")
		return fixed, finish(fixed), nil
	}

	return repaired, finish(repaired), fmt.Errorf("JSON repair failed after %d strategies", len(stats.Strategies))
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentRe   = regexp.MustCompile(`(?m)^\s*//.*$`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
	singleQuotedRe  = regexp.MustCompile(`([{\[,:]\s*)'([^']*)'`)
)

func removeTrailingCommas(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

func removeComments(s string) string {
	s = blockCommentRe.ReplaceAllString(s, "")
	return lineCommentRe.ReplaceAllString(s, "")
}

func addKeyQuotes(s string) string {
	return bareKeyRe.ReplaceAllString(s, `$1"$2"$3`)
}

// fixSingleQuotes only rewrites quotes in key or value position, so
// apostrophes inside double-quoted text survive.
func fixSingleQuotes(s string) string {
	return singleQuotedRe.ReplaceAllString(s, `$1"$2"`)
}

// completeJSON closes unterminated strings, objects and arrays in LIFO order.
func completeJSON(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

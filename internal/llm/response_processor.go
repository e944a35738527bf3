package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/autopost/internal/logging"
)

var ErrNoJSON = errors.New("no JSON found in model output")

// DecodeJSON pulls the first JSON value out of model output, repairs it if
// needed and unmarshals it into target.
func DecodeJSON(raw string, target any) (RepairStats, error) {
	runLog := logging.GetCurrentLogger()

	body := ExtractJSON(raw)
	if body == "" {
		runLog.Log("No JSON found in model output: %s", truncateForLog(raw, 200))
		return RepairStats{}, ErrNoJSON
	}

	repaired, stats, err := RepairJSON(body)
	if stats.WasRepaired {
		runLog.Log("JSON repair applied: %s (%v)", strings.Join(stats.Strategies, ", "), stats.RepairTime)
	}
	if err != nil {
		runLog.Log("JSON repair failed: %v; input: %s", err, truncateForLog(body, 500))
		return stats, err
	}

	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return stats, fmt.Errorf("decode model JSON: %w", err)
	}
	return stats, nil
}

// ExtractJSON returns the JSON portion of a response that may be wrapped in
// code fences or surrounded by prose. An unterminated value is returned up to
// the end of the input so the repair step can close it.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if fenced := fencedBlock(raw); fenced != "" {
		raw = fenced
	}
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		if end := matchingClose(raw, 0); end > 0 {
			return raw[:end+1]
		}
		return raw
	}

	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return ""
	}
	if end := matchingClose(raw, start); end > 0 {
		return raw[start : end+1]
	}
	return raw[start:]
}

func fencedBlock(raw string) string {
	if !strings.Contains(raw, "```") {
		return ""
	}
	var lines []string
	in := false
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if in {
				break
			}
			in = true
			continue
		}
		if in {
			lines = append(lines, line)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// matchingClose finds the index closing the bracket at start, skipping
// brackets inside strings. It returns -1 when the value is unterminated.
func matchingClose(s string, start int) int {
	open := s[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
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
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func truncateForLog(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// ExtractJSON decodes the JSON object in a model response. It accepts a
// bare object, an object inside a ``` or ```json fence (with or without
// surrounding prose), and an object embedded in text. Failures wrap
// domain.ErrParse.
func ExtractJSON[T any](response string) (T, error) {
	var out T
	raw, err := extractObject(response)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("analysis: decode model output: %w: %w", domain.ErrParse, err)
	}
	return out, nil
}

func extractObject(response string) (string, error) {
	body := stripFence(response)
	if json.Valid([]byte(body)) && strings.HasPrefix(body, "{") {
		return body, nil
	}

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start != -1 && end > start {
		candidate := body[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("analysis: no JSON object in model output %q: %w", preview(response, 100), domain.ErrParse)
}

// stripFence returns the contents of the first fenced code block, or the
// trimmed input when there is none.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "```")
	if open == -1 {
		return s
	}
	rest := s[open+3:]
	// Skip the info string ("json", "JSON", ...) up to the end of line.
	if nl := strings.IndexByte(rest, '\n'); nl != -1 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	} else {
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, "json"), "JSON")
	}
	if end := strings.Index(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

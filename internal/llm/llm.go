// Package llm provides the language-model collaborator: a single
// Generate(prompt) -> text operation plus helpers for pulling JSON out of
// model responses.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned when no model credential is configured.
var ErrNotConfigured = errors.New("llm: backend not configured")

// Client generates text for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// StripFences removes a surrounding Markdown code fence (``` or ```json).
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// DecodeJSON strips code fences and unmarshals the remainder into v.
func DecodeJSON(text string, v any) error {
	clean := StripFences(text)
	if err := json.Unmarshal([]byte(clean), v); err != nil {
		return fmt.Errorf("parse JSON response: %w (raw: %s)", err, truncate(clean, 200))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

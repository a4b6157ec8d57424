package model

import (
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities is ordered by rank, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

func (s Severity) Valid() bool {
	return s.Rank() < len(Severities)
}

// Rank orders severities critical=0 .. info=4; unknown values rank last.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return len(Severities)
}

// ParseSeverity accepts only the five enumerated values, case-insensitively.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid severity %q", v)
	}
	return s, nil
}

// Location points at the code (lightweight) or endpoint (robust) a finding
// refers to.
type Location struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	URL     string `json:"url,omitempty"`
	Method  string `json:"method,omitempty"`
}

type Finding struct {
	ID           string         `json:"id"`
	AssessmentID string         `json:"assessment_id"`
	RunID        string         `json:"run_id,omitempty"`
	Severity     Severity       `json:"severity"`
	Category     string         `json:"category"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Remediation  string         `json:"remediation"`
	Location     *Location      `json:"location,omitempty"`
	Evidence     map[string]any `json:"evidence,omitempty"`
	Agent        string         `json:"agent,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

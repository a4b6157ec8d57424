package model

import "time"

type Mode string

const (
	ModeLightweight Mode = "lightweight"
	ModeRobust      Mode = "robust"
)

func (m Mode) Valid() bool {
	return m == ModeLightweight || m == ModeRobust
}

type Status string

const (
	StatusQueued    Status = "queued"
	StatusCloning   Status = "cloning"
	StatusAnalyzing Status = "analyzing"
	StatusScanning  Status = "scanning"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

// Statuses lists every assessment status in lifecycle order.
var Statuses = []Status{StatusQueued, StatusCloning, StatusAnalyzing, StatusScanning, StatusComplete, StatusFailed}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Assessment is one requested scan and its lifecycle state. Exactly one of
// RepoURL, inline files (carried by the run payload) or TargetURL is the input.
type Assessment struct {
	ID             string        `json:"id"`
	Mode           Mode          `json:"mode"`
	Status         Status        `json:"status"`
	RepoURL        string        `json:"repo_url,omitempty"`
	TargetURL      string        `json:"target_url,omitempty"`
	Agents         []string      `json:"agents,omitempty"`
	Depth          string        `json:"depth,omitempty"`
	FindingCounts  FindingCounts `json:"finding_counts"`
	ErrorType      string        `json:"error_type,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	CurrentRunID   string        `json:"current_run_id,omitempty"`
	ReportKey      string        `json:"report_key,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// FindingCounts is the per-severity histogram of an assessment's findings.
// Total always equals the sum of the five severity counters.
type FindingCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// Add increments the counter for sev. Unknown severities are ignored and
// reported as false.
func (c *FindingCounts) Add(sev Severity) bool {
	switch sev {
	case SeverityCritical:
		c.Critical++
	case SeverityHigh:
		c.High++
	case SeverityMedium:
		c.Medium++
	case SeverityLow:
		c.Low++
	case SeverityInfo:
		c.Info++
	default:
		return false
	}
	c.Total++
	return true
}

func (c FindingCounts) Get(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return c.Critical
	case SeverityHigh:
		return c.High
	case SeverityMedium:
		return c.Medium
	case SeverityLow:
		return c.Low
	case SeverityInfo:
		return c.Info
	}
	return 0
}

// CountsFrom builds a histogram from grouped severity counts, such as the
// result of a GROUP BY over stored findings. Unknown keys are dropped.
func CountsFrom(grouped map[string]int) FindingCounts {
	var c FindingCounts
	c.Critical = grouped[string(SeverityCritical)]
	c.High = grouped[string(SeverityHigh)]
	c.Medium = grouped[string(SeverityMedium)]
	c.Low = grouped[string(SeverityLow)]
	c.Info = grouped[string(SeverityInfo)]
	c.Total = c.Critical + c.High + c.Medium + c.Low + c.Info
	return c
}

// Package lifecycle is the assessment state machine:
//
//	queued -> {cloning | analyzing | scanning}
//	cloning -> analyzing
//	analyzing | scanning -> complete
//	any non-terminal -> failed
//
// complete and failed are terminal within a run. A new run may re-enter the
// machine from a terminal state through one of its entry transitions.
package lifecycle

import (
	"fmt"
	"unicode/utf8"

	"github.com/yourorg/vibecheck/internal/model"
)

const (
	MaxErrorMessage = 500
	MaxAgentSummary = 180
)

var transitions = map[model.Status][]model.Status{
	model.StatusQueued:    {model.StatusCloning, model.StatusAnalyzing, model.StatusScanning, model.StatusFailed},
	model.StatusCloning:   {model.StatusAnalyzing, model.StatusFailed},
	model.StatusAnalyzing: {model.StatusComplete, model.StatusFailed},
	model.StatusScanning:  {model.StatusComplete, model.StatusFailed},
}

// CanTransition reports whether from -> to is legal within one run.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Sources lists the states that may move to `to` within one run.
func Sources(to model.Status) []model.Status {
	var out []model.Status
	for _, from := range model.Statuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// EntrySources lists the states a run may start from: the initial queued
// state, or a terminal state left by an earlier run.
func EntrySources() []model.Status {
	return []model.Status{model.StatusQueued, model.StatusComplete, model.StatusFailed}
}

// Entry returns the first working state of a run.
func Entry(mode model.Mode, hasRepo bool) (model.Status, error) {
	switch mode {
	case model.ModeLightweight:
		if hasRepo {
			return model.StatusCloning, nil
		}
		return model.StatusAnalyzing, nil
	case model.ModeRobust:
		return model.StatusScanning, nil
	}
	return "", fmt.Errorf("unknown mode %q", mode)
}

// IsEntry reports whether `to` is a legal first transition of a run.
func IsEntry(to model.Status) bool {
	return to == model.StatusCloning || to == model.StatusAnalyzing || to == model.StatusScanning
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

func TruncateMessage(s string) string { return Truncate(s, MaxErrorMessage) }

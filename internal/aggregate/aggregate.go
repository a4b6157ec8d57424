// Package aggregate merges scanner outputs into one normalized finding list.
package aggregate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/model"
)

// Batch is the output of one producer, in the order the producer ran.
type Batch struct {
	Producer string
	Findings []model.Finding
}

// Merge concatenates batches in order, tags findings that carry no agent
// with their producer and drops exact repeats within one producer. A finding
// with a severity outside the enum fails the whole merge with a
// DATA_INTEGRITY_VIOLATION: a producer that emits one is broken.
func Merge(batches []Batch) ([]model.Finding, model.FindingCounts, error) {
	var (
		out    []model.Finding
		counts model.FindingCounts
		seen   = make(map[string]struct{})
	)
	for _, b := range batches {
		for _, f := range b.Findings {
			if f.Agent == "" {
				f.Agent = b.Producer
			}
			if !f.Severity.Valid() {
				return nil, model.FindingCounts{}, apperr.Integrity(nil,
					"producer %s emitted finding %q with invalid severity %q", f.Agent, f.Title, f.Severity)
			}
			if err := requireText(f); err != nil {
				return nil, model.FindingCounts{}, apperr.Integrity(err, "producer %s emitted an incomplete finding", f.Agent)
			}
			k := key(f)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			counts.Add(f.Severity)
			out = append(out, f)
		}
	}
	return out, counts, nil
}

func requireText(f model.Finding) error {
	var missing []string
	for name, v := range map[string]string{
		"category":    f.Category,
		"title":       f.Title,
		"description": f.Description,
		"remediation": f.Remediation,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("missing %s", strings.Join(missing, ", "))
}

func key(f model.Finding) string {
	var file string
	var line int
	if f.Location != nil {
		file = f.Location.File
		if file == "" {
			file = f.Location.Method + " " + f.Location.URL
		}
		line = f.Location.Line
	}
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d", f.Agent, f.Category, f.Title, file, line)
}

// Tally builds the severity histogram of findings, ignoring unknown values.
func Tally(findings []model.Finding) model.FindingCounts {
	var c model.FindingCounts
	for _, f := range findings {
		c.Add(f.Severity)
	}
	return c
}

// SortBySeverity orders findings critical first and keeps the original order
// within one severity.
func SortBySeverity(findings []model.Finding) {
	slices.SortStableFunc(findings, func(a, b model.Finding) int {
		return a.Severity.Rank() - b.Severity.Rank()
	})
}

// AtLeast reports whether any finding is at or above threshold.
func AtLeast(findings []model.Finding, threshold model.Severity) bool {
	for _, f := range findings {
		if f.Severity.Rank() <= threshold.Rank() {
			return true
		}
	}
	return false
}

package model

import "time"

// Report is the archived snapshot of a completed assessment; the SQL row
// keeps only the counts while the full report lives in object storage.
type Report struct {
	Assessment  Assessment `json:"assessment"`
	Findings    []Finding  `json:"findings"`
	GeneratedAt time.Time  `json:"generated_at"`
}

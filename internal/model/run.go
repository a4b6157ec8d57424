package model

import "time"

type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// RunPayload carries what the background executor needs beyond the
// assessment row itself.
type RunPayload struct {
	Files   []File   `json:"files,omitempty"`
	Agents  []string `json:"agents,omitempty"`
	Depth   string   `json:"depth,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Run is one orchestration cycle of an assessment.
type Run struct {
	ID           string     `json:"id"`
	AssessmentID string     `json:"assessment_id"`
	Status       RunStatus  `json:"status"`
	Payload      RunPayload `json:"-"`
	WorkerID     string     `json:"worker_id,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type Event struct {
	ID           int64     `json:"id"`
	AssessmentID string    `json:"assessment_id"`
	RunID        string    `json:"run_id,omitempty"`
	Stage        string    `json:"stage"`
	Detail       string    `json:"detail"`
	TS           time.Time `json:"ts"`
}

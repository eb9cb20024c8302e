package model

import "time"

// RunStatus tracks a generation run through the pipeline state machine.
type RunStatus string

const (
	RunStatusIdle       RunStatus = "idle"
	RunStatusExtracting RunStatus = "extracting"
	RunStatusWriting    RunStatus = "writing"
	RunStatusComputing  RunStatus = "computing"
	RunStatusRendering  RunStatus = "rendering"
	RunStatusValidating RunStatus = "validating"
	RunStatusExporting  RunStatus = "exporting"
	RunStatusDone       RunStatus = "done"
	RunStatusFailed     RunStatus = "failed"
)

// PhaseStatus is the terminal state of a single pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// Run is the persisted audit record for one generation request.
type Run struct {
	ID        string       `json:"id"`
	CaseID    string       `json:"case_id"`
	DocType   DocumentType `json:"doc_type"`
	Status    RunStatus    `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RunPhase is one phase of a run, persisted when the phase starts.
type RunPhase struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id"`
	Name      string      `json:"name"`
	Status    PhaseStatus `json:"status"`
	StartedAt time.Time   `json:"started_at"`
}

// PhaseResult records the outcome of a completed phase.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

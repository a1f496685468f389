package orchestration

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an orchestration instance
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether the status is final. Terminal instances are
// never driven again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepResult records the outcome of one activity execution. It is appended
// to an instance's history exactly once and never rewritten; a step present
// in history is not re-executed when the instance is resumed.
type StepResult struct {
	Step        int       `json:"step"`
	Activity    string    `json:"activity"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Instance is a durable execution of a multi-step orchestration. The engine
// persists {status, next step, accumulated history} after every step and
// resumes from that explicit record.
type Instance struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Status    Status       `json:"status"`
	Input     string       `json:"input,omitempty"`
	Output    string       `json:"output,omitempty"`
	NextStep  int          `json:"next_step"`
	History   []StepResult `json:"history,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

package domain

import "time"

// TaskRecord identifies one background job handed to the external worker.
// Records are persisted the moment the job is accepted so that in-flight
// jobs survive a process restart.
type TaskRecord struct {
	TaskID        string    `json:"task_id"`
	DocumentID    string    `json:"document_id"`
	FileName      string    `json:"file_name"`
	SequenceIndex int       `json:"sequence_index"`
	CreatedAt     time.Time `json:"created_at"`
}

// TaskOutcome is the terminal result delivered exactly once per tracked task.
type TaskOutcome struct {
	TaskID        string
	FileName      string
	SequenceIndex int
	Success       bool
	Err           error
}

// Credential is a short-lived signed token issued per connection attempt.
// It is never persisted and never reused across reconnects.
type Credential struct {
	Token     string `json:"token"`
	WSURL     string `json:"wsUrl"`
	ExpiresIn int    `json:"expiresIn"`
}

type ConnState string

const (
	StateClosed     ConnState = "closed"
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosing    ConnState = "closing"
)

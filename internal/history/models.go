package history

import "time"

// AttemptRecord represents one deployment attempt in the history
// database.
type AttemptRecord struct {
	ID           int64        `json:"id"`
	Target       string       `json:"target"`
	Branch       string       `json:"branch"`
	Status       string       `json:"status"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	DurationMs   *int64       `json:"duration_ms,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	Steps        []StepRecord `json:"steps,omitempty"`
}

// StepRecord represents one remote command within an attempt.
type StepRecord struct {
	Index      int    `json:"index"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

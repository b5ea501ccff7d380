package messagequeue

import "time"

// ExtractionCreatedPayload is the schema for extractions.created messages.
type ExtractionCreatedPayload struct {
	TaskID    string    `json:"task_id"`
	URLs      []string  `json:"urls"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// ExtractionCompletedPayload is the schema for extractions.completed messages.
type ExtractionCompletedPayload struct {
	TaskID        string          `json:"task_id"`
	Provider      string          `json:"provider"`
	URLsProcessed []string        `json:"urls_processed"`
	Iterations    int             `json:"iterations"`
	Record        map[string]any  `json:"record"`
	FinishedAt    time.Time       `json:"finished_at"`
	Features      map[string]bool `json:"features,omitempty"`
}

// ExtractionFailedPayload is the schema for extractions.failed messages.
type ExtractionFailedPayload struct {
	TaskID     string    `json:"task_id"`
	Error      string    `json:"error"`
	FinishedAt time.Time `json:"finished_at"`
}

// Package task defines the extraction Task domain entity.
package task

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Strob0t/EventForge/internal/domain"
	"github.com/Strob0t/EventForge/internal/domain/record"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// URL count bounds accepted by both delivery channels.
const (
	MinURLs = 1
	MaxURLs = 5
)

// Metadata keys written by the running agent.
const (
	MetaPhase            = "phase"
	MetaMessage          = "message"
	MetaPagesVisited     = "pagesVisited"
	MetaCurrentIteration = "currentIteration"
	MetaMaxIterations    = "maxIterations"
	MetaURLs             = "urls"
	MetaProvider         = "provider"
)

// Task is one extraction request tracked by the registry.
type Task struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Progress  int            `json:"progress"`
	Metadata  map[string]any `json:"metadata"`
	Result    *Result        `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Result is the payload of a completed task.
type Result struct {
	Success       bool           `json:"success"`
	JSON          *record.Record `json:"json"`
	Provider      string         `json:"provider"`
	URLsProcessed []string       `json:"urlsProcessed"`
	Iterations    int            `json:"iterations"`
}

// New returns a pending task seeded with the given metadata.
func New(id string, seed map[string]any, now time.Time) *Task {
	meta := make(map[string]any, len(seed)+2)
	for k, v := range seed {
		meta[k] = v
	}
	return &Task{
		ID:        id,
		Status:    StatusPending,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep-enough copy for handing out to readers: the metadata
// map is copied so pollers never observe a concurrent write.
func (t *Task) Clone() *Task {
	c := *t
	c.Metadata = make(map[string]any, len(t.Metadata))
	for k, v := range t.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// SetStatus moves the task to a non-terminal status. Use Complete or Fail
// for terminal transitions.
func (t *Task) SetStatus(s Status, progress int, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: task %s is %s", domain.ErrConflict, t.ID, t.Status)
	}
	if s.Terminal() {
		return fmt.Errorf("%w: terminal status %s requires a result or error", domain.ErrValidation, s)
	}
	t.Status = s
	t.setProgress(progress)
	t.UpdatedAt = now
	return nil
}

// MergeMetadata overlays meta onto the task metadata.
func (t *Task) MergeMetadata(meta map[string]any, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: task %s is %s", domain.ErrConflict, t.ID, t.Status)
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		t.Metadata[k] = v
	}
	t.UpdatedAt = now
	return nil
}

// Complete records the result and moves the task to completed.
func (t *Task) Complete(res *Result, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: task %s is %s", domain.ErrConflict, t.ID, t.Status)
	}
	if res == nil {
		return fmt.Errorf("%w: nil result", domain.ErrValidation)
	}
	t.Status = StatusCompleted
	t.Progress = 100
	t.Result = res
	t.Error = ""
	t.UpdatedAt = now
	return nil
}

// Fail records the error and moves the task to failed.
func (t *Task) Fail(msg string, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: task %s is %s", domain.ErrConflict, t.ID, t.Status)
	}
	if msg == "" {
		msg = "extraction failed"
	}
	t.Status = StatusFailed
	t.Result = nil
	t.Error = msg
	t.UpdatedAt = now
	return nil
}

// setProgress clamps to [0,100] and never lets progress go backwards while
// processing.
func (t *Task) setProgress(p int) {
	p = max(0, min(100, p))
	if t.Status == StatusProcessing && p < t.Progress {
		return
	}
	t.Progress = p
}

// ValidateURLs checks the 1..5 absolute http(s) URL bound and returns the
// trimmed list.
func ValidateURLs(raw []string) ([]string, error) {
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		if s := strings.TrimSpace(u); s != "" {
			urls = append(urls, s)
		}
	}
	if len(urls) < MinURLs || len(urls) > MaxURLs {
		return nil, fmt.Errorf("%w: urls must contain %d to %d entries", domain.ErrValidation, MinURLs, MaxURLs)
	}
	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" {
			return nil, fmt.Errorf("%w: invalid url %q", domain.ErrValidation, u)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("%w: unsupported url scheme %q", domain.ErrValidation, parsed.Scheme)
		}
	}
	return urls, nil
}

package http

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"

	"github.com/Strob0t/EventForge/internal/domain/task"
	"github.com/Strob0t/EventForge/internal/service"
)

type createExtractionResponse struct {
	TaskID  string      `json:"taskId"`
	Status  task.Status `json:"status"`
	Message string      `json:"message"`
}

// CreateExtraction handles POST /api/v1/extractions.
func (h *Handlers) CreateExtraction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.Request](w, r)
	if !ok {
		return
	}

	t, err := h.Extractions.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "extraction not found")
		return
	}
	writeJSON(w, http.StatusAccepted, createExtractionResponse{
		TaskID:  t.ID,
		Status:  task.StatusProcessing,
		Message: "Extraction started",
	})
}

// extractionStatus is the poll response. Which fields are present depends
// on the task status.
type extractionStatus struct {
	TaskID           string       `json:"taskId"`
	Status           task.Status  `json:"status"`
	Progress         *int         `json:"progress,omitempty"`
	PagesVisited     *int         `json:"pagesVisited,omitempty"`
	CurrentIteration *int         `json:"currentIteration,omitempty"`
	MaxIterations    *int         `json:"maxIterations,omitempty"`
	Message          string       `json:"message,omitempty"`
	Result           *task.Result `json:"result,omitempty"`
	Error            string       `json:"error,omitempty"`
}

// GetExtraction handles GET /api/v1/extractions/{taskId}.
func (h *Handlers) GetExtraction(w http.ResponseWriter, r *http.Request) {
	t, err := h.Extractions.Get(r.Context(), urlParam(r, "taskId"))
	if err != nil {
		writeDomainError(w, err, "extraction not found")
		return
	}
	writeJSON(w, http.StatusOK, statusOf(t))
}

func statusOf(t *task.Task) extractionStatus {
	switch t.Status {
	case task.StatusCompleted:
		full := 100
		return extractionStatus{TaskID: t.ID, Status: t.Status, Progress: &full, Result: t.Result}
	case task.StatusFailed:
		return extractionStatus{TaskID: t.ID, Status: t.Status, Error: t.Error}
	}

	// Pending tasks are reported as processing: the run is already queued.
	progress := t.Progress
	pages := metaInt(t.Metadata, task.MetaPagesVisited)
	iteration := metaInt(t.Metadata, task.MetaCurrentIteration)
	maxIter := metaInt(t.Metadata, task.MetaMaxIterations)
	msg, _ := t.Metadata[task.MetaMessage].(string)
	return extractionStatus{
		TaskID:           t.ID,
		Status:           task.StatusProcessing,
		Progress:         &progress,
		PagesVisited:     &pages,
		CurrentIteration: &iteration,
		MaxIterations:    &maxIter,
		Message:          msg,
	}
}

// metaInt reads a numeric metadata value. Stores that round-trip through
// JSON hand numbers back as float64.
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// StreamExtraction handles GET /api/v1/extractions/stream, running one
// extraction inline and streaming its events as server-sent events.
func (h *Handlers) StreamExtraction(w http.ResponseWriter, r *http.Request) {
	sw := newSSEWriter(w)
	err := h.Extractions.Push(r.Context(), service.ParseQuery(r.URL.Query()), sw, service.PushOptions{
		Keepalive:  h.Push.Keepalive,
		CloseDelay: h.Push.CloseDelay,
	})
	if err == nil {
		return
	}
	if !sw.started {
		writeDomainError(w, err, "extraction not found")
		return
	}
	slog.InfoContext(r.Context(), "push stream ended early", "error", err)
}

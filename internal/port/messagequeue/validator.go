package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	var taskID *string
	switch subject {
	case SubjectExtractionCreated:
		p := &ExtractionCreatedPayload{}
		target, taskID = p, &p.TaskID
	case SubjectExtractionCompleted:
		p := &ExtractionCompletedPayload{}
		target, taskID = p, &p.TaskID
	case SubjectExtractionFailed:
		p := &ExtractionFailedPayload{}
		target, taskID = p, &p.TaskID
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if *taskID == "" {
		return fmt.Errorf("schema validation failed for %s: task_id is required", subject)
	}
	return nil
}

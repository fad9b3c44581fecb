package driver

import (
	"context"
	"encoding/json"
	"strings"
)

// VideoDriver is implemented by image-to-video providers.
type VideoDriver interface {
	// Name returns the driver identifier (e.g., "runway").
	Name() string
	// SubmitImageToVideo creates a remote generation task.
	SubmitImageToVideo(ctx context.Context, req *VideoRequest) (*Task, error)
	// GetTask fetches the current state of a task.
	GetTask(ctx context.Context, id string) (*Task, error)
}

// Parameters are the fixed generation settings sent with every task.
type Parameters struct {
	DurationSeconds int     `json:"duration_seconds"`
	OutputFormat    string  `json:"output_format"`
	FPS             int     `json:"fps"`
	MotionBucketID  int     `json:"motion_bucket_id"`
	CondAug         float64 `json:"cond_aug"`
}

// DefaultParameters produce a five second 24fps mp4.
var DefaultParameters = Parameters{
	DurationSeconds: 5,
	OutputFormat:    "mp4",
	FPS:             24,
	MotionBucketID:  127,
	CondAug:         0.02,
}

// VideoRequest is a provider-agnostic image-to-video request.
type VideoRequest struct {
	Model       string
	PromptImage string // data URL
	PromptText  string
	Parameters  Parameters
}

// TaskStatus is the remote lifecycle state of a task. Providers may report
// states beyond the four below; they are kept verbatim.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskSucceeded  TaskStatus = "SUCCEEDED"
	TaskFailed     TaskStatus = "FAILED"
)

// Terminal reports whether no further polling can change the task.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Normalize upper-cases and trims a provider status string.
func Normalize(raw string) TaskStatus {
	return TaskStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// Task is a provider-agnostic view of a generation task.
type Task struct {
	ID          string
	Status      TaskStatus
	Outputs     []string
	Failure     string
	FailureCode string
	Raw         json.RawMessage
}

// OutputURL returns the first reported output, or "".
func (t *Task) OutputURL() string {
	if t == nil || len(t.Outputs) == 0 {
		return ""
	}
	return t.Outputs[0]
}

package generation

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("task not found")
	// ErrTerminal rejects any transition attempted after completed/failed.
	ErrTerminal = errors.New("task already terminal")
	// ErrRegression rejects a transition to an earlier lifecycle status.
	ErrRegression = errors.New("task status cannot regress")
)

// Status is the lifecycle state of a generation task. Transitions are
// strictly ordered queued < running < completed/failed and never regress.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// Task is the durable record of one background generation job. The record,
// not the notification stream, is the recoverable source of truth.
type Task struct {
	ID           string         `json:"task_id"`
	Status       Status         `json:"status"`
	Request      map[string]any `json:"request"`
	Result       map[string]any `json:"result,omitempty"`
	ArtifactPath string         `json:"artifact_path,omitempty"`
	Error        string         `json:"error,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (t Task) Clone() Task {
	out := t
	if t.Request != nil {
		out.Request = make(map[string]any, len(t.Request))
		for k, v := range t.Request {
			out.Request[k] = v
		}
	}
	if t.Result != nil {
		out.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			out.Result[k] = v
		}
	}
	return out
}

// Event describes one task status transition. Events are fire-and-forget;
// a lost event is recovered by reading the Task record.
type Event struct {
	TaskID       string         `json:"task_id"`
	Status       Status         `json:"status"`
	Result       map[string]any `json:"result,omitempty"`
	ArtifactPath string         `json:"artifact_path,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// EventFromTask builds the notification payload for a task's current state.
func EventFromTask(t Task) Event {
	return Event{
		TaskID:       t.ID,
		Status:       t.Status,
		Result:       t.Result,
		ArtifactPath: t.ArtifactPath,
		Error:        t.Error,
	}
}

// Publisher pushes task transition events to watchers. Implementations live
// in the notify package; publish failures must never fail the worker.
type Publisher interface {
	Publish(ctx context.Context, taskID string, evt Event) error
}

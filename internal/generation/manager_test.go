package generation

import (
	"context"
	"errors"
	"testing"
)

func newTestTaskManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore(), NewQueue(), nil)
}

func TestSubmitCreatesQueuedTask(t *testing.T) {
	m := newTestTaskManager(t)
	ctx := context.Background()

	task, err := m.Submit(ctx, "u1", map[string]any{"project_name": "demo"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if task.ID == "" || task.Status != StatusQueued {
		t.Fatalf("Submit() = %+v, want queued task with id", task)
	}
	if got := m.queue.Len(); got != 1 {
		t.Fatalf("queue length = %d, want 1", got)
	}

	fetched, err := m.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if fetched.Status != StatusQueued {
		t.Fatalf("fetched status = %q, want %q", fetched.Status, StatusQueued)
	}
}

func TestSubmitRejectsEmptyRequest(t *testing.T) {
	m := newTestTaskManager(t)
	if _, err := m.Submit(context.Background(), "u1", nil); err == nil {
		t.Fatalf("Submit(nil) error = nil, want error")
	}
}

func TestGetUnknownTask(t *testing.T) {
	m := newTestTaskManager(t)
	if _, err := m.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	m := newTestTaskManager(t)
	ctx := context.Background()
	task, err := m.Submit(ctx, "u1", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if _, err := m.MarkRunning(ctx, task.ID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	// running -> running is a regression under the strict order.
	if _, err := m.MarkRunning(ctx, task.ID); !errors.Is(err, ErrRegression) {
		t.Fatalf("second MarkRunning() error = %v, want ErrRegression", err)
	}

	done, err := m.MarkCompleted(ctx, task.ID, map[string]any{"files": 3}, "")
	if err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q", done.Status, StatusCompleted)
	}

	if _, err := m.MarkFailed(ctx, task.ID, "late failure"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("MarkFailed() after completion error = %v, want ErrTerminal", err)
	}
	after, err := m.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if after.Status != StatusCompleted || after.Error != "" {
		t.Fatalf("terminal record mutated: %+v", after)
	}
}

func TestListTasksByUser(t *testing.T) {
	m := newTestTaskManager(t)
	ctx := context.Background()
	if _, err := m.Submit(ctx, "u1", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := m.Submit(ctx, "u2", map[string]any{"b": 2}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got, err := m.List(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Fatalf("List(u1) = %+v, want single task for u1", got)
	}
}

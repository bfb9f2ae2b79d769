package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codevoicehq/codevoice/internal/observability"
)

// Manager owns task submission and record transitions. Status transitions
// go through transition() so monotonicity and terminal immutability are
// enforced in exactly one place.
type Manager struct {
	store   Store
	queue   *Queue
	metrics *observability.Metrics
}

func NewManager(store Store, queue *Queue, metrics *observability.Metrics) *Manager {
	return &Manager{store: store, queue: queue, metrics: metrics}
}

// Submit persists a queued task record and pushes its id for the worker.
func (m *Manager) Submit(ctx context.Context, userID string, request map[string]any) (Task, error) {
	if len(request) == 0 {
		return Task{}, errors.New("generation request is empty")
	}
	now := time.Now().UTC()
	t := Task{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Request:   request,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.InsertTask(ctx, t); err != nil {
		return Task{}, fmt.Errorf("enqueue generation: %w", err)
	}
	m.queue.Push(t.ID)
	m.observeDepth()
	return t, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Task, error) {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return t, nil
}

func (m *Manager) List(ctx context.Context, userID string, limit int) ([]Task, error) {
	return m.store.ListTasks(ctx, userID, limit)
}

// MarkRunning is called by the worker exclusively, right after dequeue.
func (m *Manager) MarkRunning(ctx context.Context, id string) (Task, error) {
	return m.transition(ctx, id, StatusRunning, func(t *Task) {})
}

func (m *Manager) MarkCompleted(ctx context.Context, id string, result map[string]any, artifactPath string) (Task, error) {
	return m.transition(ctx, id, StatusCompleted, func(t *Task) {
		t.Result = result
		t.ArtifactPath = artifactPath
	})
}

func (m *Manager) MarkFailed(ctx context.Context, id string, errText string) (Task, error) {
	return m.transition(ctx, id, StatusFailed, func(t *Task) {
		t.Error = errText
	})
}

func (m *Manager) transition(ctx context.Context, id string, to Status, mutate func(*Task)) (Task, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if t.Status.Terminal() {
		return Task{}, fmt.Errorf("%s -> %s: %w", t.Status, to, ErrTerminal)
	}
	if to.rank() <= t.Status.rank() {
		return Task{}, fmt.Errorf("%s -> %s: %w", t.Status, to, ErrRegression)
	}

	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	mutate(&t)
	if err := m.store.SaveTask(ctx, t); err != nil {
		return Task{}, fmt.Errorf("save task %s: %w", id, err)
	}
	return t, nil
}

func (m *Manager) observeDepth() {
	if m.metrics != nil {
		m.metrics.TaskQueueDepth.Set(float64(m.queue.Len()))
	}
}

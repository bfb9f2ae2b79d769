package generation

import (
	"context"
	"log"
	"time"

	"github.com/codevoicehq/codevoice/internal/observability"
)

// Worker drains the queue one task at a time. Exactly one worker runs per
// process, so generation jobs are strictly serialized; this bounds load on
// the external pipeline at the cost of throughput.
type Worker struct {
	manager   *Manager
	queue     *Queue
	pipeline  Pipeline
	publisher Publisher
	idleSleep time.Duration
	metrics   *observability.Metrics
}

func NewWorker(manager *Manager, queue *Queue, pipeline Pipeline, publisher Publisher, idleSleep time.Duration, metrics *observability.Metrics) *Worker {
	if idleSleep <= 0 {
		idleSleep = 200 * time.Millisecond
	}
	return &Worker{
		manager:   manager,
		queue:     queue,
		pipeline:  pipeline,
		publisher: publisher,
		idleSleep: idleSleep,
		metrics:   metrics,
	}
}

// Run loops until ctx is cancelled. A fault in one task is logged and the
// loop moves on; the queue never halts on a bad entry.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("generation: worker started (idle sleep %s)", w.idleSleep)
	for {
		if ctx.Err() != nil {
			log.Printf("generation: worker stopping: %v", ctx.Err())
			return
		}
		if w.RunOnce(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(w.idleSleep):
		}
	}
}

// RunOnce processes at most one queued task. It reports false when the queue
// was empty so the caller can back off instead of busy-spinning.
func (w *Worker) RunOnce(ctx context.Context) bool {
	id, ok := w.queue.Pop()
	if !ok {
		return false
	}
	w.manager.observeDepth()
	w.process(ctx, id)
	return true
}

func (w *Worker) process(ctx context.Context, id string) {
	task, err := w.manager.MarkRunning(ctx, id)
	if err != nil {
		log.Printf("generation: skip task %s: %v", id, err)
		return
	}
	w.publish(ctx, task)

	started := time.Now()
	result, runErr := w.pipeline.Run(ctx, task.Request)

	var terminal Task
	if runErr != nil {
		terminal, err = w.manager.MarkFailed(ctx, id, runErr.Error())
	} else {
		terminal, err = w.manager.MarkCompleted(ctx, id, result.Payload, result.ArtifactPath)
	}
	if err != nil {
		log.Printf("generation: mark terminal for task %s failed: %v", id, err)
		return
	}

	if w.metrics != nil {
		w.metrics.GenerationTasks.WithLabelValues(string(terminal.Status)).Inc()
		w.metrics.ObserveTaskDuration(time.Since(started))
	}
	w.publish(ctx, terminal)
}

// publish is best-effort: watchers recover from the task record if an event
// is lost.
func (w *Worker) publish(ctx context.Context, t Task) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, t.ID, EventFromTask(t)); err != nil {
		log.Printf("generation: publish %s event for task %s failed: %v", t.Status, t.ID, err)
	}
}

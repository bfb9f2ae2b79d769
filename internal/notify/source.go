package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codevoicehq/codevoice/internal/generation"
)

// Source feeds one status stream. A stream uses exactly one source: push
// when the notification backend is available, polling otherwise.
type Source interface {
	// Next blocks until the next event is due. It returns ErrStreamClosed
	// once a terminal event has been delivered.
	Next(ctx context.Context) (generation.Event, error)
	Close() error
}

// PubsubSource relays events from a live subscription verbatim.
type PubsubSource struct {
	sub  Subscription
	done bool
}

func NewPubsubSource(sub Subscription) *PubsubSource {
	return &PubsubSource{sub: sub}
}

func (s *PubsubSource) Next(ctx context.Context) (generation.Event, error) {
	if s.done {
		return generation.Event{}, ErrStreamClosed
	}
	select {
	case <-ctx.Done():
		return generation.Event{}, ctx.Err()
	case evt, ok := <-s.sub.Events():
		if !ok {
			s.done = true
			return generation.Event{}, ErrStreamClosed
		}
		if evt.Status.Terminal() || evt.Error != "" {
			s.done = true
		}
		return evt, nil
	}
}

func (s *PubsubSource) Close() error { return s.sub.Close() }

// FetchTask reads the current task record; the poll fallback is built on it.
type FetchTask func(ctx context.Context, taskID string) (generation.Task, error)

// pollNotFoundLimit bounds how many consecutive polls may miss the record.
// A just-submitted task becomes visible within a poll or two; a stream for
// an id that never appears must fail instead of holding the socket forever.
const pollNotFoundLimit = 5

// PollSource drives a stream off the task record at a fixed interval. It
// emits only on status change to avoid chatty duplicates, but always emits
// one final message when the record reaches a terminal status, so a watcher
// is guaranteed a terminal notification even if every push event was lost.
type PollSource struct {
	fetch    FetchTask
	taskID   string
	interval time.Duration

	lastSent generation.Status
	misses   int
	done     bool
}

func NewPollSource(fetch FetchTask, taskID string, interval time.Duration) *PollSource {
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	return &PollSource{fetch: fetch, taskID: taskID, interval: interval}
}

func (s *PollSource) Next(ctx context.Context) (generation.Event, error) {
	if s.done {
		return generation.Event{}, ErrStreamClosed
	}
	for {
		task, err := s.fetch(ctx, s.taskID)
		if err == nil {
			s.misses = 0
		}
		switch {
		case errors.Is(err, generation.ErrNotFound):
			// The record may not be visible yet right after submission;
			// tolerate a few misses before failing the stream.
			s.misses++
			if s.misses >= pollNotFoundLimit {
				s.done = true
				return generation.Event{}, fmt.Errorf("task %s: %w", s.taskID, err)
			}
		case err != nil:
			return generation.Event{}, err
		case task.Status.Terminal():
			s.done = true
			return generation.EventFromTask(task), nil
		case task.Status != s.lastSent:
			s.lastSent = task.Status
			return generation.EventFromTask(task), nil
		}

		select {
		case <-ctx.Done():
			return generation.Event{}, ctx.Err()
		case <-time.After(s.interval):
		}
	}
}

func (s *PollSource) Close() error { return nil }

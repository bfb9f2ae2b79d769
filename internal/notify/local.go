package notify

import (
	"context"
	"sync"

	"github.com/codevoicehq/codevoice/internal/generation"
)

// LocalNotifier is an in-process Notifier used when no Redis URL is
// configured. Slow subscribers drop events rather than blocking the worker.
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[string]map[*localSubscription]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[*localSubscription]struct{})}
}

func (n *LocalNotifier) Publish(ctx context.Context, taskID string, evt generation.Event) error {
	// Send while holding the mutex: subscription Close also closes the
	// channel under this mutex, so a send can never hit a closed channel.
	// Sends are non-blocking, so the critical section stays short.
	n.mu.Lock()
	defer n.mu.Unlock()
	for s := range n.subs[taskID] {
		select {
		case s.ch <- evt:
		default:
		}
	}
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context, taskID string) (Subscription, error) {
	sub := &localSubscription{
		notifier: n,
		taskID:   taskID,
		ch:       make(chan generation.Event, 16),
	}
	n.mu.Lock()
	if n.subs[taskID] == nil {
		n.subs[taskID] = make(map[*localSubscription]struct{})
	}
	n.subs[taskID][sub] = struct{}{}
	n.mu.Unlock()
	return sub, nil
}

func (n *LocalNotifier) Close() error { return nil }

type localSubscription struct {
	notifier *LocalNotifier
	taskID   string
	ch       chan generation.Event
	once     sync.Once
}

func (s *localSubscription) Events() <-chan generation.Event { return s.ch }

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		n := s.notifier
		n.mu.Lock()
		if set := n.subs[s.taskID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(n.subs, s.taskID)
			}
		}
		close(s.ch)
		n.mu.Unlock()
	})
	return nil
}

package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codevoicehq/codevoice/internal/generation"
)

func TestLocalNotifierDeliversToSubscribers(t *testing.T) {
	n := NewLocalNotifier()
	ctx := context.Background()

	sub, err := n.Subscribe(ctx, "t1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	other, err := n.Subscribe(ctx, "t2")
	if err != nil {
		t.Fatalf("Subscribe(t2) error = %v", err)
	}
	defer other.Close()

	evt := generation.Event{TaskID: "t1", Status: generation.StatusRunning}
	if err := n.Publish(ctx, "t1", evt); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-sub.Events():
		if got.TaskID != "t1" || got.Status != generation.StatusRunning {
			t.Fatalf("received = %+v, want %+v", got, evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber for t1 received nothing")
	}

	select {
	case got := <-other.Events():
		t.Fatalf("subscriber for t2 received %+v, want nothing", got)
	default:
	}
}

func TestLocalNotifierCloseStopsDelivery(t *testing.T) {
	n := NewLocalNotifier()
	ctx := context.Background()

	sub, err := n.Subscribe(ctx, "t1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Double close must be safe.
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if err := n.Publish(ctx, "t1", generation.Event{TaskID: "t1", Status: generation.StatusCompleted}); err != nil {
		t.Fatalf("Publish() after close error = %v", err)
	}

	if _, ok := <-sub.Events(); ok {
		t.Fatalf("events channel still open after Close()")
	}
}

func TestLocalNotifierPublishRacesClose(t *testing.T) {
	// A watcher disconnecting while the worker publishes a terminal event
	// must never crash the process with a send on a closed channel.
	n := NewLocalNotifier()
	ctx := context.Background()
	evt := generation.Event{TaskID: "t1", Status: generation.StatusCompleted}

	for i := 0; i < 500; i++ {
		subs := make([]Subscription, 8)
		for j := range subs {
			sub, err := n.Subscribe(ctx, "t1")
			if err != nil {
				t.Fatalf("Subscribe() error = %v", err)
			}
			subs[j] = sub
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 4; k++ {
				_ = n.Publish(ctx, "t1", evt)
			}
		}()
		for _, sub := range subs {
			_ = sub.Close()
		}
		wg.Wait()
	}
}

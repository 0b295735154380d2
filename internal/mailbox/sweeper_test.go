package mailbox

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func storeSize(s *Store) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestSweeperPurgesExpired(t *testing.T) {
	store, clk := newTestStore(t, Config{TTL: time.Hour})
	store.Push(pendingTicket("NewTicket", "1", "55"), nil)
	clk.Advance(2 * time.Hour)

	sw := NewSweeper(store, 10*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for storeSize(store) != 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("sweeper never purged the expired record")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	sw := NewSweeper(store, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

package mailbox

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, cfg Config) (*Store, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg.Clock = clk.Now
	return NewStore(cfg, zap.NewNop()), clk
}

func pendingTicket(kind, tenant, ticket string) Summary {
	return Summary{
		TenantID: tenant,
		Kind:     kind,
		TicketID: ticket,
		Pending:  true,
	}
}

func assignedTicket(kind, tenant, ticket, subject string) Summary {
	return Summary{
		TenantID: tenant,
		Kind:     kind,
		TicketID: ticket,
		Subject:  subject,
	}
}

func TestPushDeduplicates(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	sum := pendingTicket("NewTicket", "1", "55")

	if !store.Push(sum, json.RawMessage(`{"n":1}`)) {
		t.Fatal("first push should store")
	}
	if store.Push(sum, json.RawMessage(`{"n":2}`)) {
		t.Fatal("second push of the same event should be a no-op")
	}

	recs, _ := store.Query(FilterAll, "", 0, true)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if string(recs[0].Payload) != `{"n":1}` {
		t.Errorf("first payload must win, got %s", recs[0].Payload)
	}
}

func TestPushDistinctKeys(t *testing.T) {
	store, _ := newTestStore(t, Config{})

	if !store.Push(pendingTicket("NewTicket", "1", "55"), nil) {
		t.Fatal("push failed")
	}
	if !store.Push(pendingTicket("NewTicket", "1", "56"), nil) {
		t.Fatal("different ticket should store")
	}
	if !store.Push(pendingTicket("CloseTicket", "1", "55"), nil) {
		t.Fatal("different kind should store")
	}

	recs, _ := store.Query(FilterAll, "", 0, true)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
}

func TestPushAfterExpiryReusesKey(t *testing.T) {
	store, clk := newTestStore(t, Config{TTL: time.Hour})
	sum := pendingTicket("NewTicket", "1", "55")

	store.Push(sum, nil)
	clk.Advance(time.Hour + time.Second)

	if !store.Push(sum, nil) {
		t.Fatal("a key held only by an expired record must not block")
	}
}

func TestTTLExpiry(t *testing.T) {
	store, clk := newTestStore(t, Config{TTL: time.Hour})
	store.Push(pendingTicket("NewTicket", "1", "55"), nil)

	recs, _ := store.Query(FilterAll, "", 0, true)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record before expiry, got %d", len(recs))
	}

	clk.Advance(time.Hour + time.Minute)

	recs, deliveredAt := store.Query(FilterAll, "", 0, false)
	if len(recs) != 0 {
		t.Fatalf("expected 0 records after expiry, got %d", len(recs))
	}
	if deliveredAt != nil {
		t.Error("empty result must not carry a delivery timestamp")
	}

	live, undelivered := store.Health()
	if live != 0 || undelivered != 0 {
		t.Errorf("expected empty health, got live=%d undelivered=%d", live, undelivered)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	store, clk := newTestStore(t, Config{Capacity: 3})

	for i := 1; i <= 4; i++ {
		clk.Advance(time.Second)
		if !store.Push(pendingTicket("NewTicket", "1", fmt.Sprintf("t%d", i)), nil) {
			t.Fatalf("push %d failed", i)
		}
	}

	recs, _ := store.Query(FilterAll, "", 0, true)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{"t4", "t3", "t2"} {
		if recs[i].TicketID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, recs[i].TicketID)
		}
	}

	// The evicted record's key is free again.
	if !store.Push(pendingTicket("NewTicket", "1", "t1"), nil) {
		t.Error("evicted key must be reusable")
	}
}

func TestQueryMarksDelivered(t *testing.T) {
	store, clk := newTestStore(t, Config{})
	for i := 1; i <= 3; i++ {
		clk.Advance(time.Second)
		store.Push(pendingTicket("NewTicket", "1", fmt.Sprintf("t%d", i)), nil)
	}

	recs, deliveredAt := store.Query(FilterAll, "", 0, false)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if deliveredAt == nil {
		t.Fatal("non-peek query must return the delivery timestamp")
	}
	for _, rec := range recs {
		if rec.DeliveredAt == nil {
			t.Fatalf("record %s not stamped", rec.ID)
		}
		if !rec.DeliveredAt.Equal(*deliveredAt) {
			t.Errorf("record %s has stamp %v, want shared %v", rec.ID, rec.DeliveredAt, deliveredAt)
		}
	}

	// Delivered records are not returned again.
	recs, deliveredAt = store.Query(FilterAll, "", 0, false)
	if len(recs) != 0 {
		t.Fatalf("expected second query empty, got %d records", len(recs))
	}
	if deliveredAt != nil {
		t.Error("empty result must not carry a delivery timestamp")
	}

	// They still count as live until the TTL takes them.
	live, undelivered := store.Health()
	if live != 3 || undelivered != 0 {
		t.Errorf("expected live=3 undelivered=0, got %d/%d", live, undelivered)
	}
}

func TestQueryPeekDoesNotMark(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	store.Push(pendingTicket("NewTicket", "1", "55"), nil)
	store.Push(pendingTicket("NewTicket", "1", "56"), nil)

	recs, deliveredAt := store.Query(FilterAll, "", 0, true)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if deliveredAt != nil {
		t.Error("peek must not return a delivery timestamp")
	}
	for _, rec := range recs {
		if rec.DeliveredAt != nil {
			t.Errorf("peek stamped record %s", rec.ID)
		}
	}

	// A later real poll still sees everything.
	recs, deliveredAt = store.Query(FilterAll, "", 0, false)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records after peek, got %d", len(recs))
	}
	if deliveredAt == nil {
		t.Error("expected delivery timestamp on the real poll")
	}
}

func TestQueryModes(t *testing.T) {
	store, clk := newTestStore(t, Config{})
	clk.Advance(time.Second)
	store.Push(pendingTicket("NewTicket", "1", "p1"), nil)
	clk.Advance(time.Second)
	store.Push(assignedTicket("UpdateOnTicket", "1", "a1", "Ana@Example.com"), nil)
	clk.Advance(time.Second)
	store.Push(assignedTicket("UpdateOnTicket", "1", "b1", "bob@x"), nil)

	tests := []struct {
		name    string
		mode    FilterMode
		subject string
		want    []string // ticket ids, newest first
	}{
		{"pending only", FilterPending, "", []string{"p1"}},
		{"pending ignores subject", FilterPending, "bob@x", []string{"p1"}},
		{"mine without subject equals pending", FilterMine, "", []string{"p1"}},
		{"mine matches case-insensitively", FilterMine, "ana@example.com", []string{"a1", "p1"}},
		{"mine with upper-case subject", FilterMine, "BOB@X", []string{"b1", "p1"}},
		{"mine with unknown subject", FilterMine, "carol@x", []string{"p1"}},
		{"all", FilterAll, "", []string{"b1", "a1", "p1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, _ := store.Query(tt.mode, tt.subject, 0, true)
			if len(recs) != len(tt.want) {
				t.Fatalf("expected %d records, got %d", len(tt.want), len(recs))
			}
			for i, want := range tt.want {
				if recs[i].TicketID != want {
					t.Errorf("position %d: expected %s, got %s", i, want, recs[i].TicketID)
				}
			}
		})
	}
}

func TestQueryLimitCoercion(t *testing.T) {
	store, clk := newTestStore(t, Config{DefaultLimit: 2, MaxLimit: 3})
	for i := 1; i <= 5; i++ {
		clk.Advance(time.Second)
		store.Push(pendingTicket("NewTicket", "1", fmt.Sprintf("t%d", i)), nil)
	}

	tests := []struct {
		name      string
		limit     int
		wantCount int
		wantFirst string
	}{
		{"zero falls back to default", 0, 2, "t5"},
		{"negative falls back to default", -7, 2, "t5"},
		{"above max is capped", 50, 3, "t5"},
		{"explicit limit", 1, 1, "t5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, _ := store.Query(FilterAll, "", tt.limit, true)
			if len(recs) != tt.wantCount {
				t.Fatalf("expected %d records, got %d", tt.wantCount, len(recs))
			}
			if recs[0].TicketID != tt.wantFirst {
				t.Errorf("expected newest record %s first, got %s", tt.wantFirst, recs[0].TicketID)
			}
		})
	}
}

func TestSweep(t *testing.T) {
	store, clk := newTestStore(t, Config{TTL: time.Hour})
	store.Push(pendingTicket("NewTicket", "1", "old"), nil)
	clk.Advance(30 * time.Minute)
	store.Push(pendingTicket("NewTicket", "1", "fresh"), nil)
	clk.Advance(31 * time.Minute)

	if n := store.Sweep(); n != 1 {
		t.Fatalf("expected 1 purged record, got %d", n)
	}

	recs, _ := store.Query(FilterAll, "", 0, true)
	if len(recs) != 1 || recs[0].TicketID != "fresh" {
		t.Fatalf("expected only the fresh record, got %v", recs)
	}

	if n := store.Sweep(); n != 0 {
		t.Errorf("second sweep should purge nothing, got %d", n)
	}
}

func TestHealthExcludesExpired(t *testing.T) {
	store, clk := newTestStore(t, Config{TTL: time.Hour})
	store.Push(pendingTicket("NewTicket", "1", "55"), nil)
	clk.Advance(2 * time.Hour)

	// Health is read-only: the record is still inside, just not counted.
	live, undelivered := store.Health()
	if live != 0 || undelivered != 0 {
		t.Errorf("expected live=0 undelivered=0, got %d/%d", live, undelivered)
	}

	if n := store.Sweep(); n != 1 {
		t.Errorf("sweep should still find the expired record, got %d", n)
	}
}

func TestConcurrentPushSingleWinner(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	sum := pendingTicket("NewTicket", "1", "race")

	var wg sync.WaitGroup
	var stored int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Push(sum, nil) {
				atomic.AddInt32(&stored, 1)
			}
		}()
	}
	wg.Wait()

	if stored != 1 {
		t.Fatalf("expected exactly one push to win, got %d", stored)
	}
}

func TestQueryEmptyStore(t *testing.T) {
	store, _ := newTestStore(t, Config{})

	recs, deliveredAt := store.Query(FilterMine, "", 0, false)
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
	if deliveredAt != nil {
		t.Error("empty query must not return a delivery timestamp")
	}
}

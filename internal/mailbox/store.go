package mailbox

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config bounds the notification store.
type Config struct {
	TTL          time.Duration    // record lifetime, 0 means 6h
	Capacity     int              // max live records, 0 means 500
	DefaultLimit int              // query limit when the caller sends none
	MaxLimit     int              // hard cap on query limits
	Clock        func() time.Time // nil means time.Now
}

// Store is the in-memory event mailbox. It holds at most one live record per
// dedup key, evicts by age and capacity, and marks records delivered as the
// panel polls them. A single mutex guards everything; no operation blocks on
// anything but that lock.
type Store struct {
	mu      sync.Mutex
	cfg     Config
	records []*Record           // creation order, oldest first
	seen    map[string]struct{} // dedup keys of live records
	logger  *zap.Logger
}

// NewStore creates a store, filling zero config fields with defaults.
func NewStore(cfg Config, logger *zap.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 6 * time.Hour
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 500
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 500
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Store{
		cfg:    cfg,
		seen:   make(map[string]struct{}),
		logger: logger,
	}
}

// Push stores a notification unless a live record with the same dedup key
// already exists. The duplicate check and the insert happen under one lock,
// so concurrent pushes of the same event can never both succeed. Expired
// records are purged first; a key held only by a dead record does not block.
// When the mailbox is full the oldest records are dropped to make room.
// Returns false on a duplicate.
func (s *Store) Push(sum Summary, payload json.RawMessage) bool {
	key := BuildKey(sum.Kind, sum.TenantID, sum.TicketID, sum.MessageID, sum.SourceTS)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock()
	s.purgeExpiredLocked(now)

	if _, dup := s.seen[key]; dup {
		return false
	}

	if over := len(s.records) - s.cfg.Capacity + 1; over > 0 {
		for i := 0; i < over; i++ {
			delete(s.seen, s.records[i].key)
		}
		s.records = append([]*Record(nil), s.records[over:]...)
		s.logger.Debug("mailbox full, oldest records evicted", zap.Int("count", over))
	}

	rec := &Record{
		ID:        newRecordID(now),
		CreatedAt: now,
		Summary:   sum,
		Payload:   payload,
		key:       key,
	}
	s.records = append(s.records, rec)
	s.seen[key] = struct{}{}

	return true
}

// Query returns up to limit undelivered records matching the mode, newest
// first. Unless peek is set, every returned record is stamped with a single
// shared delivery timestamp, which is also returned; with peek nothing is
// mutated and the timestamp is nil. Limits outside [1, MaxLimit] are coerced
// rather than rejected.
func (s *Store) Query(mode FilterMode, subject string, limit int, peek bool) ([]Record, *time.Time) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	subject = strings.TrimSpace(subject)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock()
	s.purgeExpiredLocked(now)

	matched := make([]*Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(matched) < limit; i-- {
		rec := s.records[i]
		if rec.DeliveredAt != nil {
			continue
		}
		if !matches(mode, subject, rec) {
			continue
		}
		matched = append(matched, rec)
	}

	var deliveredAt *time.Time
	if !peek && len(matched) > 0 {
		stamp := now
		deliveredAt = &stamp
		for _, rec := range matched {
			t := stamp
			rec.DeliveredAt = &t
		}
	}

	out := make([]Record, len(matched))
	for i, rec := range matched {
		out[i] = *rec
	}
	return out, deliveredAt
}

func matches(mode FilterMode, subject string, rec *Record) bool {
	switch mode {
	case FilterAll:
		return true
	case FilterPending:
		return rec.Pending
	default: // FilterMine
		if rec.Pending {
			return true
		}
		return subject != "" && strings.EqualFold(rec.Subject, subject)
	}
}

// Sweep purges expired records and reports how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeExpiredLocked(s.cfg.Clock())
}

// Health counts live and undelivered records without mutating anything.
// Records past the TTL are excluded even when no sweep has removed them yet.
func (s *Store) Health() (live, undelivered int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.cfg.Clock().Add(-s.cfg.TTL)
	for _, rec := range s.records {
		if !rec.CreatedAt.After(cutoff) {
			continue
		}
		live++
		if rec.DeliveredAt == nil {
			undelivered++
		}
	}
	return live, undelivered
}

// purgeExpiredLocked drops records at or past the TTL. Records sit in
// creation order, so the scan stops at the first live one.
func (s *Store) purgeExpiredLocked(now time.Time) int {
	cutoff := now.Add(-s.cfg.TTL)
	idx := 0
	for idx < len(s.records) && !s.records[idx].CreatedAt.After(cutoff) {
		delete(s.seen, s.records[idx].key)
		idx++
	}
	if idx == 0 {
		return 0
	}
	s.records = append([]*Record(nil), s.records[idx:]...)
	return idx
}

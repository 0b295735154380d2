package mailbox

import (
	"strings"
	"sync"
)

// ReplySet collects the phone numbers that replied since the last drain.
// Numbers are normalized to digits and held at most once, in the order they
// first arrived.
type ReplySet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewReplySet creates an empty reply set.
func NewReplySet() *ReplySet {
	return &ReplySet{seen: make(map[string]struct{})}
}

// NormalizeNumber reduces a raw sender identifier to its digits. Platform
// ids arrive in shapes like "+55 11 99999-0000" or "5511999990000@c.us";
// everything but the digits is noise.
func NormalizeNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Add records a reply. Unparseable identifiers and repeats are dropped
// silently; returns true only when a new number was added.
func (r *ReplySet) Add(raw string) bool {
	num := NormalizeNumber(raw)
	if num == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[num]; ok {
		return false
	}
	r.seen[num] = struct{}{}
	r.order = append(r.order, num)
	return true
}

// DrainAll returns every collected number in arrival order and empties the
// set. The snapshot and the reset are one atomic step, so a number can never
// be handed out twice or lost between concurrent drains.
func (r *ReplySet) DrainAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.order
	r.order = nil
	r.seen = make(map[string]struct{})
	return out
}

// Len reports how many numbers are waiting.
func (r *ReplySet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

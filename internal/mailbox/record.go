package mailbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FilterMode selects which undelivered records a query returns.
type FilterMode string

const (
	// FilterPending returns only records whose ticket awaits assignment.
	FilterPending FilterMode = "pending"
	// FilterMine returns pending records plus records whose subject matches
	// the caller's, case-insensitively. Without a subject it behaves exactly
	// like FilterPending.
	FilterMine FilterMode = "mine"
	// FilterAll returns every live undelivered record.
	FilterAll FilterMode = "all"
)

// ParseFilterMode maps a raw query value onto a FilterMode. Unknown or empty
// input falls back to FilterMine; a malformed poll must never fail.
func ParseFilterMode(s string) FilterMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(FilterPending):
		return FilterPending
	case string(FilterAll):
		return FilterAll
	default:
		return FilterMine
	}
}

// Summary is the panel-facing digest of an event. Subject is the assigned
// agent label, empty meaning unassigned. SourceTS is the platform's own
// timestamp, kept verbatim for deduplication and never parsed.
type Summary struct {
	TenantID      string `json:"tenant_id"`
	Kind          string `json:"kind"`
	TicketID      string `json:"ticket_id"`
	MessageID     string `json:"message_id,omitempty"`
	SourceTS      string `json:"source_ts,omitempty"`
	Subject       string `json:"subject"`
	Pending       bool   `json:"pending"`
	QueueID       string `json:"queue_id,omitempty"`
	QueueName     string `json:"queue_name,omitempty"`
	ContactID     string `json:"contact_id,omitempty"`
	ContactName   string `json:"contact_name,omitempty"`
	ContactNumber string `json:"contact_number,omitempty"`
	Excerpt       string `json:"excerpt,omitempty"`
	Unread        int    `json:"unread,omitempty"`
}

// Record is a stored notification. CreatedAt comes from the store clock and
// is authoritative for ordering and TTL. DeliveredAt stays nil until a
// non-peek query hands the record to the panel. Payload is the original
// webhook body, stored verbatim and never inspected again.
type Record struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	Summary
	Payload json.RawMessage `json:"payload,omitempty"`

	key string
}

// newRecordID builds a time-prefixed id: the creation instant in hex
// milliseconds plus a uuid fragment for uniqueness within the same
// millisecond.
func newRecordID(now time.Time) string {
	return fmt.Sprintf("%x-%s", now.UnixMilli(), uuid.NewString()[:8])
}

package ingest

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/relaydesk/relaydesk/internal/mailbox"
)

// Lifecycle kinds the platform sends for ticket events. A ticket body with
// any other kind is dropped as unrecognized.
const (
	KindNewTicket      = "NewTicket"
	KindUpdateOnTicket = "UpdateOnTicket"
	KindTransferTicket = "TransferTicket"
	KindCloseTicket    = "CloseTicket"

	// KindMessage marks records built from bare message events.
	KindMessage = "Message"
)

// flexID tolerates the platform sending ids as either JSON strings or
// numbers and normalizes them to strings.
type flexID string

func (v *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*v = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = flexID(n.String())
	return nil
}

type contactPayload struct {
	ID     flexID `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
}

type queuePayload struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
}

type ticketPayload struct {
	ID          flexID          `json:"id"`
	Subject     string          `json:"subject"`
	Contact     *contactPayload `json:"contact"`
	Queue       *queuePayload   `json:"queue"`
	LastMessage string          `json:"last_message"`
	Unread      int             `json:"unread"`
}

type messagePayload struct {
	ID        flexID          `json:"id"`
	TicketID  flexID          `json:"ticket_id"`
	FromMe    bool            `json:"from_me"`
	Body      string          `json:"body"`
	Sender    *contactPayload `json:"sender"`
	Timestamp flexID          `json:"timestamp"`
}

type envelope struct {
	Kind      string          `json:"kind"`
	TenantID  flexID          `json:"tenant_id"`
	Timestamp flexID          `json:"timestamp"`
	Ticket    *ticketPayload  `json:"ticket"`
	Message   *messagePayload `json:"message"`
}

// Event is one of the recognized webhook shapes. A payload maps onto exactly
// one variant or is dropped with a reason; nothing downstream of Classify
// sniffs fields.
type Event interface {
	event()
}

// EchoEvent is the platform echoing a message the panel itself sent. It is
// never stored; it only gets forwarded back to the panel.
type EchoEvent struct {
	Number  string
	Payload json.RawMessage
}

// TicketEvent is a full ticket lifecycle notification.
type TicketEvent struct {
	Summary mailbox.Summary
	Context mailbox.TicketContext
	Payload json.RawMessage
}

// MessageEvent is an inbound customer message carrying only a ticket
// reference. The router enriches it from the context cache.
type MessageEvent struct {
	Summary mailbox.Summary
	Payload json.RawMessage
}

// ReplyEvent is a bare inbound message with no ticket reference; only the
// sender's number matters.
type ReplyEvent struct {
	Number string
}

func (*EchoEvent) event()    {}
func (*TicketEvent) event()  {}
func (*MessageEvent) event() {}
func (*ReplyEvent) event()   {}

// Stale reports whether an update carries nothing new for the panel. Only
// UpdateOnTicket is filtered this way; creates, transfers and closes always
// go through.
func (e *TicketEvent) Stale() bool {
	return e.Summary.Kind == KindUpdateOnTicket && e.Summary.Unread <= 0
}

// Classify maps a raw webhook body onto exactly one event variant. A nil
// event comes with a drop reason instead of an error: ingestion never fails,
// it only sorts.
func Classify(body []byte) (Event, string) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "malformed json"
	}

	if env.Message != nil && env.Message.FromMe {
		return &EchoEvent{
			Number:  senderNumber(env.Message),
			Payload: json.RawMessage(body),
		}, ""
	}

	if env.Ticket != nil {
		if !lifecycleKind(env.Kind) {
			return nil, "unknown ticket kind"
		}
		return ticketEvent(&env, body), ""
	}

	if env.Message != nil {
		if env.Message.TicketID != "" {
			return messageEvent(&env, body), ""
		}
		if num := senderNumber(env.Message); mailbox.NormalizeNumber(num) != "" {
			return &ReplyEvent{Number: num}, ""
		}
		return nil, "message without ticket or sender"
	}

	return nil, "unrecognized shape"
}

func lifecycleKind(kind string) bool {
	switch kind {
	case KindNewTicket, KindUpdateOnTicket, KindTransferTicket, KindCloseTicket:
		return true
	}
	return false
}

func ticketEvent(env *envelope, body []byte) *TicketEvent {
	t := env.Ticket
	subject := strings.TrimSpace(t.Subject)

	tc := mailbox.TicketContext{
		Subject: subject,
		Pending: subject == "",
	}
	if t.Contact != nil {
		tc.ContactID = string(t.Contact.ID)
		tc.ContactName = t.Contact.Name
		tc.ContactNumber = t.Contact.Number
	}
	if t.Queue != nil {
		tc.QueueID = string(t.Queue.ID)
		tc.QueueName = t.Queue.Name
	}

	sum := mailbox.Summary{
		TenantID:      string(env.TenantID),
		Kind:          env.Kind,
		TicketID:      string(t.ID),
		SourceTS:      string(env.Timestamp),
		Subject:       subject,
		Pending:       subject == "",
		QueueID:       tc.QueueID,
		QueueName:     tc.QueueName,
		ContactID:     tc.ContactID,
		ContactName:   tc.ContactName,
		ContactNumber: tc.ContactNumber,
		Excerpt:       excerpt(t.LastMessage),
		Unread:        t.Unread,
	}

	return &TicketEvent{Summary: sum, Context: tc, Payload: json.RawMessage(body)}
}

func messageEvent(env *envelope, body []byte) *MessageEvent {
	m := env.Message

	sum := mailbox.Summary{
		TenantID:  string(env.TenantID),
		Kind:      KindMessage,
		TicketID:  string(m.TicketID),
		MessageID: string(m.ID),
		SourceTS:  messageTS(env, m),
		Excerpt:   excerpt(m.Body),
	}
	if m.Sender != nil {
		sum.ContactName = m.Sender.Name
		sum.ContactNumber = m.Sender.Number
	}

	return &MessageEvent{Summary: sum, Payload: json.RawMessage(body)}
}

// messageTS prefers the message's own timestamp over the envelope's; dedup
// needs whichever the platform actually populates.
func messageTS(env *envelope, m *messagePayload) string {
	if m.Timestamp != "" {
		return string(m.Timestamp)
	}
	return string(env.Timestamp)
}

func senderNumber(m *messagePayload) string {
	if m.Sender == nil {
		return ""
	}
	if m.Sender.Number != "" {
		return m.Sender.Number
	}
	return string(m.Sender.ID)
}

// excerpt shortens a message body for the summary; the stored payload keeps
// the original.
func excerpt(s string) string {
	const max = 120
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

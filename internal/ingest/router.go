package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/circuitbreaker"
	"github.com/relaydesk/relaydesk/internal/mailbox"
	"github.com/relaydesk/relaydesk/internal/metrics"
)

// Notifier forwards a payload to the panel. Implementations must honor the
// context deadline.
type Notifier interface {
	Notify(ctx context.Context, payload []byte) error
}

// Outcome says what ingestion did with an event. The webhook response never
// depends on it; it feeds logs and metrics only.
type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeReply     Outcome = "reply"
	OutcomeEchoed    Outcome = "echoed"
	OutcomeFiltered  Outcome = "filtered"
	OutcomeDropped   Outcome = "dropped"
)

// Config carries the router collaborators. A nil Notifier disables echo
// forwarding.
type Config struct {
	Store         *mailbox.Store
	Cache         *mailbox.ContextCache
	Replies       *mailbox.ReplySet
	Notifier      Notifier
	NotifyTimeout time.Duration
}

// Router turns classified webhook events into mailbox state. One router
// instance serves all webhook requests.
type Router struct {
	store    *mailbox.Store
	cache    *mailbox.ContextCache
	replies  *mailbox.ReplySet
	notifier Notifier
	timeout  time.Duration
	logger   *zap.Logger

	notifyWg sync.WaitGroup
}

func NewRouter(cfg Config, logger *zap.Logger) *Router {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}

	return &Router{
		store:    cfg.Store,
		cache:    cfg.Cache,
		replies:  cfg.Replies,
		notifier: cfg.Notifier,
		timeout:  cfg.NotifyTimeout,
		logger:   logger,
	}
}

// Handle classifies and routes one webhook body. It never returns an error:
// whatever happens here, the webhook endpoint acknowledges the event so the
// platform does not retry.
func (r *Router) Handle(body []byte) Outcome {
	ev, reason := Classify(body)

	var outcome Outcome
	switch e := ev.(type) {
	case *EchoEvent:
		r.forwardEcho(e)
		outcome = OutcomeEchoed

	case *TicketEvent:
		// Cache the context even for filtered updates; later thin
		// messages still need it.
		r.cache.Put(e.Summary.TicketID, e.Context)

		switch {
		case e.Stale():
			r.logger.Debug("ticket update without unread messages skipped",
				zap.String("ticket_id", e.Summary.TicketID),
			)
			outcome = OutcomeFiltered
		case r.store.Push(e.Summary, e.Payload):
			outcome = OutcomeStored
		default:
			outcome = OutcomeDuplicate
		}

	case *MessageEvent:
		if r.store.Push(r.enrich(e.Summary), e.Payload) {
			outcome = OutcomeStored
		} else {
			outcome = OutcomeDuplicate
		}

	case *ReplyEvent:
		if r.replies.Add(e.Number) {
			metrics.RecordReply()
		}
		outcome = OutcomeReply

	default:
		r.logger.Debug("webhook event dropped", zap.String("reason", reason))
		outcome = OutcomeDropped
	}

	metrics.RecordWebhookEvent(string(outcome))
	if outcome == OutcomeStored {
		live, undelivered := r.store.Health()
		metrics.SetMailboxGauges(live, undelivered)
	}

	return outcome
}

// Wait blocks until in-flight panel notifications finish. Called during
// shutdown after the HTTP server has drained.
func (r *Router) Wait() {
	r.notifyWg.Wait()
}

// enrich fills a thin message summary from the context cache. The message's
// own sender fields win over cached ones; a cache miss leaves the record
// pending so it still shows up in default polls.
func (r *Router) enrich(sum mailbox.Summary) mailbox.Summary {
	tc, ok := r.cache.Get(sum.TicketID)
	if !ok {
		sum.Pending = true
		return sum
	}

	sum.Subject = tc.Subject
	sum.Pending = tc.Pending
	sum.QueueID = tc.QueueID
	sum.QueueName = tc.QueueName
	if sum.ContactName == "" {
		sum.ContactName = tc.ContactName
	}
	if sum.ContactNumber == "" {
		sum.ContactNumber = tc.ContactNumber
	}

	return sum
}

// forwardEcho hands the echo to the panel without holding up the webhook
// response. The goroutine gets its own deadline since the request context
// dies as soon as the handler returns.
func (r *Router) forwardEcho(e *EchoEvent) {
	if r.notifier == nil {
		return
	}

	r.notifyWg.Add(1)
	go func() {
		defer r.notifyWg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.notifier.Notify(ctx, e.Payload); err != nil {
			result := "error"
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				result = "rejected"
			}
			metrics.RecordPanelNotify(result)
			r.logger.Warn("panel notification failed",
				zap.String("number", e.Number),
				zap.Error(err),
			)
			return
		}

		metrics.RecordPanelNotify("ok")
	}()
}

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/circuitbreaker"
	"github.com/relaydesk/relaydesk/internal/ingest"
	"github.com/relaydesk/relaydesk/internal/mailbox"
	"github.com/relaydesk/relaydesk/internal/metrics"
)

// maxWebhookBody caps how much of a webhook request gets read.
const maxWebhookBody = 1 << 20

// AckResponse is what the webhook endpoint returns for every POST. The
// platform retries on anything else, and retrying cannot help: the mailbox
// already deduplicates.
type AckResponse struct {
	Status string `json:"status"`
}

// PollResponse is returned by the panel notification poll.
type PollResponse struct {
	Count       int              `json:"count"`
	DeliveredAt *time.Time       `json:"delivered_at"`
	Data        []mailbox.Record `json:"data"`
}

// DrainResponse is returned by the reply drain endpoint.
type DrainResponse struct {
	Count   int      `json:"count"`
	Numbers []string `json:"numbers"`
}

// HealthResponse reports mailbox occupancy and, when echo forwarding is
// configured, the state of the panel circuit breaker.
type HealthResponse struct {
	Status       string                `json:"status"`
	Live         int                   `json:"live"`
	Undelivered  int                   `json:"undelivered"`
	PanelBreaker *circuitbreaker.Stats `json:"panel_breaker,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	store       *mailbox.Store
	replies     *mailbox.ReplySet
	router      *ingest.Router
	verifyToken string
	breaker     *circuitbreaker.CircuitBreaker // nil when echo forwarding is off
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, store *mailbox.Store, replies *mailbox.ReplySet, router *ingest.Router, verifyToken string) *Handler {
	return &Handler{
		logger:      logger,
		store:       store,
		replies:     replies,
		router:      router,
		verifyToken: verifyToken,
	}
}

// NewHandlerWithBreaker creates a handler that also reports the panel
// circuit breaker in health responses.
func NewHandlerWithBreaker(logger *zap.Logger, store *mailbox.Store, replies *mailbox.ReplySet, router *ingest.Router, verifyToken string, breaker *circuitbreaker.CircuitBreaker) *Handler {
	h := NewHandler(logger, store, replies, router, verifyToken)
	h.breaker = breaker
	return h
}

// VerifyWebhook handles GET /webhook, the platform's subscription handshake.
// The challenge is echoed back only when the verify token matches; an empty
// configured token refuses every handshake rather than accepting every one.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if h.verifyToken == "" || mode != "subscribe" || token != h.verifyToken {
		h.logger.Warn("webhook verification rejected",
			zap.String("mode", mode),
			zap.String("remote", r.RemoteAddr),
		)
		h.writeError(w, http.StatusForbidden, "verification_failed", "Webhook verification failed", "")
		return
	}

	h.logger.Info("webhook verified", zap.String("remote", r.RemoteAddr))

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// IngestWebhook handles POST /webhook. The platform is always answered with
// 200 regardless of what the body contained; a non-2xx only makes it resend
// an event the mailbox has already classified or refused.
func (h *Handler) IngestWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("webhook body read failed", zap.Error(err))
		h.writeAck(w)
		return
	}

	outcome := h.router.Handle(body)

	h.logger.Debug("webhook event processed",
		zap.String("outcome", string(outcome)),
		zap.Int("bytes", len(body)),
	)

	h.writeAck(w)
}

// PollNotifications handles GET /panel/notifications.
// Query parameters: filter (pending|mine|all), subject, limit, peek.
func (h *Handler) PollNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	mode := mailbox.ParseFilterMode(q.Get("filter"))
	subject := q.Get("subject")
	peek := q.Get("peek") == "1" || q.Get("peek") == "true"

	limit := 0
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	records, deliveredAt := h.store.Query(mode, subject, limit, peek)

	if !peek && len(records) > 0 {
		metrics.RecordDelivered(string(mode), len(records))
		live, undelivered := h.store.Health()
		metrics.SetMailboxGauges(live, undelivered)
	}

	h.logger.Info("panel poll served",
		zap.String("filter", string(mode)),
		zap.Int("count", len(records)),
		zap.Bool("peek", peek),
	)

	h.writeJSON(w, http.StatusOK, PollResponse{
		Count:       len(records),
		DeliveredAt: deliveredAt,
		Data:        records,
	})
}

// DrainReplies handles POST /panel/replies/drain. The set empties atomically:
// two concurrent drains never hand out the same number twice.
func (h *Handler) DrainReplies(w http.ResponseWriter, r *http.Request) {
	numbers := h.replies.DrainAll()
	if numbers == nil {
		numbers = []string{}
	}

	if len(numbers) > 0 {
		metrics.RecordRepliesDrained(len(numbers))
	}

	h.logger.Info("replies drained", zap.Int("count", len(numbers)))

	h.writeJSON(w, http.StatusOK, DrainResponse{
		Count:   len(numbers),
		Numbers: numbers,
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	live, undelivered := h.store.Health()

	resp := HealthResponse{
		Status:      "ok",
		Live:        live,
		Undelivered: undelivered,
	}
	if h.breaker != nil {
		stats := h.breaker.Stats()
		resp.PanelBreaker = &stats
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeAck(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, AckResponse{Status: "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

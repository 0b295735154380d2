package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Notifier mirrors the ingest.Notifier interface to avoid circular imports.
type Notifier interface {
	Notify(ctx context.Context, payload []byte) error
}

// ProtectedNotifier wraps any Notifier with a CircuitBreaker. When the panel
// endpoint starts failing, the circuit opens and echo forwarding fails fast
// instead of piling goroutines onto a dead endpoint.
type ProtectedNotifier struct {
	notifier Notifier
	breaker  *CircuitBreaker
	logger   *zap.Logger
}

// NewProtectedNotifier wraps a notifier with circuit breaker protection.
func NewProtectedNotifier(notifier Notifier, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedNotifier {
	return &ProtectedNotifier{
		notifier: notifier,
		breaker:  breaker,
		logger:   logger,
	}
}

// Notify attempts to deliver a payload through the circuit breaker.
// If the circuit is open, returns ErrCircuitOpen immediately (fail fast).
// If the delivery succeeds, records success. If it fails, records failure.
func (p *ProtectedNotifier) Notify(ctx context.Context, payload []byte) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected panel notification",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.notifier.Notify(ctx, payload)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedNotifier) Breaker() *CircuitBreaker {
	return p.breaker
}

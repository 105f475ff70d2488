package gateway

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerGateway wraps a gateway with a circuit breaker so a flapping payment
// rail fails fast instead of piling up in-flight charges. Declines count as
// successful round trips; only transport-level errors trip the breaker.
type BreakerGateway struct {
	inner   Gateway
	breaker *gobreaker.CircuitBreaker[*ChargeResult]
}

// NewBreakerGateway wraps inner with a circuit breaker.
func NewBreakerGateway(inner Gateway, logger *zap.Logger) *BreakerGateway {
	settings := gobreaker.Settings{
		Name:        inner.Name() + "-gateway",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, declined := err.(*Failure)
			return declined
		},
	}
	return &BreakerGateway{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*ChargeResult](settings),
	}
}

// Name returns the wrapped gateway's name.
func (g *BreakerGateway) Name() string {
	return g.inner.Name()
}

// Submit routes the charge through the breaker.
func (g *BreakerGateway) Submit(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	return g.breaker.Execute(func() (*ChargeResult, error) {
		return g.inner.Submit(ctx, req)
	})
}

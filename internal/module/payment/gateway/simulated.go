package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

var simulatedFailures = []Failure{
	{Code: CodeInsufficientFunds, Message: "the card has insufficient funds"},
	{Code: CodeCardDeclined, Message: "the card was declined"},
	{Code: CodeExpiredCard, Message: "the card has expired"},
}

// SimulatedGateway approves roughly successRate of charges and declines the
// rest with one of three canned failure reasons. It stands in for the real
// payment rail in every environment but production.
type SimulatedGateway struct {
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64
}

// NewSimulatedGateway creates a simulated gateway with the given success rate
// in [0, 1].
func NewSimulatedGateway(successRate float64) *SimulatedGateway {
	return &SimulatedGateway{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		successRate: successRate,
	}
}

// NewSimulatedGatewaySeeded creates a simulated gateway with a fixed seed,
// for deterministic tests.
func NewSimulatedGatewaySeeded(successRate float64, seed int64) *SimulatedGateway {
	return &SimulatedGateway{
		rng:         rand.New(rand.NewSource(seed)),
		successRate: successRate,
	}
}

// Name returns the gateway name.
func (g *SimulatedGateway) Name() string {
	return "simulated"
}

// Submit approves or declines the charge.
func (g *SimulatedGateway) Submit(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	roll := g.rng.Float64()
	pick := g.rng.Intn(len(simulatedFailures))
	g.mu.Unlock()

	if roll < g.successRate {
		return &ChargeResult{
			TransactionID: fmt.Sprintf("sim_%s", uuid.New().String()),
		}, nil
	}

	failure := simulatedFailures[pick]
	return nil, &failure
}

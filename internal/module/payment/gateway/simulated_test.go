package gateway

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() ChargeRequest {
	return ChargeRequest{
		PaymentID: uuid.New(),
		UserID:    uuid.New(),
		Amount:    decimal.RequireFromString("9.99"),
		Method:    "card",
	}
}

func TestSimulatedGatewayAlwaysSucceeds(t *testing.T) {
	gw := NewSimulatedGatewaySeeded(1.0, 42)
	for i := 0; i < 50; i++ {
		res, err := gw.Submit(context.Background(), testRequest())
		require.NoError(t, err)
		assert.NotEmpty(t, res.TransactionID)
	}
}

func TestSimulatedGatewayAlwaysDeclines(t *testing.T) {
	gw := NewSimulatedGatewaySeeded(0.0, 42)
	known := map[string]bool{
		CodeInsufficientFunds: true,
		CodeCardDeclined:      true,
		CodeExpiredCard:       true,
	}
	for i := 0; i < 50; i++ {
		_, err := gw.Submit(context.Background(), testRequest())
		require.Error(t, err)
		failure, ok := err.(*Failure)
		require.True(t, ok, "declines are typed failures, got %T", err)
		assert.True(t, known[failure.Code], "unknown failure code %q", failure.Code)
		assert.NotEmpty(t, failure.Message)
	}
}

func TestSimulatedGatewayRespectsContext(t *testing.T) {
	gw := NewSimulatedGatewaySeeded(1.0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gw.Submit(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailureError(t *testing.T) {
	f := &Failure{Code: CodeExpiredCard, Message: "the card has expired"}
	assert.Contains(t, f.Error(), CodeExpiredCard)
	assert.Contains(t, f.Error(), "the card has expired")
}

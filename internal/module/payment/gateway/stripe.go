package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"go.uber.org/zap"
)

var centFactor = decimal.NewFromInt(100)

// StripeGateway charges cards through Stripe PaymentIntents.
type StripeGateway struct {
	logger *zap.Logger
}

// NewStripeGateway configures the Stripe SDK and returns the gateway.
func NewStripeGateway(apiKey string, logger *zap.Logger) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{logger: logger}
}

// Name returns the gateway name.
func (g *StripeGateway) Name() string {
	return "stripe"
}

// Submit creates and confirms a PaymentIntent for the charge.
func (g *StripeGateway) Submit(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount.Mul(centFactor).IntPart()),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Confirm:  stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.AddMetadata("payment_id", req.PaymentID.String())
	params.AddMetadata("user_id", req.UserID.String())

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		g.logger.Warn("payment intent did not succeed",
			zap.String("payment_id", req.PaymentID.String()),
			zap.String("intent_status", string(pi.Status)))
		return nil, &Failure{Code: CodeCardDeclined, Message: "payment intent " + string(pi.Status)}
	}

	return &ChargeResult{TransactionID: pi.ID}, nil
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	switch stripeErr.DeclineCode {
	case stripe.DeclineCodeInsufficientFunds:
		return &Failure{Code: CodeInsufficientFunds, Message: stripeErr.Msg}
	case stripe.DeclineCodeExpiredCard:
		return &Failure{Code: CodeExpiredCard, Message: stripeErr.Msg}
	}
	if stripeErr.Code == stripe.ErrorCodeCardDeclined {
		return &Failure{Code: CodeCardDeclined, Message: stripeErr.Msg}
	}
	return err
}

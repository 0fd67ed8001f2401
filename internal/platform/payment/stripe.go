// Package payment confirms payment intents created by the clinic backend.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Status is the provider-neutral outcome of a confirmation.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusRequiresAction Status = "requires_action"
	StatusFailed         Status = "failed"
)

// Result is returned by a successful confirmation call. A declined card is a
// Result with StatusFailed and a Message, not an error.
type Result struct {
	PaymentIntentID string
	Status          Status
	Message         string
}

var ErrInvalidClientSecret = errors.New("invalid payment client secret")

// IntentID extracts the payment intent id from a client secret of the form
// pi_xxx_secret_yyy.
func IntentID(clientSecret string) (string, error) {
	i := strings.Index(clientSecret, "_secret_")
	if i <= 0 {
		return "", ErrInvalidClientSecret
	}
	return clientSecret[:i], nil
}

// StripeConfirmer confirms payment intents through the Stripe API.
type StripeConfirmer struct {
	api    *client.API
	logger zerolog.Logger
}

// NewStripeConfirmer creates a confirmer using the given secret key.
func NewStripeConfirmer(secretKey string, logger zerolog.Logger) *StripeConfirmer {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeConfirmer{api: api, logger: logger}
}

// Confirm confirms the intent behind clientSecret with a payment method.
// Both succeeded and requires_capture count as success.
func (s *StripeConfirmer) Confirm(ctx context.Context, clientSecret, paymentMethodID string) (*Result, error) {
	id, err := IntentID(clientSecret)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(paymentMethodID),
	}
	params.Context = ctx

	pi, err := s.api.PaymentIntents.Confirm(id, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
			return &Result{PaymentIntentID: id, Status: StatusFailed, Message: se.Msg}, nil
		}
		return nil, fmt.Errorf("confirm payment intent %s: %w", id, err)
	}

	res := &Result{PaymentIntentID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		res.Status = StatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction:
		res.Status = StatusRequiresAction
		res.Message = "additional authentication required"
	default:
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("payment %s", pi.Status)
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			res.Message = pi.LastPaymentError.Msg
		}
	}

	s.logger.Info().
		Str("payment_intent", pi.ID).
		Str("status", string(pi.Status)).
		Msg("payment intent confirmed")
	return res, nil
}

// DeclinedPaymentMethod makes the Simulated confirmer decline.
const DeclinedPaymentMethod = "pm_card_chargeDeclined"

// Simulated confirms every intent without calling out. Used in development
// when no Stripe key is configured.
type Simulated struct{}

func (Simulated) Confirm(_ context.Context, clientSecret, paymentMethodID string) (*Result, error) {
	id, err := IntentID(clientSecret)
	if err != nil {
		return nil, err
	}
	if paymentMethodID == DeclinedPaymentMethod {
		return &Result{PaymentIntentID: id, Status: StatusFailed, Message: "Your card was declined."}, nil
	}
	return &Result{PaymentIntentID: id, Status: StatusSucceeded}, nil
}

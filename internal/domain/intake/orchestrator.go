package intake

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/telecare/intake/internal/domain/questionnaire"
	"github.com/telecare/intake/internal/platform/backend"
	"github.com/telecare/intake/internal/platform/payment"
)

// Backend is the part of the clinic backend the intake service calls.
type Backend interface {
	GetQuestionnaire(ctx context.Context, id string) (*backend.Questionnaire, error)
	GetUserProfileQuestionnaire(ctx context.Context) (*backend.Questionnaire, error)
	GetStandardizedSteps(ctx context.Context, category string) ([]questionnaire.Step, error)
	SignUp(ctx context.Context, req backend.SignupRequest) (*backend.Account, error)
	SignIn(ctx context.Context, req backend.SignInRequest) (*backend.Account, error)
	SignInOAuth(ctx context.Context, req backend.OAuthRequest) (*backend.Account, error)
	CreatePlanSubscription(ctx context.Context, req backend.PlanSubscriptionRequest) (*backend.Intent, error)
	CreateProgramSubscription(ctx context.Context, req backend.ProgramSubscriptionRequest) (*backend.Intent, error)
	TriggerCheckoutSequence(ctx context.Context, req backend.CheckoutSequenceRequest) error
	TrackConversion(ctx context.Context, req backend.ConversionRequest) error
	TrackContact(ctx context.Context, req backend.ContactRequest) error
	GetVisitFee(ctx context.Context, programID, state string) (*backend.VisitFee, error)
	CreateMDCase(ctx context.Context, req backend.CaseRequest) (*backend.Case, error)
	CreateBelugaCase(ctx context.Context, req backend.CaseRequest) (*backend.Case, error)
}

// PaymentConfirmer confirms a created payment intent.
type PaymentConfirmer interface {
	Confirm(ctx context.Context, clientSecret, paymentMethodID string) (*payment.Result, error)
}

// IntentCreator creates the payment intent for a checkout. A nil intent
// without error means the backend declined.
type IntentCreator interface {
	CreateIntent(ctx context.Context, q *backend.Questionnaire, s State) (*backend.Intent, error)
}

type planIntents struct{ backend Backend }

func (p planIntents) CreateIntent(ctx context.Context, q *backend.Questionnaire, s State) (*backend.Intent, error) {
	req := backend.PlanSubscriptionRequest{
		QuestionnaireID: q.ID,
		Quantities:      positive(s.SelectedProducts),
		UserID:          s.UserID,
		Shipping:        toAddress(s.Shipping),
		Answers:         flatten(s),
	}
	if q.Product != nil {
		req.ProductID = q.Product.ID
		req.PlanID = q.Product.PlanID
	}
	return p.backend.CreatePlanSubscription(ctx, req)
}

type programIntents struct{ backend Backend }

// CreateIntent fetches the visit fee for the shipping state right before
// pricing, so a state change between steps is always reflected.
func (p programIntents) CreateIntent(ctx context.Context, q *backend.Questionnaire, s State) (*backend.Intent, error) {
	prog := q.Program
	fee, err := p.backend.GetVisitFee(ctx, prog.ID, s.Shipping.State)
	if err != nil {
		return nil, fmt.Errorf("fetch visit fee: %w", err)
	}
	quote, err := QuoteProgram(prog, s.ProductIDs(true), fee.Fee)
	if err != nil {
		return nil, err
	}
	return p.backend.CreateProgramSubscription(ctx, backend.ProgramSubscriptionRequest{
		ProgramID:             prog.ID,
		QuestionnaireID:       q.ID,
		ProductIDs:            quote.ProductIDs,
		UserID:                s.UserID,
		ProductsTotal:         quote.ProductsTotal.Dollars(),
		NonMedicalServicesFee: quote.NonMedicalFee.Dollars(),
		VisitFee:              quote.VisitFee.Dollars(),
		TotalAmount:           quote.Total.Dollars(),
		Shipping:              toAddress(s.Shipping),
		Answers:               flatten(s),
	})
}

// Message shown when a Beluga case cannot be opened after the card was
// authorized.
const belugaFailureMessage = "Your payment was authorized but not captured because we could not submit your visit. Please try again."

// Orchestrator runs the checkout payment sequence.
type Orchestrator struct {
	backend   Backend
	confirmer PaymentConfirmer
	logger    zerolog.Logger
}

func NewOrchestrator(b Backend, confirmer PaymentConfirmer, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{backend: b, confirmer: confirmer, logger: logger}
}

// Advance applies one payment transition to the session and returns the
// resulting state.
type Advance func(PaymentChanged) (State, error)

// Checkout creates the intent, confirms it and runs the post-payment side
// effects, moving the payment state through advance at every stage. The
// checkout sequence trigger, conversion tracking and MD Integrations case are
// best-effort; a Beluga case failure fails the checkout.
func (o *Orchestrator) Checkout(ctx context.Context, q *backend.Questionnaire, s State, paymentMethodID string, advance Advance) (State, error) {
	if strings.TrimSpace(paymentMethodID) == "" {
		return s, invalid("paymentMethod", "a payment method is required")
	}
	if q.Program != nil {
		if v := validateProducts(s, true); v != nil {
			return s, v
		}
	}
	if v := ValidateShipping(s.Shipping); v != nil {
		return s, v
	}

	log := o.logger.With().Str("questionnaire_id", q.ID).Logger()

	s, err := advance(PaymentChanged{To: PaymentProcessing})
	if err != nil {
		return s, err
	}
	fail := func(msg string, cause error) (State, error) {
		next, aerr := advance(PaymentChanged{To: PaymentFailed, Err: msg})
		if aerr != nil {
			return next, aerr
		}
		return next, &PaymentError{Message: msg, Err: cause}
	}

	var creator IntentCreator = planIntents{backend: o.backend}
	if q.Program != nil {
		creator = programIntents{backend: o.backend}
	}
	intent, err := creator.CreateIntent(ctx, q, s)
	if err != nil {
		log.Error().Err(err).Msg("payment intent creation failed")
		return fail("We could not start your payment. Please try again.", err)
	}
	if intent == nil {
		return fail("We could not start your payment. Please try again.", nil)
	}

	res, err := o.confirmer.Confirm(ctx, intent.ClientSecret, paymentMethodID)
	if err != nil {
		log.Error().Err(err).Msg("payment confirmation failed")
		return fail("Your payment could not be processed.", err)
	}
	if res.Status != payment.StatusSucceeded {
		msg := res.Message
		if msg == "" {
			msg = "Your payment could not be processed."
		}
		return fail(msg, nil)
	}

	piID := res.PaymentIntentID
	if piID == "" {
		piID = intent.PaymentIntentID
	}
	if s, err = advance(PaymentChanged{To: PaymentSucceeded, PaymentIntentID: piID, OrderID: intent.OrderID}); err != nil {
		return s, err
	}
	log = log.With().Str("payment_intent", piID).Str("order_id", s.OrderID).Logger()

	if err := o.backend.TriggerCheckoutSequence(ctx, backend.CheckoutSequenceRequest{
		OrderID:         s.OrderID,
		PaymentIntentID: piID,
		UserID:          s.UserID,
		QuestionnaireID: q.ID,
	}); err != nil {
		log.Warn().Err(err).Msg("checkout sequence trigger failed")
	}

	conv := backend.ConversionRequest{
		QuestionnaireID: q.ID,
		UserID:          s.UserID,
		PaymentIntentID: piID,
		OrderID:         s.OrderID,
	}
	if q.Clinic != nil {
		conv.ClinicID = q.Clinic.ID
	}
	if err := o.backend.TrackConversion(ctx, conv); err != nil {
		log.Warn().Err(err).Msg("conversion tracking failed")
	}

	caseReq := backend.CaseRequest{OrderID: s.OrderID, PatientOverrides: patientOverrides(s)}
	switch q.MedicalCompanySource {
	case backend.MedicalCompanyMDIntegrations:
		if s, err = advance(PaymentChanged{To: PaymentCreatingMDCase}); err != nil {
			return s, err
		}
		if _, err := o.backend.CreateMDCase(ctx, caseReq); err != nil {
			log.Error().Err(err).Msg("md integrations case creation failed")
		}
	case backend.MedicalCompanyBeluga:
		if s, err = advance(PaymentChanged{To: PaymentCreatingBelugaCase}); err != nil {
			return s, err
		}
		if _, err := o.backend.CreateBelugaCase(ctx, caseReq); err != nil {
			log.Error().Err(err).Msg("beluga case creation failed")
			if errors.Is(err, context.Canceled) {
				return s, err
			}
			return fail(belugaFailureMessage, err)
		}
	}
	return advance(PaymentChanged{To: PaymentReady})
}

// RedirectTarget is where the patient goes once checkout is ready.
func RedirectTarget(source backend.MedicalCompanySource, orderID string) string {
	q := url.Values{}
	if orderID != "" {
		q.Set("orderId", orderID)
	}
	path := "/checkout/success"
	switch source {
	case backend.MedicalCompanyMDIntegrations:
		path = "/checkout/success/md-integrations"
	case backend.MedicalCompanyBeluga:
		path = "/checkout/success/beluga"
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func toAddress(s ShippingInfo) backend.Address {
	return backend.Address{
		Address:   s.Address,
		Apartment: s.Apartment,
		City:      s.City,
		State:     s.State,
		ZipCode:   s.ZipCode,
		Country:   s.Country,
	}
}

func positive(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// flatten renders answers as strings, joining multi-choice values.
func flatten(s State) map[string]string {
	out := make(map[string]string, len(s.Answers))
	for k, a := range s.Answers {
		out[k] = a.String()
	}
	return out
}

func patientOverrides(s State) map[string]string {
	acct := s.Account()
	out := map[string]string{}
	for k, v := range map[string]string{
		"firstName": acct.FirstName,
		"lastName":  acct.LastName,
		"email":     acct.Email,
		"phone":     acct.Phone,
		"state":     s.Shipping.State,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

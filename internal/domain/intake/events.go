package intake

import "github.com/telecare/intake/internal/domain/questionnaire"

// Event is an input to the wizard reducer.
type Event interface{ event() }

type (
	// Next validates the current position and advances.
	Next struct{}
	// Previous steps back, landing on intro 0 when crossing into the intro.
	Previous struct{}
	// AnswersChanged merges answer updates.
	AnswersChanged struct{ Answers questionnaire.Answers }
	// ConsentGiven records the consent checkbox.
	ConsentGiven struct{ Accepted bool }
	// PhotoCaptured records the captured identity photo payload.
	PhotoCaptured struct{ Data string }
	// ProductsSelected replaces the product selection. Quantities apply to
	// questionnaires, Toggles to programs.
	ProductsSelected struct {
		Quantities map[string]int
		Toggles    map[string]bool
	}
	// ShippingChanged replaces the shipping address.
	ShippingChanged struct{ Shipping ShippingInfo }
	// AccountCreated records the account made when leaving the account step.
	AccountCreated struct {
		UserID    string
		FirstName string
		LastName  string
		Advance   bool
	}
	// SignedIn records a mid-flow sign-in.
	SignedIn struct {
		UserID    string
		FirstName string
		LastName  string
	}
	// PaymentChanged moves the payment state machine.
	PaymentChanged struct {
		To              PaymentState
		Err             string
		PaymentIntentID string
		OrderID         string
	}
	// Restored rehydrates the state from a cached draft.
	Restored struct{ Draft Draft }
)

func (Next) event()             {}
func (Previous) event()         {}
func (AnswersChanged) event()   {}
func (ConsentGiven) event()     {}
func (PhotoCaptured) event()    {}
func (ProductsSelected) event() {}
func (ShippingChanged) event()  {}
func (AccountCreated) event()   {}
func (SignedIn) event()         {}
func (PaymentChanged) event()   {}
func (Restored) event()         {}

// Effect is a side effect requested by the reducer and executed by the
// session service.
type Effect interface{ effect() }

type (
	// SaveDraft persists the tracked fields to the draft cache.
	SaveDraft struct{}
	// CreateAccount registers the patient before leaving the account step.
	CreateAccount struct{ Fields AccountFields }
	// TrackContact reports contact details for abandoned-cart follow-up.
	TrackContact struct{ Fields AccountFields }
	// Publish pushes a session event to subscribers.
	Publish struct{ Type EventType }
	// Submit finishes the intake.
	Submit struct{}
)

func (SaveDraft) effect()     {}
func (CreateAccount) effect() {}
func (TrackContact) effect()  {}
func (Publish) effect()       {}
func (Submit) effect()        {}

// EventType names a session event pushed over the websocket hub.
type EventType string

const (
	EventStepChanged    EventType = "step_changed"
	EventAnswersUpdated EventType = "answers_updated"
	EventAccountCreated EventType = "account_created"
	EventPaymentChanged EventType = "payment_changed"
	EventSubmitted      EventType = "submitted"
	EventClosed         EventType = "closed"
)

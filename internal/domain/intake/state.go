package intake

import (
	"sort"
	"strings"

	"github.com/telecare/intake/internal/domain/questionnaire"
)

// ShippingInfo is the checkout delivery address.
type ShippingInfo struct {
	Address   string `json:"address"`
	Apartment string `json:"apartment,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country,omitempty"`
}

// State is the wizard state of one intake session. It is treated as an
// immutable value: the reducer returns a new State and never writes through
// the maps of the one it was given.
type State struct {
	Answers         questionnaire.Answers `json:"answers"`
	StepIndex       int                   `json:"currentStepIndex"`
	ConsentAccepted bool                  `json:"consentAccepted"`
	Photo           string                `json:"-"`

	SelectedProducts map[string]int  `json:"selectedProducts"`
	ProgramProducts  map[string]bool `json:"selectedProgramProducts"`
	Shipping         ShippingInfo    `json:"shippingInfo"`

	UserID           string `json:"userId,omitempty"`
	AccountCreated   bool   `json:"accountCreated"`
	Authenticated    bool   `json:"authenticated"`
	PatientName      string `json:"patientName,omitempty"`
	PatientFirstName string `json:"patientFirstName,omitempty"`

	Payment         PaymentState `json:"paymentState"`
	PaymentError    string       `json:"paymentError,omitempty"`
	PaymentIntentID string       `json:"paymentIntentId,omitempty"`
	OrderID         string       `json:"orderId,omitempty"`
	Submitted       bool         `json:"submitted"`
}

// NewState returns the initial state of a session.
func NewState() State {
	return State{
		Answers:          questionnaire.Answers{},
		SelectedProducts: map[string]int{},
		ProgramProducts:  map[string]bool{},
		Payment:          PaymentIdle,
	}
}

// SignedIn reports whether account steps should be skipped.
func (s State) SignedIn() bool {
	return s.AccountCreated || s.UserID != "" || s.Authenticated
}

// ProductIDs returns the ids of the selected products, sorted.
func (s State) ProductIDs(programMode bool) []string {
	var ids []string
	if programMode {
		for id, on := range s.ProgramProducts {
			if on {
				ids = append(ids, id)
			}
		}
	} else {
		for id, n := range s.SelectedProducts {
			if n > 0 {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// AccountFields are the profile answers used to create an account.
type AccountFields struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// Account answer ids read from the Create Your Account step.
const (
	KeyFirstName = "firstName"
	KeyLastName  = "lastName"
	KeyEmail     = "email"
	KeyMobile    = "mobile"
)

// Account returns the account fields from the answers.
func (s State) Account() AccountFields {
	return AccountFields{
		FirstName: strings.TrimSpace(s.Answers.Text(KeyFirstName)),
		LastName:  strings.TrimSpace(s.Answers.Text(KeyLastName)),
		Email:     strings.TrimSpace(s.Answers.Text(KeyEmail)),
		Phone:     strings.TrimSpace(s.Answers.Text(KeyMobile)),
	}
}

func cloneInts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBools(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

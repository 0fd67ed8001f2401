package intake

// PaymentState is the checkout payment lifecycle.
type PaymentState string

const (
	PaymentIdle               PaymentState = "idle"
	PaymentProcessing         PaymentState = "processing"
	PaymentSucceeded          PaymentState = "succeeded"
	PaymentCreatingMDCase     PaymentState = "creatingMDCase"
	PaymentCreatingBelugaCase PaymentState = "creatingBelugaCase"
	PaymentReady              PaymentState = "ready"
	PaymentFailed             PaymentState = "failed"
)

// Transitions only move forward on success. failed is reachable from
// processing and the case-creation states and only leads back to idle.
var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentIdle:               {PaymentProcessing},
	PaymentProcessing:         {PaymentSucceeded, PaymentFailed},
	PaymentSucceeded:          {PaymentCreatingMDCase, PaymentCreatingBelugaCase, PaymentReady},
	PaymentCreatingMDCase:     {PaymentReady, PaymentFailed},
	PaymentCreatingBelugaCase: {PaymentReady, PaymentFailed},
	PaymentFailed:             {PaymentIdle},
	PaymentReady:              nil,
}

// CanTransition reports whether to is a legal next state.
func (p PaymentState) CanTransition(to PaymentState) bool {
	for _, s := range paymentTransitions[p] {
		if s == to {
			return true
		}
	}
	return false
}

// Captured reports whether the charge went through.
func (p PaymentState) Captured() bool {
	return p == PaymentSucceeded || p == PaymentReady
}

// Started reports whether a checkout attempt is underway or finished
// without failing.
func (p PaymentState) Started() bool {
	return p != "" && p != PaymentIdle && p != PaymentFailed
}

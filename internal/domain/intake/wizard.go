package intake

import (
	"strings"

	"github.com/telecare/intake/internal/domain/questionnaire"
)

// PositionKind tells what the current index renders.
type PositionKind string

const (
	PositionConsent          PositionKind = "consent"
	PositionPhoto            PositionKind = "photo"
	PositionStep             PositionKind = "step"
	PositionProductSelection PositionKind = "product_selection"
	PositionCheckout         PositionKind = "checkout"
)

// Current is a resolved wizard index.
type Current struct {
	Kind PositionKind
	// Step and StepIndex are set for PositionStep.
	Step      *questionnaire.Step
	StepIndex int
}

// Wizard is the navigation controller over one sequenced layout. Indices
// cover the intro steps followed by the layout timeline. It holds no session
// state: every decision is derived from the State it is handed.
type Wizard struct {
	layout      questionnaire.Layout
	vis         *questionnaire.Visibility
	intro       int
	programMode bool
}

// NewWizard builds a wizard. intro is the number of intro steps (0, 1 for
// consent, 2 for consent and photo).
func NewWizard(l questionnaire.Layout, intro int, programMode bool) *Wizard {
	if intro < 0 {
		intro = 0
	}
	if intro > 2 {
		intro = 2
	}
	return &Wizard{
		layout:      l,
		vis:         questionnaire.Compile(l),
		intro:       intro,
		programMode: programMode,
	}
}

func (w *Wizard) Layout() questionnaire.Layout { return w.layout }
func (w *Wizard) IntroSteps() int              { return w.intro }
func (w *Wizard) ProgramMode() bool            { return w.programMode }

// Total is the number of wizard indices.
func (w *Wizard) Total() int { return w.intro + w.layout.Len() }

// CheckoutIndex is the wizard index of the checkout marker.
func (w *Wizard) CheckoutIndex() int { return w.intro + w.layout.CheckoutIndex() }

// Resolve maps a wizard index to what it renders.
func (w *Wizard) Resolve(idx int) (Current, bool) {
	if idx < 0 || idx >= w.Total() {
		return Current{}, false
	}
	if idx < w.intro {
		if idx == 0 {
			return Current{Kind: PositionConsent}, true
		}
		return Current{Kind: PositionPhoto}, true
	}
	slot, ok := w.layout.Slot(idx - w.intro)
	if !ok {
		return Current{}, false
	}
	switch slot.Kind {
	case questionnaire.SlotCheckout:
		return Current{Kind: PositionCheckout}, true
	case questionnaire.SlotProductSelection:
		return Current{Kind: PositionProductSelection}, true
	}
	return Current{Kind: PositionStep, Step: &w.layout.Steps[slot.Step], StepIndex: slot.Step}, true
}

// Eligible reports whether idx can be landed on in state s.
func (w *Wizard) Eligible(s State, idx int) bool {
	cur, ok := w.Resolve(idx)
	if !ok {
		return false
	}
	if cur.Kind != PositionStep {
		return true
	}
	return w.vis.StepVisible(cur.StepIndex, s.Answers, s.SignedIn())
}

// QuestionVisible reports whether question j of layout step i is shown.
func (w *Wizard) QuestionVisible(s State, i, j int) bool {
	return w.vis.QuestionVisible(i, j, s.Answers)
}

// VisibleCount is the number of indices the patient will actually see.
func (w *Wizard) VisibleCount(s State) int {
	n := 0
	for t := 0; t < w.Total(); t++ {
		if w.Eligible(s, t) {
			n++
		}
	}
	return n
}

// VisiblePosition is the 1-based position of the current index among the
// visible ones.
func (w *Wizard) VisiblePosition(s State) int {
	n := 0
	for t := 0; t <= s.StepIndex && t < w.Total(); t++ {
		if w.Eligible(s, t) {
			n++
		}
	}
	return n
}

func (w *Wizard) forward(s State, from int) int {
	for t := from + 1; t < w.Total(); t++ {
		if w.Eligible(s, t) {
			return t
		}
	}
	return w.CheckoutIndex()
}

// settle keeps the index on something renderable after the eligibility
// inputs change.
func (w *Wizard) settle(s State) State {
	if s.StepIndex < 0 {
		s.StepIndex = 0
	}
	if s.StepIndex >= w.Total() {
		s.StepIndex = w.CheckoutIndex()
	}
	if !w.Eligible(s, s.StepIndex) {
		s.StepIndex = w.forward(s, s.StepIndex)
	}
	return s
}

// Validate checks the current index. A nil return means Next may advance.
func (w *Wizard) Validate(s State) error {
	cur, ok := w.Resolve(s.StepIndex)
	if !ok {
		return invalid("step", "no such step")
	}
	var v *ValidationError
	switch cur.Kind {
	case PositionConsent:
		if !s.ConsentAccepted {
			v = invalid("consent", "consent is required to continue")
		}
	case PositionPhoto:
		if strings.TrimSpace(s.Photo) == "" {
			v = invalid("photo", "a photo is required to continue")
		}
	case PositionProductSelection:
		v = validateProducts(s, w.programMode)
	case PositionCheckout:
		v = validateCheckout(s, w.programMode)
	case PositionStep:
		v = validateStep(w.vis, cur.StepIndex, *cur.Step, s)
	}
	if v != nil {
		return v
	}
	return nil
}

func moved() []Effect { return []Effect{SaveDraft{}, Publish{Type: EventStepChanged}} }

// Apply is the wizard reducer. It never mutates s; on error the returned
// state is s unchanged.
func (w *Wizard) Apply(s State, ev Event) (State, []Effect, error) {
	switch ev := ev.(type) {
	case Next:
		return w.next(s)
	case Previous:
		return w.previous(s)

	case AnswersChanged:
		out := s
		out.Answers = MergeAnswers(s.Answers, ev.Answers)
		out = w.settle(out)
		effects := []Effect{SaveDraft{}, Publish{Type: EventAnswersUpdated}}
		if touchesContact(ev.Answers) {
			if f := out.Account(); f.Email != "" || f.Phone != "" {
				effects = append(effects, TrackContact{Fields: f})
			}
		}
		return out, effects, nil

	case ConsentGiven:
		s.ConsentAccepted = ev.Accepted
		return s, nil, nil

	case PhotoCaptured:
		s.Photo = ev.Data
		return s, nil, nil

	case ProductsSelected:
		return w.selectProducts(s, ev)

	case ShippingChanged:
		s.Shipping = ev.Shipping
		return s, []Effect{SaveDraft{}}, nil

	case AccountCreated:
		s.UserID = ev.UserID
		s.AccountCreated = true
		s = withPatientName(s, ev.FirstName, ev.LastName)
		if ev.Advance {
			s.StepIndex = w.forward(s, s.StepIndex)
		} else {
			s = w.settle(s)
		}
		return s, []Effect{SaveDraft{}, Publish{Type: EventAccountCreated}, Publish{Type: EventStepChanged}}, nil

	case SignedIn:
		s.UserID = ev.UserID
		s.Authenticated = true
		s = withPatientName(s, ev.FirstName, ev.LastName)
		s = w.settle(s)
		return s, moved(), nil

	case PaymentChanged:
		if !s.Payment.CanTransition(ev.To) {
			return s, nil, &TransitionError{From: s.Payment, To: ev.To}
		}
		s.Payment = ev.To
		switch ev.To {
		case PaymentFailed:
			s.PaymentError = ev.Err
		case PaymentProcessing, PaymentIdle:
			s.PaymentError = ""
		}
		if ev.PaymentIntentID != "" {
			s.PaymentIntentID = ev.PaymentIntentID
		}
		if ev.OrderID != "" {
			s.OrderID = ev.OrderID
		}
		return s, []Effect{Publish{Type: EventPaymentChanged}}, nil

	case Restored:
		s = ev.Draft.applyTo(s)
		if w.intro > 0 {
			s.StepIndex = 0
		}
		return w.settle(s), nil, nil
	}
	return s, nil, nil
}

func (w *Wizard) next(s State) (State, []Effect, error) {
	if err := w.Validate(s); err != nil {
		return s, nil, err
	}
	cur := s.StepIndex
	if cur < w.intro-1 {
		s.StepIndex = cur + 1
		return s, moved(), nil
	}

	pos, _ := w.Resolve(cur)
	switch pos.Kind {
	case PositionCheckout:
		s.Submitted = true
		return s, []Effect{Submit{}, Publish{Type: EventSubmitted}}, nil
	case PositionStep:
		if pos.Step.IsAccountStep() && !s.SignedIn() {
			return s, []Effect{CreateAccount{Fields: s.Account()}}, nil
		}
	}
	s.StepIndex = w.forward(s, cur)
	return s, moved(), nil
}

func (w *Wizard) previous(s State) (State, []Effect, error) {
	cur := s.StepIndex
	if cur <= 0 {
		return s, nil, nil
	}
	if cur < w.intro {
		s.StepIndex = 0
		return s, moved(), nil
	}
	for t := cur - 1; t >= w.intro; t-- {
		if w.Eligible(s, t) {
			s.StepIndex = t
			return s, moved(), nil
		}
	}
	if w.intro == 0 {
		return s, nil, nil
	}
	s.StepIndex = 0
	return s, moved(), nil
}

func (w *Wizard) selectProducts(s State, ev ProductsSelected) (State, []Effect, error) {
	if s.Payment.Started() {
		return s, nil, ErrPaymentLocked
	}
	if w.programMode {
		s.ProgramProducts = cloneBools(ev.Toggles)
	} else {
		for id, n := range ev.Quantities {
			if n < 0 {
				return s, nil, invalid(id, "quantity cannot be negative")
			}
		}
		s.SelectedProducts = cloneInts(ev.Quantities)
	}
	effects := []Effect{SaveDraft{}}
	if s.Payment == PaymentFailed {
		s.Payment = PaymentIdle
		s.PaymentError = ""
		effects = append(effects, Publish{Type: EventPaymentChanged})
	}
	return s, effects, nil
}

func touchesContact(updates questionnaire.Answers) bool {
	for _, k := range []string{KeyEmail, KeyMobile, KeyFirstName, KeyLastName} {
		if _, ok := updates[k]; ok {
			return true
		}
	}
	return false
}

func withPatientName(s State, first, last string) State {
	if first == "" && last == "" {
		acct := s.Account()
		first, last = acct.FirstName, acct.LastName
	}
	if first != "" {
		s.PatientFirstName = first
	}
	if name := strings.TrimSpace(first + " " + last); name != "" {
		s.PatientName = name
	}
	return s
}

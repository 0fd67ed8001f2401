package questionnaire

// Layout is the sequenced questionnaire: ordered steps plus the two marker
// positions. Positions index the timeline, where each marker occupies a slot
// of its own between real steps.
type Layout struct {
	Steps            []Step   `json:"steps"`
	ProductSelection Position `json:"productSelectionStepPosition"`
	Checkout         Position `json:"checkoutStepPosition"`
}

// SlotKind tells what a timeline slot renders.
type SlotKind int

const (
	SlotStep SlotKind = iota
	SlotProductSelection
	SlotCheckout
)

func (k SlotKind) String() string {
	switch k {
	case SlotProductSelection:
		return "product_selection"
	case SlotCheckout:
		return "checkout"
	}
	return "step"
}

// Slot is a resolved timeline entry. Step is only meaningful for SlotStep.
type Slot struct {
	Kind SlotKind
	Step int
}

// normalized pins the checkout marker to the last slot and keeps the
// product-selection marker in front of it.
func (l Layout) normalized() Layout {
	if l.Steps == nil {
		l.Steps = []Step{}
	}
	last := len(l.Steps)
	if l.ProductSelection.IsSet() {
		last++
		ps, _ := l.ProductSelection.Get()
		if ps > last-1 {
			l.ProductSelection = At(last - 1)
		}
	}
	l.Checkout = At(last)
	return l
}

// Len is the number of timeline slots, markers included.
func (l Layout) Len() int {
	n := len(l.Steps) + 1
	if l.ProductSelection.IsSet() {
		n++
	}
	return n
}

// CheckoutIndex is the timeline index of the checkout marker.
func (l Layout) CheckoutIndex() int {
	if c, ok := l.Checkout.Get(); ok {
		return c
	}
	return l.Len() - 1
}

// Slot resolves a timeline index.
func (l Layout) Slot(t int) (Slot, bool) {
	if t < 0 || t >= l.Len() {
		return Slot{}, false
	}
	if t == l.CheckoutIndex() {
		return Slot{Kind: SlotCheckout}, true
	}
	step := t
	if ps, ok := l.ProductSelection.Get(); ok {
		if t == ps {
			return Slot{Kind: SlotProductSelection}, true
		}
		if ps < t {
			step--
		}
	}
	if step < 0 || step >= len(l.Steps) {
		return Slot{}, false
	}
	return Slot{Kind: SlotStep, Step: step}, true
}

// StepSlot is the inverse of Slot for real steps.
func (l Layout) StepSlot(step int) int {
	t := step
	if ps, ok := l.ProductSelection.Get(); ok && ps <= step {
		t++
	}
	return t
}

// HasProductSelection reports whether a product-selection slot exists.
func (l Layout) HasProductSelection() bool { return l.ProductSelection.IsSet() }

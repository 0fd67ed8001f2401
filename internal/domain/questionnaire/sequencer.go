package questionnaire

import "sort"

// SequenceInput is everything the sequencer needs. At most one of
// ProgramOrder and Structure is honoured, ProgramOrder first.
type SequenceInput struct {
	Steps        []Step
	Structure    *GlobalFormStructure
	ProgramOrder ProgramFormStepOrder
	// Standardized are the category-standardized steps fetched by product
	// category.
	Standardized []Step
	// StandardizedFirst is the legacy "form variant 2" switch.
	StandardizedFirst bool
	// Program marks a program questionnaire. Programs always get a
	// product-selection slot.
	Program bool
}

// Sequence linearizes the input into a Layout. It is a pure function of its
// input.
func Sequence(in SequenceInput) Layout {
	normal, profile, other := partition(in.Steps)

	var l Layout
	switch {
	case len(normalizeProgramOrder(in.ProgramOrder)) > 0:
		l = sequenceProgram(normalizeProgramOrder(in.ProgramOrder), normal, profile, other)
	case len(enabledSections(in.Structure)) > 0:
		l = sequenceStructure(enabledSections(in.Structure), normal, profile, other, in.Standardized)
	default:
		l = sequenceDefault(normal, profile, other, in.Standardized, in.StandardizedFirst)
	}

	if !l.ProductSelection.IsSet() {
		switch c, ok := l.Checkout.Get(); {
		case ok:
			l.ProductSelection = At(c)
			l.Checkout = At(c + 1)
		case in.Program:
			l.ProductSelection = At(len(l.Steps))
		}
	}
	return l.normalized()
}

func partition(steps []Step) (normal, profile, other []Step) {
	for _, s := range steps {
		switch {
		case s.IsNormal():
			normal = append(normal, s)
		case s.IsUserProfile():
			profile = append(profile, s)
		default:
			other = append(other, s)
		}
	}
	byOrder(normal)
	byOrder(profile)
	byOrder(other)
	return normal, profile, other
}

func byOrder(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
}

// normalizeProgramOrder keeps known tokens once each, in declared order,
// with payment moved to the end.
func normalizeProgramOrder(order ProgramFormStepOrder) ProgramFormStepOrder {
	seen := make(map[ProgramStep]bool, 4)
	var out ProgramFormStepOrder
	hasPayment := false
	for _, tok := range order {
		switch tok {
		case ProgramStepProductSelection, ProgramStepMedical, ProgramStepAccount:
			if !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		case ProgramStepPayment:
			hasPayment = true
		}
	}
	if hasPayment {
		out = append(out, ProgramStepPayment)
	}
	return out
}

func sequenceProgram(order ProgramFormStepOrder, normal, profile, other []Step) Layout {
	var l Layout
	cursor := 0
	for _, tok := range order {
		switch tok {
		case ProgramStepMedical:
			l.Steps = append(l.Steps, normal...)
			cursor += len(normal)
		case ProgramStepAccount:
			l.Steps = append(l.Steps, profile...)
			cursor += len(profile)
		case ProgramStepProductSelection:
			l.ProductSelection = At(cursor)
			cursor++
		case ProgramStepPayment:
			l.Checkout = At(cursor)
		}
	}
	l.Steps = append(l.Steps, other...)
	return l
}

func enabledSections(gs *GlobalFormStructure) []Section {
	if gs == nil {
		return nil
	}
	var out []Section
	for _, s := range gs.Sections {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func sequenceStructure(sections []Section, normal, profile, other, standardized []Step) Layout {
	var l Layout
	cursor := 0
	for _, sec := range sections {
		switch sec.Type {
		case SectionProductQuestions:
			l.Steps = append(l.Steps, normal...)
			cursor += len(normal)
		case SectionCategoryQuestions:
			l.Steps = append(l.Steps, standardized...)
			cursor += len(standardized)
		case SectionAccountCreation:
			l.Steps = append(l.Steps, profile...)
			cursor += len(profile)
		case SectionProductSelection:
			if !l.ProductSelection.IsSet() {
				l.ProductSelection = At(cursor)
				cursor++
			}
		case SectionCheckout:
			if !l.Checkout.IsSet() {
				l.Checkout = At(cursor)
			}
		}
	}
	l.Steps = append(l.Steps, other...)
	return l
}

func sequenceDefault(normal, profile, other, standardized []Step, standardizedFirst bool) Layout {
	var steps []Step
	if standardizedFirst {
		steps = append(steps, standardized...)
	}
	steps = append(steps, normal...)
	steps = append(steps, profile...)
	if !standardizedFirst {
		steps = append(steps, standardized...)
	}
	steps = append(steps, other...)
	return Layout{Steps: steps}
}

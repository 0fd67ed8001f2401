package questionnaire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(id string, order int, cat Category) Step {
	return Step{ID: id, Title: id, StepOrder: order, Category: cat}
}

func ids(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.ID
	}
	return out
}

func rawSteps() []Step {
	return []Step{
		step("a1", 1, CategoryUserProfile),
		step("n2", 2, CategoryNormal),
		step("d1", 1, CategoryDoctor),
		step("n1", 1, ""),
	}
}

func TestSequence_Default(t *testing.T) {
	l := Sequence(SequenceInput{
		Steps:        rawSteps(),
		Standardized: []Step{step("s1", 1, CategoryNormal)},
	})
	assert.Equal(t, []string{"n1", "n2", "a1", "s1", "d1"}, ids(l.Steps))
	assert.False(t, l.ProductSelection.IsSet())
	assert.True(t, l.Checkout.Is(5))
	assert.Equal(t, 6, l.Len())
}

func TestSequence_DefaultStandardizedFirst(t *testing.T) {
	l := Sequence(SequenceInput{
		Steps:             rawSteps(),
		Standardized:      []Step{step("s1", 1, CategoryNormal)},
		StandardizedFirst: true,
	})
	assert.Equal(t, []string{"s1", "n1", "n2", "a1", "d1"}, ids(l.Steps))
}

func TestSequence_ProgramOrder(t *testing.T) {
	l := Sequence(SequenceInput{
		Steps: []Step{step("n1", 1, CategoryNormal), step("n2", 2, CategoryNormal), step("a1", 1, CategoryUserProfile)},
		ProgramOrder: ProgramFormStepOrder{
			ProgramStepMedical, ProgramStepProductSelection, ProgramStepAccount, ProgramStepPayment,
		},
	})
	assert.Equal(t, []string{"n1", "n2", "a1"}, ids(l.Steps))
	assert.True(t, l.ProductSelection.Is(2))
	assert.True(t, l.Checkout.Is(4))
}

func TestSequence_ProgramOrderPaymentForcedLast(t *testing.T) {
	l := Sequence(SequenceInput{
		Steps: []Step{step("n1", 1, CategoryNormal), step("n2", 2, CategoryNormal), step("a1", 1, CategoryUserProfile)},
		ProgramOrder: ProgramFormStepOrder{
			ProgramStepPayment, ProgramStepAccount, ProgramStepMedical, ProgramStepProductSelection,
		},
	})
	assert.Equal(t, []string{"a1", "n1", "n2"}, ids(l.Steps))
	assert.True(t, l.ProductSelection.Is(3))
	assert.True(t, l.Checkout.Is(4))
}

func TestSequence_ProgramOrderDeduplicatesAndDropsUnknown(t *testing.T) {
	l := Sequence(SequenceInput{
		Steps: []Step{step("n1", 1, CategoryNormal), step("a1", 1, CategoryUserProfile)},
		ProgramOrder: ProgramFormStepOrder{
			ProgramStepMedical, "shipping", ProgramStepMedical, ProgramStepAccount, ProgramStepPayment, ProgramStepPayment,
		},
	})
	assert.Equal(t, []string{"n1", "a1"}, ids(l.Steps))
}

func permutations(in []ProgramStep) [][]ProgramStep {
	if len(in) <= 1 {
		return [][]ProgramStep{append([]ProgramStep(nil), in...)}
	}
	var out [][]ProgramStep
	for i := range in {
		rest := make([]ProgramStep, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]ProgramStep{in[i]}, p...))
		}
	}
	return out
}

func TestSequence_CheckoutAlwaysLastForEveryProgramOrder(t *testing.T) {
	all := []ProgramStep{ProgramStepProductSelection, ProgramStepMedical, ProgramStepAccount, ProgramStepPayment}
	steps := []Step{
		step("n1", 1, CategoryNormal), step("n2", 2, CategoryNormal),
		step("a1", 1, CategoryUserProfile), step("d1", 1, CategoryDoctor),
	}
	perms := permutations(all)
	require.Len(t, perms, 24)
	for _, p := range perms {
		l := Sequence(SequenceInput{Steps: steps, ProgramOrder: ProgramFormStepOrder(p)})
		assert.True(t, l.Checkout.Is(l.Len()-1), "order %v", p)
		assert.True(t, l.ProductSelection.IsSet(), "order %v", p)
		ps, _ := l.ProductSelection.Get()
		assert.Less(t, ps, l.CheckoutIndex(), "order %v", p)
	}
}

func TestSequence_Deterministic(t *testing.T) {
	in := SequenceInput{
		Steps: rawSteps(),
		Structure: &GlobalFormStructure{Sections: []Section{
			{Type: SectionAccountCreation, Order: 2, Enabled: true},
			{Type: SectionProductQuestions, Order: 1, Enabled: true},
			{Type: SectionCheckout, Order: 3, Enabled: true},
		}},
	}
	first := Sequence(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Sequence(in))
	}
}

func TestSequence_Structure(t *testing.T) {
	l := Sequence(SequenceInput{
		Steps:        []Step{step("n1", 1, CategoryNormal), step("a1", 1, CategoryUserProfile)},
		Standardized: []Step{step("c1", 1, CategoryNormal), step("c2", 2, CategoryNormal)},
		Structure: &GlobalFormStructure{Sections: []Section{
			{Type: SectionCheckout, Order: 5, Enabled: true},
			{Type: SectionProductQuestions, Order: 1, Enabled: true},
			{Type: SectionCategoryQuestions, Order: 2, Enabled: true},
			{Type: SectionAccountCreation, Order: 3, Enabled: false},
			{Type: SectionProductSelection, Order: 4, Enabled: true},
		}},
	})
	assert.Equal(t, []string{"n1", "c1", "c2"}, ids(l.Steps))
	assert.True(t, l.ProductSelection.Is(3))
	assert.True(t, l.Checkout.Is(4))
}

func TestSequence_StructureWithoutEnabledSectionsFallsBack(t *testing.T) {
	l := Sequence(SequenceInput{
		Steps: rawSteps(),
		Structure: &GlobalFormStructure{Sections: []Section{
			{Type: SectionCheckout, Order: 1, Enabled: false},
		}},
	})
	assert.Equal(t, []string{"n1", "n2", "a1", "d1"}, ids(l.Steps))
}

func TestSequence_ProductSelectionFallback(t *testing.T) {
	l := Sequence(SequenceInput{
		Steps: []Step{step("n1", 1, CategoryNormal), step("a1", 1, CategoryUserProfile)},
		Structure: &GlobalFormStructure{Sections: []Section{
			{Type: SectionProductQuestions, Order: 1, Enabled: true},
			{Type: SectionAccountCreation, Order: 2, Enabled: true},
			{Type: SectionCheckout, Order: 3, Enabled: true},
		}},
	})
	assert.Equal(t, []string{"n1", "a1"}, ids(l.Steps))
	assert.True(t, l.ProductSelection.Is(2))
	assert.True(t, l.Checkout.Is(3))
}

func TestSequence_ProgramWithoutOrderGetsProductSelection(t *testing.T) {
	in := SequenceInput{Steps: rawSteps(), Program: true}
	l := Sequence(in)
	assert.Equal(t, []string{"n1", "n2", "a1", "d1"}, ids(l.Steps))
	assert.True(t, l.ProductSelection.Is(4))
	assert.True(t, l.Checkout.Is(5))

	slot, ok := l.Slot(4)
	require.True(t, ok)
	assert.Equal(t, SlotProductSelection, slot.Kind)

	in.Program = false
	assert.False(t, Sequence(in).ProductSelection.IsSet())
}

func TestSequence_OtherStepsStayBeforeCheckout(t *testing.T) {
	l := Sequence(SequenceInput{
		Steps:        []Step{step("n1", 1, CategoryNormal), step("d1", 1, CategoryDoctor)},
		ProgramOrder: ProgramFormStepOrder{ProgramStepMedical, ProgramStepPayment},
	})
	assert.Equal(t, []string{"n1", "d1"}, ids(l.Steps))
	assert.True(t, l.ProductSelection.Is(1))
	assert.True(t, l.Checkout.Is(3))

	slot, ok := l.Slot(2)
	require.True(t, ok)
	assert.Equal(t, Slot{Kind: SlotStep, Step: 1}, slot)
}

func TestSequence_DoesNotMutateInput(t *testing.T) {
	in := rawSteps()
	before := ids(in)
	Sequence(SequenceInput{Steps: in})
	assert.Equal(t, before, ids(in))
}

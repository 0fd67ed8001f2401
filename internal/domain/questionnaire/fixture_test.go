package questionnaire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlFixture = `
steps:
  - id: n1
    title: About {{productName}}
    stepOrder: 1
    category: normal
    questions:
      - id: q1
        questionText: Any allergies?
        answerType: text
        isRequired: true
  - id: a1
    title: Create Your Account
    stepOrder: 1
    category: user_profile
    questions: []
programFormStepOrder: [account, payment, medical, productSelection]
variables:
  productName: Tirzepatide
`

func TestDecodeFixture_YAML(t *testing.T) {
	f, err := DecodeFixture([]byte(yamlFixture))
	require.NoError(t, err)
	require.Len(t, f.Steps, 2)
	assert.True(t, f.Steps[0].Questions[0].IsRequired)
	assert.True(t, f.Steps[1].IsAccountStep())

	l := Substitute(Sequence(f.Input()), f.Variables)
	assert.Equal(t, []string{"a1", "n1"}, ids(l.Steps))
	assert.Equal(t, "About Tirzepatide", l.Steps[1].Title)
	assert.True(t, l.Checkout.Is(3))
}

func TestDecodeFixture_JSON(t *testing.T) {
	f, err := DecodeFixture([]byte(`{"steps":[{"id":"n1","title":"x","stepOrder":1,"questions":[]}]}`))
	require.NoError(t, err)
	assert.Len(t, f.Steps, 1)
}

func TestDecodeFixture_Invalid(t *testing.T) {
	_, err := DecodeFixture([]byte("steps: [unterminated"))
	assert.Error(t, err)
}

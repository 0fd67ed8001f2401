package questionnaire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition_SingleTerm(t *testing.T) {
	c := ParseCondition("answer_equals:q1:yes")
	require.NotNil(t, c.Expr())
	assert.Equal(t, Equals{QuestionID: "q1", Value: "yes"}, c.Expr())

	assert.True(t, c.Holds(Answers{"q1": Text("yes")}))
	assert.False(t, c.Holds(Answers{"q1": Text("no")}))
	assert.False(t, c.Holds(Answers{}))
}

func TestParseCondition_Empty(t *testing.T) {
	for _, logic := range []string{"", "   ", "AND OR", "not_a_term"} {
		c := ParseCondition(logic)
		assert.Nil(t, c.Expr(), logic)
		assert.True(t, c.Holds(nil), logic)
	}
}

func TestParseCondition_And(t *testing.T) {
	c := ParseCondition("answer_equals:q1:yes AND answer_equals:q2:no")
	assert.True(t, c.Holds(Answers{"q1": Text("yes"), "q2": Text("no")}))
	assert.False(t, c.Holds(Answers{"q1": Text("yes"), "q2": Text("yes")}))
}

func TestParseCondition_Or(t *testing.T) {
	c := ParseCondition("answer_equals:q1:yes OR answer_equals:q2:no")
	assert.True(t, c.Holds(Answers{"q1": Text("no"), "q2": Text("no")}))
	assert.False(t, c.Holds(Answers{"q1": Text("no"), "q2": Text("yes")}))
}

func TestParseCondition_OperatorsAreCaseSensitive(t *testing.T) {
	// "and" is not an operator, so the second term replaces the first.
	c := ParseCondition("answer_equals:q1:yes and answer_equals:q2:no")
	assert.Equal(t, Equals{QuestionID: "q2", Value: "no"}, c.Expr())
	assert.True(t, c.Holds(Answers{"q1": Text("no"), "q2": Text("no")}))
}

func TestParseCondition_LeftFoldWithoutPrecedence(t *testing.T) {
	c := ParseCondition("answer_equals:q1:yes OR answer_equals:q2:yes AND answer_equals:q3:yes")
	answers := Answers{"q1": Text("yes"), "q2": Text("no"), "q3": Text("no")}

	// (q1 OR q2) AND q3, not q1 OR (q2 AND q3).
	assert.False(t, c.Holds(answers))
	assert.Equal(t, And{
		Left:  Or{Left: Equals{"q1", "yes"}, Right: Equals{"q2", "yes"}},
		Right: Equals{"q3", "yes"},
	}, c.Expr())
}

func TestParseCondition_ArrayMembership(t *testing.T) {
	c := ParseCondition("answer_equals:symptoms:headache")
	assert.True(t, c.Holds(Answers{"symptoms": Choices("nausea", "headache")}))
	assert.False(t, c.Holds(Answers{"symptoms": Choices("nausea")}))
	assert.False(t, c.Holds(Answers{"symptoms": Choices()}))
}

func TestParseCondition_MalformedTermsSkipped(t *testing.T) {
	c := ParseCondition("answer_equals:q1 AND answer_equals:q2:no")
	assert.Equal(t, Equals{QuestionID: "q2", Value: "no"}, c.Expr())
	assert.True(t, c.Holds(Answers{"q2": Text("no")}))
}

func TestParseCondition_ValueWithColon(t *testing.T) {
	c := ParseCondition("answer_equals:time:10:30")
	assert.True(t, c.Holds(Answers{"time": Text("10:30")}))
}

func TestParseCondition_TermWithoutOperatorReplaces(t *testing.T) {
	c := ParseCondition("answer_equals:q1:yes answer_equals:q2:yes")
	assert.True(t, c.Holds(Answers{"q1": Text("no"), "q2": Text("yes")}))
}

func TestCondition_String(t *testing.T) {
	logic := "answer_equals:q1:yes AND answer_equals:q2:no OR answer_equals:q3:x"
	assert.Equal(t, logic, ParseCondition(logic).String())
}

type panicExpr struct{}

func (panicExpr) Eval(Answers) bool { panic("boom") }
func (panicExpr) String() string    { return "panic" }

func TestCondition_FailsOpen(t *testing.T) {
	c := Condition{expr: panicExpr{}}
	assert.True(t, c.Holds(Answers{}))
}

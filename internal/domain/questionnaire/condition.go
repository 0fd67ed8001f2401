package questionnaire

import (
	"fmt"
	"strings"
)

const equalsPrefix = "answer_equals:"

// Expr is a parsed conditional-logic expression.
type Expr interface {
	Eval(answers Answers) bool
	String() string
}

// Equals holds when the answer to QuestionID matches Value.
type Equals struct {
	QuestionID string
	Value      string
}

func (e Equals) Eval(answers Answers) bool {
	a, ok := answers[e.QuestionID]
	if !ok {
		return false
	}
	return a.Matches(e.Value)
}

func (e Equals) String() string { return equalsPrefix + e.QuestionID + ":" + e.Value }

// And holds when both sides hold.
type And struct{ Left, Right Expr }

func (e And) Eval(answers Answers) bool { return e.Left.Eval(answers) && e.Right.Eval(answers) }

func (e And) String() string { return fmt.Sprintf("%s AND %s", e.Left, e.Right) }

// Or holds when either side holds.
type Or struct{ Left, Right Expr }

func (e Or) Eval(answers Answers) bool { return e.Left.Eval(answers) || e.Right.Eval(answers) }

func (e Or) String() string { return fmt.Sprintf("%s OR %s", e.Left, e.Right) }

// Condition is conditional logic parsed once at load time. The zero value
// always holds.
type Condition struct {
	expr Expr
}

// ParseCondition parses "answer_equals:<id>:<value>" terms joined by upper
// case AND/OR.
// There is no precedence: terms fold strictly left to right, so
// "a OR b AND c" means "(a OR b) AND c". Malformed terms are skipped. A term
// that follows another without an operator replaces the running result.
func ParseCondition(logic string) Condition {
	var (
		result  Expr
		pending string
	)
	for _, tok := range strings.Fields(logic) {
		switch tok {
		case "AND", "OR":
			pending = tok
			continue
		}
		leaf, ok := parseEquals(tok)
		if !ok {
			continue
		}
		switch {
		case result == nil:
			result = leaf
		case pending == "AND":
			result = And{Left: result, Right: leaf}
		case pending == "OR":
			result = Or{Left: result, Right: leaf}
		default:
			result = leaf
		}
		pending = ""
	}
	return Condition{expr: result}
}

func parseEquals(tok string) (Equals, bool) {
	if !strings.HasPrefix(tok, equalsPrefix) {
		return Equals{}, false
	}
	parts := strings.SplitN(strings.TrimPrefix(tok, equalsPrefix), ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return Equals{}, false
	}
	return Equals{QuestionID: parts[0], Value: parts[1]}, true
}

// Expr returns the parsed tree, nil when the logic was empty or held no
// usable term.
func (c Condition) Expr() Expr { return c.expr }

// Holds evaluates the condition. Empty conditions hold, and any failure
// during evaluation fails open.
func (c Condition) Holds(answers Answers) (ok bool) {
	if c.expr == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			ok = true
		}
	}()
	return c.expr.Eval(answers)
}

func (c Condition) String() string {
	if c.expr == nil {
		return ""
	}
	return c.expr.String()
}

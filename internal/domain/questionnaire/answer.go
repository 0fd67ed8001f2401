package questionnaire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Answer is either a single text value or a list of selected values.
type Answer struct {
	text    string
	choices []string
	multi   bool
}

// Text returns a single-valued answer.
func Text(s string) Answer { return Answer{text: s} }

// Choices returns a multi-valued answer.
func Choices(values ...string) Answer {
	return Answer{choices: append([]string(nil), values...), multi: true}
}

// IsMulti reports whether the answer holds a list.
func (a Answer) IsMulti() bool { return a.multi }

// String returns the text value, or the choices joined by ", ".
func (a Answer) String() string {
	if a.multi {
		return strings.Join(a.choices, ", ")
	}
	return a.text
}

// Values returns the choices, or the text value as a one-element list.
func (a Answer) Values() []string {
	if a.multi {
		return append([]string(nil), a.choices...)
	}
	if a.text == "" {
		return nil
	}
	return []string{a.text}
}

// IsEmpty reports whether the answer carries nothing a patient typed or picked.
func (a Answer) IsEmpty() bool {
	if a.multi {
		return len(a.choices) == 0
	}
	return strings.TrimSpace(a.text) == ""
}

// Matches applies answer_equals semantics: membership for lists, equality
// for text.
func (a Answer) Matches(value string) bool {
	if a.multi {
		for _, c := range a.choices {
			if c == value {
				return true
			}
		}
		return false
	}
	return a.text == value
}

// Equal reports whether two answers hold the same value.
func (a Answer) Equal(b Answer) bool {
	if a.multi != b.multi {
		return false
	}
	if !a.multi {
		return a.text == b.text
	}
	if len(a.choices) != len(b.choices) {
		return false
	}
	for i := range a.choices {
		if a.choices[i] != b.choices[i] {
			return false
		}
	}
	return true
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.multi {
		if a.choices == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.choices)
	}
	return json.Marshal(a.text)
}

// UnmarshalJSON accepts strings, arrays of scalars, numbers and booleans.
// Scalars other than strings are kept in their JSON text form.
func (a *Answer) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*a = Answer{}
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Text(s)
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		values := make([]string, 0, len(raw))
		for _, r := range raw {
			v, err := scalarString(r)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		*a = Choices(values...)
	default:
		v, err := scalarString(b)
		if err != nil {
			return err
		}
		*a = Text(v)
	}
	return nil
}

func scalarString(b json.RawMessage) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		err := json.Unmarshal(b, &s)
		return s, err
	}
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("unsupported answer value %s", string(b))
}

// Answers maps question ids to answers.
type Answers map[string]Answer

// Clone returns a shallow copy; Answer values are immutable.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Text returns the trimmed string form of an answer, or "" when missing.
func (a Answers) Text(id string) string {
	v, ok := a[id]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.String())
}

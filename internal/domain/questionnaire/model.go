// Package questionnaire holds the intake form model as served by the clinic
// backend, and the pure functions that turn a raw set of steps into the single
// ordered wizard a patient walks through.
package questionnaire

import (
	"encoding/json"
	"strings"
)

// Category tags what a step contains and how it is filtered.
type Category string

const (
	CategoryNormal      Category = "normal"
	CategoryUserProfile Category = "user_profile"
	CategoryDoctor      Category = "doctor"
)

// AccountStepTitle is the title of the dedicated account-creation step.
const AccountStepTitle = "Create Your Account"

// Option is a selectable answer for choice questions.
type Option struct {
	ID          string `json:"id,omitempty"`
	OptionText  string `json:"optionText"`
	OptionValue string `json:"optionValue"`
	OptionOrder int    `json:"optionOrder,omitempty"`
	RiskLevel   string `json:"riskLevel,omitempty"`
}

// Question is a single input within a step.
type Question struct {
	ID               string   `json:"id"`
	QuestionText     string   `json:"questionText"`
	AnswerType       string   `json:"answerType"`
	IsRequired       bool     `json:"isRequired"`
	Placeholder      string   `json:"placeholder,omitempty"`
	QuestionOrder    int      `json:"questionOrder,omitempty"`
	Options          []Option `json:"options,omitempty"`
	ConditionalLogic string   `json:"conditionalLogic,omitempty"`
	ConditionalLevel int      `json:"conditionalLevel,omitempty"`
}

// Step is one page of the questionnaire. Steps are immutable once loaded:
// sequencing reorders them but never edits them.
type Step struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	StepOrder        int        `json:"stepOrder"`
	Category         Category   `json:"category,omitempty"`
	ConditionalLogic string     `json:"conditionalLogic,omitempty"`
	Required         bool       `json:"required,omitempty"`
	Questions        []Question `json:"questions"`
}

// IsUserProfile reports whether the step collects account fields.
func (s Step) IsUserProfile() bool { return s.Category == CategoryUserProfile }

// IsNormal reports whether the step belongs to the medical bucket. An unset
// category counts as normal.
func (s Step) IsNormal() bool { return s.Category == "" || s.Category == CategoryNormal }

// IsAccountStep reports whether this is the dedicated account-creation step.
func (s Step) IsAccountStep() bool { return strings.TrimSpace(s.Title) == AccountStepTitle }

// SectionType names one section of a GlobalFormStructure.
type SectionType string

const (
	SectionProductQuestions  SectionType = "product_questions"
	SectionCategoryQuestions SectionType = "category_questions"
	SectionAccountCreation   SectionType = "account_creation"
	SectionProductSelection  SectionType = "product_selection"
	SectionCheckout          SectionType = "checkout"
)

// Section is one entry of a GlobalFormStructure.
type Section struct {
	Type    SectionType `json:"type"`
	Order   int         `json:"order"`
	Enabled bool        `json:"enabled"`
}

// GlobalFormStructure controls how sections are interleaved.
type GlobalFormStructure struct {
	ID       string    `json:"id,omitempty"`
	Name     string    `json:"name,omitempty"`
	Sections []Section `json:"sections"`
}

// ProgramStep is a token of a program form step order.
type ProgramStep string

const (
	ProgramStepProductSelection ProgramStep = "productSelection"
	ProgramStepMedical          ProgramStep = "medical"
	ProgramStepAccount          ProgramStep = "account"
	ProgramStepPayment          ProgramStep = "payment"
)

// ProgramFormStepOrder is the simpler ordering input used by programs.
type ProgramFormStepOrder []ProgramStep

// Position is an optional index into the layout timeline.
// The zero value is unset.
type Position struct {
	index int
	set   bool
}

// At returns a set position.
func At(i int) Position { return Position{index: i, set: true} }

// Get returns the index and whether the position is set.
func (p Position) Get() (int, bool) { return p.index, p.set }

// IsSet reports whether the position has a value.
func (p Position) IsSet() bool { return p.set }

// Is reports whether the position is set and equal to i.
func (p Position) Is(i int) bool { return p.set && p.index == i }

// MarshalJSON renders unset positions as -1, the backend convention.
func (p Position) MarshalJSON() ([]byte, error) {
	if !p.set {
		return []byte("-1"), nil
	}
	return json.Marshal(p.index)
}

// UnmarshalJSON treats any negative number or null as unset.
func (p *Position) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = Position{}
		return nil
	}
	var i int
	if err := json.Unmarshal(b, &i); err != nil {
		return err
	}
	if i < 0 {
		*p = Position{}
		return nil
	}
	*p = At(i)
	return nil
}

package questionnaire

// Visibility holds the conditional logic of a layout, parsed once.
type Visibility struct {
	steps     []Condition
	questions [][]Condition
	profile   []bool
}

// Compile parses every step and question condition of the layout.
func Compile(l Layout) *Visibility {
	v := &Visibility{
		steps:     make([]Condition, len(l.Steps)),
		questions: make([][]Condition, len(l.Steps)),
		profile:   make([]bool, len(l.Steps)),
	}
	for i, s := range l.Steps {
		v.steps[i] = ParseCondition(s.ConditionalLogic)
		v.profile[i] = s.IsUserProfile()
		qs := make([]Condition, len(s.Questions))
		for j, q := range s.Questions {
			qs[j] = ParseCondition(q.ConditionalLogic)
		}
		v.questions[i] = qs
	}
	return v
}

// StepVisible reports whether step i is shown. Once the patient is signed
// in, user_profile steps are skipped whatever their position.
func (v *Visibility) StepVisible(i int, answers Answers, signedIn bool) bool {
	if i < 0 || i >= len(v.steps) {
		return false
	}
	if signedIn && v.profile[i] {
		return false
	}
	return v.steps[i].Holds(answers)
}

// QuestionVisible reports whether question j of step i is shown.
func (v *Visibility) QuestionVisible(i, j int, answers Answers) bool {
	if i < 0 || i >= len(v.questions) || j < 0 || j >= len(v.questions[i]) {
		return false
	}
	return v.questions[i][j].Holds(answers)
}

package questionnaire

import (
	"sort"
	"strings"
)

// Variables are the clinic-level values interpolated into step text, keyed
// by placeholder name ("clinicName", "productName", ...).
type Variables map[string]string

func (v Variables) replacer() *strings.Replacer {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	// Longest names first so "product" never shadows "productName".
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, len(keys)*4)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", v[k], "{{ "+k+" }}", v[k])
	}
	return strings.NewReplacer(pairs...)
}

// Substitute returns a copy of the layout with every title, description,
// question text, placeholder and option text interpolated. Order and
// positions are untouched.
func Substitute(l Layout, vars Variables) Layout {
	if len(vars) == 0 {
		return l
	}
	r := vars.replacer()
	out := Layout{
		Steps:            make([]Step, len(l.Steps)),
		ProductSelection: l.ProductSelection,
		Checkout:         l.Checkout,
	}
	for i, s := range l.Steps {
		s.Title = r.Replace(s.Title)
		s.Description = r.Replace(s.Description)
		qs := make([]Question, len(s.Questions))
		for j, q := range s.Questions {
			q.QuestionText = r.Replace(q.QuestionText)
			q.Placeholder = r.Replace(q.Placeholder)
			if q.Options != nil {
				opts := make([]Option, len(q.Options))
				for k, o := range q.Options {
					o.OptionText = r.Replace(o.OptionText)
					opts[k] = o
				}
				q.Options = opts
			}
			qs[j] = q
		}
		s.Questions = qs
		out.Steps[i] = s
	}
	return out
}

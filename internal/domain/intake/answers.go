package intake

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/telecare/intake/internal/domain/questionnaire"
)

// Answer keys read and written by the BMI derivation.
const (
	KeyWeight          = "weight"
	KeyHeightFeet      = "heightFeet"
	KeyHeightInches    = "heightInches"
	KeyBMI             = "bmi"
	KeyBMICategory     = "bmiCategory"
	KeyHeightAndWeight = "heightAndWeight"
)

var derivedKeys = []string{KeyBMI, KeyBMICategory, KeyHeightAndWeight}

func isDerived(k string) bool {
	for _, d := range derivedKeys {
		if k == d {
			return true
		}
	}
	return false
}

// MergeAnswers returns current with updates applied. The derived BMI keys are
// recomputed in the same pass so they never trail their inputs, and are
// dropped whenever the inputs are incomplete. Callers cannot set them.
func MergeAnswers(current, updates questionnaire.Answers) questionnaire.Answers {
	out := current.Clone()
	if out == nil {
		out = questionnaire.Answers{}
	}
	for k, v := range updates {
		if isDerived(k) {
			continue
		}
		out[k] = v
	}
	deriveBMI(out)
	return out
}

func deriveBMI(a questionnaire.Answers) {
	for _, k := range derivedKeys {
		delete(a, k)
	}
	weight, ok1 := number(a.Text(KeyWeight))
	feet, ok2 := number(a.Text(KeyHeightFeet))
	inches, ok3 := number(a.Text(KeyHeightInches))
	if !ok1 || !ok2 || !ok3 {
		return
	}
	bmi, ok := BMI(weight, feet, inches)
	if !ok {
		return
	}
	a[KeyBMI] = questionnaire.Text(strconv.FormatFloat(bmi, 'f', 1, 64))
	a[KeyBMICategory] = questionnaire.Text(BMICategory(bmi))
	a[KeyHeightAndWeight] = questionnaire.Text(fmt.Sprintf(`%s'%s", %s lbs`,
		formatNumber(feet), formatNumber(inches), formatNumber(weight)))
}

func number(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

func formatNumber(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// BMI computes the imperial body mass index, rounded to one decimal.
func BMI(weightLbs, feet, inches float64) (float64, bool) {
	h := feet*12 + inches
	if h <= 0 || weightLbs <= 0 {
		return 0, false
	}
	bmi := 703 * weightLbs / (h * h)
	return math.Round(bmi*10) / 10, true
}

// BMICategory buckets a BMI value.
func BMICategory(bmi float64) string {
	switch {
	case bmi < 18.5:
		return "Underweight"
	case bmi < 25:
		return "Normal"
	case bmi < 30:
		return "Overweight"
	}
	return "Obese"
}

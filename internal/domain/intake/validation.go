package intake

import (
	"regexp"
	"strings"

	"github.com/telecare/intake/internal/domain/questionnaire"
)

var poBoxRe = regexp.MustCompile(`(?i)\b(?:p\.?o\.?\s*box|post office box)\b`)

// IsPOBox reports whether an address line names a P.O. box.
func IsPOBox(line string) bool { return poBoxRe.MatchString(line) }

// ValidateShipping checks the required address fields and rejects P.O. boxes.
func ValidateShipping(s ShippingInfo) *ValidationError {
	fields := map[string]string{}
	required := []struct{ key, val string }{
		{"address", s.Address},
		{"city", s.City},
		{"state", s.State},
		{"zipCode", s.ZipCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			fields[r.key] = "required"
		}
	}
	if IsPOBox(s.Address + " " + s.Apartment) {
		fields["address"] = "we cannot ship to P.O. boxes"
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// validateStep checks one ordinary step against the answers. Hidden questions
// are never required.
func validateStep(vis *questionnaire.Visibility, idx int, step questionnaire.Step, s State) *ValidationError {
	fields := map[string]string{}
	if step.IsAccountStep() {
		acct := s.Account()
		if acct.FirstName == "" {
			fields[KeyFirstName] = "required"
		}
		if acct.LastName == "" {
			fields[KeyLastName] = "required"
		}
		if acct.Email == "" {
			fields[KeyEmail] = "required"
		} else if !strings.Contains(acct.Email, "@") {
			fields[KeyEmail] = "invalid email address"
		}
		if acct.Phone == "" {
			fields[KeyMobile] = "required"
		}
	} else {
		for j, q := range step.Questions {
			if !q.IsRequired || !vis.QuestionVisible(idx, j, s.Answers) {
				continue
			}
			if a, ok := s.Answers[q.ID]; !ok || a.IsEmpty() {
				fields[q.ID] = "required"
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

func validateProducts(s State, programMode bool) *ValidationError {
	if len(s.ProductIDs(programMode)) > 0 {
		return nil
	}
	return invalid("products", "select at least one product")
}

// validateCheckout gates leaving the checkout step. Programs are never
// checked out without a product.
func validateCheckout(s State, programMode bool) *ValidationError {
	if programMode {
		if err := validateProducts(s, true); err != nil {
			return err
		}
	}
	if err := ValidateShipping(s.Shipping); err != nil {
		return err
	}
	if !s.Payment.Captured() {
		return invalid("payment", "payment has not been completed")
	}
	return nil
}

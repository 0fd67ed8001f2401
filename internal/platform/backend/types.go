package backend

import "github.com/telecare/intake/internal/domain/questionnaire"

// MedicalCompanySource selects the external medical-case integration a
// questionnaire checks out through.
type MedicalCompanySource string

const (
	MedicalCompanyNone           MedicalCompanySource = "none"
	MedicalCompanyMDIntegrations MedicalCompanySource = "md_integrations"
	MedicalCompanyBeluga         MedicalCompanySource = "beluga"
)

// Clinic is the tenant-facing clinic a questionnaire belongs to.
type Clinic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// Product is the treatment a non-program questionnaire sells.
type Product struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	PlanID       string  `json:"planId,omitempty"`
	DisplayPrice float64 `json:"displayPrice,omitempty"`
}

// ProgramProduct is one selectable product of a program.
type ProgramProduct struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	DisplayPrice          float64 `json:"displayPrice"`
	NonMedicalServicesFee float64 `json:"nonMedicalServicesFee,omitempty"`
}

// Program is a bundle of products sold through one intake with dynamic
// pricing.
type Program struct {
	ID                    string                             `json:"id"`
	Name                  string                             `json:"name"`
	NonMedicalServicesFee float64                            `json:"nonMedicalServicesFee"`
	PerProductPricing     bool                               `json:"hasPerProductPricing"`
	Products              []ProgramProduct                   `json:"products"`
	FormStepOrder         questionnaire.ProgramFormStepOrder `json:"formStepOrder,omitempty"`
}

// Questionnaire is the questionnaire-or-program payload.
type Questionnaire struct {
	ID                   string                             `json:"id"`
	Title                string                             `json:"title"`
	Steps                []questionnaire.Step               `json:"steps"`
	FormStructure        *questionnaire.GlobalFormStructure `json:"formStructure,omitempty"`
	ProductCategory      string                             `json:"productCategory,omitempty"`
	FormVariant          string                             `json:"formVariant,omitempty"`
	MedicalCompanySource MedicalCompanySource               `json:"medicalCompanySource,omitempty"`
	RequiresPhotoUpload  bool                               `json:"requiresPhotoUpload,omitempty"`
	Variables            questionnaire.Variables            `json:"variables,omitempty"`
	Clinic               *Clinic                            `json:"clinic,omitempty"`
	Product              *Product                           `json:"product,omitempty"`
	Program              *Program                           `json:"program,omitempty"`
}

// HasUserProfileSteps reports whether the questionnaire carries its own
// account steps.
func (q *Questionnaire) HasUserProfileSteps() bool {
	for _, s := range q.Steps {
		if s.IsUserProfile() {
			return true
		}
	}
	return false
}

// Address is a shipping address as the backend accepts it.
type Address struct {
	Address   string `json:"address"`
	Apartment string `json:"apartment,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country,omitempty"`
}

type SignupRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phoneNumber"`
	Password  string `json:"password,omitempty"`
	ClinicID  string `json:"clinicId,omitempty"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type OAuthRequest struct {
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

// Account is the result of sign-up and sign-in.
type Account struct {
	UserID    string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Token     string `json:"token,omitempty"`
}

type PlanSubscriptionRequest struct {
	QuestionnaireID string            `json:"questionnaireId"`
	ProductID       string            `json:"productId,omitempty"`
	PlanID          string            `json:"planId,omitempty"`
	Quantities      map[string]int    `json:"quantities,omitempty"`
	UserID          string            `json:"userId"`
	Shipping        Address           `json:"shippingInfo"`
	Answers         map[string]string `json:"questionnaireAnswers,omitempty"`
}

type ProgramSubscriptionRequest struct {
	ProgramID             string            `json:"programId"`
	QuestionnaireID       string            `json:"questionnaireId"`
	ProductIDs            []string          `json:"productIds"`
	UserID                string            `json:"userId"`
	ProductsTotal         float64           `json:"productsTotal"`
	NonMedicalServicesFee float64           `json:"nonMedicalServicesFee"`
	VisitFee              float64           `json:"visitFee"`
	TotalAmount           float64           `json:"totalAmount"`
	Shipping              Address           `json:"shippingInfo"`
	Answers               map[string]string `json:"questionnaireAnswers,omitempty"`
}

// Intent is a created subscription/payment intent.
type Intent struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	OrderID         string `json:"orderId,omitempty"`
	SubscriptionID  string `json:"subscriptionId,omitempty"`
}

type CheckoutSequenceRequest struct {
	OrderID         string `json:"orderId,omitempty"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	UserID          string `json:"userId"`
	QuestionnaireID string `json:"questionnaireId"`
}

type ConversionRequest struct {
	QuestionnaireID string  `json:"questionnaireId"`
	ClinicID        string  `json:"clinicId,omitempty"`
	UserID          string  `json:"userId,omitempty"`
	PaymentIntentID string  `json:"paymentIntentId,omitempty"`
	OrderID         string  `json:"orderId,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
}

type ContactRequest struct {
	QuestionnaireID string `json:"questionnaireId"`
	SessionID       string `json:"sessionId"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	FirstName       string `json:"firstName,omitempty"`
	LastName        string `json:"lastName,omitempty"`
}

type VisitFee struct {
	ProgramID string  `json:"programId,omitempty"`
	State     string  `json:"state,omitempty"`
	Fee       float64 `json:"visitFee"`
}

// CaseRequest asks an external medical company to open a case for an order.
type CaseRequest struct {
	OrderID          string            `json:"orderId"`
	PatientOverrides map[string]string `json:"patientOverrides,omitempty"`
}

type Case struct {
	ID     string `json:"caseId"`
	Status string `json:"status,omitempty"`
}

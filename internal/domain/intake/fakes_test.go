package intake

import (
	"context"
	"errors"
	"sync"

	"github.com/telecare/intake/internal/domain/questionnaire"
	"github.com/telecare/intake/internal/platform/backend"
	"github.com/telecare/intake/internal/platform/payment"
)

// fakeBackend records calls and returns canned responses.
type fakeBackend struct {
	mu sync.Mutex

	questionnaire *backend.Questionnaire
	profile       *backend.Questionnaire
	standardized  []questionnaire.Step
	visitFee      float64
	intent        *backend.Intent

	signUpErr    error
	signInErr    error
	intentErr    error
	sequenceErr  error
	conversionEr error
	mdCaseErr    error
	belugaErr    error
	signUpBlock  chan struct{}
	signUpSeen   chan struct{}

	signUps     []backend.SignupRequest
	signIns     []backend.SignInRequest
	oauth       []backend.OAuthRequest
	plans       []backend.PlanSubscriptionRequest
	programs    []backend.ProgramSubscriptionRequest
	sequences   []backend.CheckoutSequenceRequest
	conversions []backend.ConversionRequest
	contacts    []backend.ContactRequest
	mdCases     []backend.CaseRequest
	belugaCases []backend.CaseRequest
	feeLookups  []string
	tokens      []string
}

func (f *fakeBackend) record(ctx context.Context) {
	f.tokens = append(f.tokens, backend.TokenFromContext(ctx))
}

func (f *fakeBackend) GetQuestionnaire(ctx context.Context, id string) (*backend.Questionnaire, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	if f.questionnaire == nil || f.questionnaire.ID != id {
		return nil, &backend.APIError{Method: "GET", Path: "/questionnaires/" + id, StatusCode: 404, Message: "questionnaire not found"}
	}
	return f.questionnaire, nil
}

func (f *fakeBackend) GetUserProfileQuestionnaire(context.Context) (*backend.Questionnaire, error) {
	if f.profile == nil {
		return nil, errors.New("no profile questionnaire")
	}
	return f.profile, nil
}

func (f *fakeBackend) GetStandardizedSteps(context.Context, string) ([]questionnaire.Step, error) {
	return f.standardized, nil
}

func (f *fakeBackend) SignUp(ctx context.Context, req backend.SignupRequest) (*backend.Account, error) {
	if f.signUpSeen != nil {
		close(f.signUpSeen)
	}
	if f.signUpBlock != nil {
		select {
		case <-f.signUpBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUps = append(f.signUps, req)
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return &backend.Account{UserID: "user-1", Email: req.Email, Token: "patient-token"}, nil
}

func (f *fakeBackend) SignIn(_ context.Context, req backend.SignInRequest) (*backend.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signIns = append(f.signIns, req)
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return &backend.Account{UserID: "user-2", Email: req.Email, FirstName: "Ada", LastName: "Lovelace", Token: "signin-token"}, nil
}

func (f *fakeBackend) SignInOAuth(_ context.Context, req backend.OAuthRequest) (*backend.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oauth = append(f.oauth, req)
	return &backend.Account{UserID: "user-3", FirstName: "Grace", LastName: "Hopper"}, nil
}

func (f *fakeBackend) CreatePlanSubscription(ctx context.Context, req backend.PlanSubscriptionRequest) (*backend.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	f.plans = append(f.plans, req)
	return f.intent, f.intentErr
}

func (f *fakeBackend) CreateProgramSubscription(_ context.Context, req backend.ProgramSubscriptionRequest) (*backend.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.programs = append(f.programs, req)
	return f.intent, f.intentErr
}

func (f *fakeBackend) TriggerCheckoutSequence(_ context.Context, req backend.CheckoutSequenceRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequences = append(f.sequences, req)
	return f.sequenceErr
}

func (f *fakeBackend) TrackConversion(_ context.Context, req backend.ConversionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversions = append(f.conversions, req)
	return f.conversionEr
}

func (f *fakeBackend) TrackContact(_ context.Context, req backend.ContactRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, req)
	return nil
}

func (f *fakeBackend) GetVisitFee(_ context.Context, programID, state string) (*backend.VisitFee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeLookups = append(f.feeLookups, state)
	return &backend.VisitFee{ProgramID: programID, State: state, Fee: f.visitFee}, nil
}

func (f *fakeBackend) CreateMDCase(_ context.Context, req backend.CaseRequest) (*backend.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mdCases = append(f.mdCases, req)
	if f.mdCaseErr != nil {
		return nil, f.mdCaseErr
	}
	return &backend.Case{ID: "md-1"}, nil
}

func (f *fakeBackend) CreateBelugaCase(_ context.Context, req backend.CaseRequest) (*backend.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.belugaCases = append(f.belugaCases, req)
	if f.belugaErr != nil {
		return nil, f.belugaErr
	}
	return &backend.Case{ID: "beluga-1"}, nil
}

func (f *fakeBackend) contactCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contacts)
}

// fakeConfirmer returns a fixed result.
type fakeConfirmer struct {
	result *payment.Result
	err    error
	calls  int
}

func (c *fakeConfirmer) Confirm(_ context.Context, clientSecret, _ string) (*payment.Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if c.result != nil {
		return c.result, nil
	}
	id, _ := payment.IntentID(clientSecret)
	return &payment.Result{PaymentIntentID: id, Status: payment.StatusSucceeded}, nil
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (p *recordingPublisher) Publish(_ string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := payload.(SessionEvent); ok {
		p.events = append(p.events, ev)
	}
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// Steps shared by the wizard, service and handler tests.

func medicalStep(id string, order int, questions ...questionnaire.Question) questionnaire.Step {
	return questionnaire.Step{ID: id, Title: id, StepOrder: order, Category: questionnaire.CategoryNormal, Questions: questions}
}

func required(id string) questionnaire.Question {
	return questionnaire.Question{ID: id, QuestionText: id, AnswerType: "text", IsRequired: true}
}

func accountStep(order int) questionnaire.Step {
	return questionnaire.Step{
		ID:        "account",
		Title:     questionnaire.AccountStepTitle,
		StepOrder: order,
		Category:  questionnaire.CategoryUserProfile,
		Questions: []questionnaire.Question{
			required(KeyFirstName), required(KeyLastName), required(KeyEmail), required(KeyMobile),
		},
	}
}

func accountAnswers() questionnaire.Answers {
	return questionnaire.Answers{
		KeyFirstName: questionnaire.Text("Jane"),
		KeyLastName:  questionnaire.Text("Doe"),
		KeyEmail:     questionnaire.Text("jane@example.com"),
		KeyMobile:    questionnaire.Text("5551234567"),
	}
}

func validShipping() ShippingInfo {
	return ShippingInfo{Address: "1 Main St", City: "Austin", State: "TX", ZipCode: "78701"}
}

// basicLayout is two medical steps and the account step, then checkout.
func basicLayout() questionnaire.Layout {
	return questionnaire.Sequence(questionnaire.SequenceInput{Steps: []questionnaire.Step{
		medicalStep("history", 1, required("q1")),
		medicalStep("symptoms", 2, questionnaire.Question{ID: "q2", AnswerType: "text"}),
		accountStep(3),
	}})
}

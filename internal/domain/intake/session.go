package intake

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telecare/intake/internal/domain/questionnaire"
	"github.com/telecare/intake/internal/platform/backend"
)

// Session is one patient's walk through a questionnaire. Requests on a
// session are serialized by mu.
type Session struct {
	ID            string
	Tenant        string
	Key           DraftKey
	Questionnaire *backend.Questionnaire
	CreatedAt     time.Time

	wizard  *Wizard
	contact *Debouncer

	mu        sync.Mutex
	state     State
	token     string
	redirect  string
	updatedAt time.Time

	// resumeToken lets an anonymous patient reopen this session's draft.
	resumeToken string

	// ctx outlives single requests and is cancelled on close, aborting any
	// backend call still in flight for the session.
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// Closed reports whether the session has finished or been abandoned.
func (s *Session) Closed() bool { return s.closed.Load() }

// callCtx derives a context for a backend call made during a request. It is
// cancelled when either the request or the session ends.
func (s *Session) callCtx(reqCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(reqCtx)
	stop := context.AfterFunc(s.ctx, cancel)
	ctx = backend.WithToken(ctx, s.token)
	return ctx, func() {
		stop()
		cancel()
	}
}

// CurrentView describes what the current index renders.
type CurrentView struct {
	Kind   PositionKind        `json:"kind"`
	Step   *questionnaire.Step `json:"step,omitempty"`
	Hidden []string            `json:"hiddenQuestionIds,omitempty"`
}

type AccountView struct {
	UserID           string `json:"userId,omitempty"`
	AccountCreated   bool   `json:"accountCreated"`
	Authenticated    bool   `json:"authenticated"`
	PatientName      string `json:"patientName,omitempty"`
	PatientFirstName string `json:"patientFirstName,omitempty"`
}

type PaymentView struct {
	State           PaymentState `json:"state"`
	Error           string       `json:"error,omitempty"`
	PaymentIntentID string       `json:"paymentIntentId,omitempty"`
	OrderID         string       `json:"orderId,omitempty"`
}

// View is the client-facing snapshot of a session.
type View struct {
	SessionID            string                       `json:"sessionId"`
	QuestionnaireID      string                       `json:"questionnaireId"`
	FormID               string                       `json:"formId,omitempty"`
	ResumeToken          string                       `json:"resumeToken,omitempty"`
	Title                string                       `json:"title"`
	MedicalCompanySource backend.MedicalCompanySource `json:"medicalCompanySource,omitempty"`
	ProgramMode          bool                         `json:"programMode"`
	Layout               questionnaire.Layout         `json:"layout"`
	IntroSteps           int                          `json:"introSteps"`
	CurrentStepIndex     int                          `json:"currentStepIndex"`
	Current              CurrentView                  `json:"current"`
	VisibleStepCount     int                          `json:"visibleStepCount"`
	VisiblePosition      int                          `json:"visiblePosition"`
	Answers              questionnaire.Answers        `json:"answers"`
	ConsentAccepted      bool                         `json:"consentAccepted"`
	PhotoCaptured        bool                         `json:"photoCaptured"`
	SelectedProducts     map[string]int               `json:"selectedProducts"`
	ProgramProducts      map[string]bool              `json:"selectedProgramProducts"`
	Shipping             ShippingInfo                 `json:"shippingInfo"`
	Account              AccountView                  `json:"account"`
	Payment              PaymentView                  `json:"payment"`
	Submitted            bool                         `json:"submitted"`
	Closed               bool                         `json:"closed"`
	Redirect             string                       `json:"redirect,omitempty"`
	UpdatedAt            time.Time                    `json:"updatedAt"`
}

// view must be called with mu held.
func (s *Session) view() *View {
	st := s.state
	w := s.wizard
	cur, _ := w.Resolve(st.StepIndex)
	cv := CurrentView{Kind: cur.Kind, Step: cur.Step}
	if cur.Kind == PositionStep {
		for j, q := range cur.Step.Questions {
			if !w.QuestionVisible(st, cur.StepIndex, j) {
				cv.Hidden = append(cv.Hidden, q.ID)
			}
		}
	}
	return &View{
		SessionID:            s.ID,
		QuestionnaireID:      s.Key.QuestionnaireID,
		FormID:               s.Key.FormID,
		ResumeToken:          s.resumeToken,
		Title:                s.Questionnaire.Title,
		MedicalCompanySource: s.Questionnaire.MedicalCompanySource,
		ProgramMode:          w.ProgramMode(),
		Layout:               w.Layout(),
		IntroSteps:           w.IntroSteps(),
		CurrentStepIndex:     st.StepIndex,
		Current:              cv,
		VisibleStepCount:     w.VisibleCount(st),
		VisiblePosition:      w.VisiblePosition(st),
		Answers:              st.Answers,
		ConsentAccepted:      st.ConsentAccepted,
		PhotoCaptured:        st.Photo != "",
		SelectedProducts:     st.SelectedProducts,
		ProgramProducts:      st.ProgramProducts,
		Shipping:             st.Shipping,
		Account: AccountView{
			UserID:           st.UserID,
			AccountCreated:   st.AccountCreated,
			Authenticated:    st.Authenticated,
			PatientName:      st.PatientName,
			PatientFirstName: st.PatientFirstName,
		},
		Payment: PaymentView{
			State:           st.Payment,
			Error:           st.PaymentError,
			PaymentIntentID: st.PaymentIntentID,
			OrderID:         st.OrderID,
		},
		Submitted: st.Submitted,
		Closed:    s.Closed(),
		Redirect:  s.redirect,
		UpdatedAt: s.updatedAt,
	}
}

// SessionEvent is pushed to subscribers of a session topic.
type SessionEvent struct {
	Type             EventType    `json:"type"`
	SessionID        string       `json:"sessionId"`
	CurrentStepIndex int          `json:"currentStepIndex"`
	VisiblePosition  int          `json:"visiblePosition"`
	VisibleStepCount int          `json:"visibleStepCount"`
	PaymentState     PaymentState `json:"paymentState"`
	Redirect         string       `json:"redirect,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

func (e SessionEvent) EventType() string { return string(e.Type) }

// Topic is the websocket topic of a session.
func Topic(sessionID string) string { return "intake-session/" + sessionID }

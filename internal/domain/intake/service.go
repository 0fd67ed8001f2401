package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/intake/internal/domain/questionnaire"
	"github.com/telecare/intake/internal/platform/backend"
	"github.com/telecare/intake/internal/platform/db"
)

// Publisher pushes session events to realtime subscribers.
type Publisher interface {
	Publish(topic string, payload interface{})
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}) {}

// DefaultContactDebounce is the idle time before contact details are
// reported.
const DefaultContactDebounce = 1500 * time.Millisecond

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

func WithContactDebounce(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.contactDelay = d
		}
	}
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// Service owns the live intake sessions.
type Service struct {
	backend      Backend
	drafts       *DraftCache
	orchestrator *Orchestrator
	publisher    Publisher
	logger       zerolog.Logger
	contactDelay time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewService(b Backend, drafts *DraftCache, orchestrator *Orchestrator, opts ...ServiceOption) *Service {
	s := &Service{
		backend:      b,
		drafts:       drafts,
		orchestrator: orchestrator,
		publisher:    nopPublisher{},
		logger:       zerolog.Nop(),
		contactDelay: DefaultContactDebounce,
		now:          time.Now,
		sessions:     make(map[string]*Session),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenRequest starts a session. UserID and Token come from an optional
// patient JWT. Anonymous patients resume a draft by sending back the
// ResumeToken of an earlier session view.
type OpenRequest struct {
	QuestionnaireID string
	FormID          string
	UserID          string
	Token           string
	ResumeToken     string
}

const maxResumeTokenLen = 128

// draftOwner picks the draft owner for req. Anonymous requests without a
// resume token get a fresh one.
func draftOwner(req OpenRequest) (owner, resume string) {
	if req.UserID != "" {
		return UserOwner(req.UserID), ""
	}
	resume = req.ResumeToken
	if resume == "" {
		resume = uuid.New().String()
	}
	return ResumeOwner(resume), resume
}

// Open loads and sequences the questionnaire, restores any cached draft and
// registers the session.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*View, error) {
	if req.QuestionnaireID == "" {
		return nil, invalid("questionnaireId", "required")
	}
	if len(req.ResumeToken) > maxResumeTokenLen {
		return nil, invalid("resumeToken", "too long")
	}
	callCtx := backend.WithToken(ctx, req.Token)

	q, err := s.backend.GetQuestionnaire(callCtx, req.QuestionnaireID)
	if err != nil {
		return nil, fmt.Errorf("load questionnaire %s: %w", req.QuestionnaireID, err)
	}
	layout := s.sequence(callCtx, q)

	intro := 0
	if q.MedicalCompanySource == backend.MedicalCompanyBeluga {
		intro = 1
		if q.RequiresPhotoUpload {
			intro = 2
		}
	}

	tenant := db.TenantFromContext(ctx)
	sessCtx := db.WithTenant(context.Background(), tenant)
	sessCtx, cancel := context.WithCancel(sessCtx)

	owner, resume := draftOwner(req)
	now := s.now()
	sess := &Session{
		ID:            uuid.New().String(),
		Tenant:        tenant,
		Key:           DraftKey{QuestionnaireID: q.ID, FormID: req.FormID, Owner: owner},
		Questionnaire: q,
		CreatedAt:     now,
		wizard:        NewWizard(layout, intro, q.Program != nil),
		contact:       NewDebouncer(s.contactDelay),
		state:         NewState(),
		token:         req.Token,
		resumeToken:   resume,
		updatedAt:     now,
		ctx:           sessCtx,
		cancel:        cancel,
	}
	if req.UserID != "" {
		sess.state.UserID = req.UserID
		sess.state.Authenticated = true
	}

	draft, err := s.drafts.Restore(ctx, sess.Key)
	if err != nil {
		s.logger.Warn().Err(err).Str("draft", sess.Key.String()).Msg("draft restore failed")
	}
	if draft != nil && !draft.restorableFor(sess.state) {
		s.logger.Warn().Str("draft", sess.Key.String()).Str("user_id", req.UserID).Msg("ignoring draft written for another account")
		draft = nil
	}
	if draft != nil {
		sess.state, _, _ = sess.wizard.Apply(sess.state, Restored{Draft: *draft})
	} else {
		sess.state = sess.wizard.settle(sess.state)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info().
		Str("session_id", sess.ID).
		Str("questionnaire_id", q.ID).
		Int("steps", len(layout.Steps)).
		Bool("restored", draft != nil).
		Msg("intake session opened")

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view(), nil
}

// sequence builds the layout. The global account steps and the standardized
// steps are optional; failures to fetch them are logged and skipped.
func (s *Service) sequence(ctx context.Context, q *backend.Questionnaire) questionnaire.Layout {
	steps := append([]questionnaire.Step(nil), q.Steps...)
	if !q.HasUserProfileSteps() {
		global, err := s.backend.GetUserProfileQuestionnaire(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("questionnaire_id", q.ID).Msg("user profile questionnaire unavailable")
		} else {
			for _, st := range global.Steps {
				if st.IsUserProfile() {
					steps = append(steps, st)
				}
			}
		}
	}

	var standardized []questionnaire.Step
	if q.ProductCategory != "" {
		var err error
		standardized, err = s.backend.GetStandardizedSteps(ctx, q.ProductCategory)
		if err != nil {
			s.logger.Warn().Err(err).Str("category", q.ProductCategory).Msg("standardized steps unavailable")
		}
	}

	in := questionnaire.SequenceInput{
		Steps:             steps,
		Structure:         q.FormStructure,
		Standardized:      standardized,
		StandardizedFirst: q.FormVariant == "2",
		Program:           q.Program != nil,
	}
	if q.Program != nil {
		in.ProgramOrder = q.Program.FormStepOrder
	}
	return questionnaire.Substitute(questionnaire.Sequence(in), variables(q))
}

func variables(q *backend.Questionnaire) questionnaire.Variables {
	vars := questionnaire.Variables{}
	if q.Clinic != nil && q.Clinic.Name != "" {
		vars["clinicName"] = q.Clinic.Name
	}
	switch {
	case q.Product != nil && q.Product.Name != "":
		vars["productName"] = q.Product.Name
	case q.Program != nil && q.Program.Name != "":
		vars["productName"] = q.Program.Name
	}
	for k, v := range q.Variables {
		vars[k] = v
	}
	return vars
}

func (s *Service) session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Closed() {
		return nil, ErrSessionClosed
	}
	return sess, nil
}

// Get returns the current view of a session. Closed sessions stay readable
// until they are swept.
func (s *Service) Get(_ context.Context, id string) (*View, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view(), nil
}

// dispatch applies ev under the session lock and runs the resulting effects.
func (s *Service) dispatch(ctx context.Context, id string, ev Event) (*View, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.apply(ctx, sess, ev); err != nil {
		return nil, err
	}
	return sess.view(), nil
}

// apply must be called with sess.mu held.
func (s *Service) apply(ctx context.Context, sess *Session, ev Event) error {
	if sess.Closed() {
		return ErrSessionClosed
	}
	next, effects, err := sess.wizard.Apply(sess.state, ev)
	if err != nil {
		return err
	}
	sess.state = next
	sess.updatedAt = s.now()
	return s.run(ctx, sess, effects)
}

func (s *Service) run(ctx context.Context, sess *Session, effects []Effect) error {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case SaveDraft:
			s.saveDraft(ctx, sess)
		case Publish:
			s.publish(sess, eff.Type)
		case TrackContact:
			s.trackContact(sess, eff.Fields)
		case CreateAccount:
			if err := s.createAccount(ctx, sess, eff.Fields); err != nil {
				return err
			}
		case Submit:
			s.finish(ctx, sess)
		}
	}
	return nil
}

func (s *Service) saveDraft(ctx context.Context, sess *Session) {
	if len(sess.state.Answers) == 0 || sess.state.Submitted {
		return
	}
	if err := s.drafts.Save(ctx, sess.Key, DraftFromState(sess.state)); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("draft save failed")
	}
}

func (s *Service) publish(sess *Session, t EventType) {
	st := sess.state
	s.publisher.Publish(Topic(sess.ID), SessionEvent{
		Type:             t,
		SessionID:        sess.ID,
		CurrentStepIndex: st.StepIndex,
		VisiblePosition:  sess.wizard.VisiblePosition(st),
		VisibleStepCount: sess.wizard.VisibleCount(st),
		PaymentState:     st.Payment,
		Redirect:         sess.redirect,
		Timestamp:        s.now(),
	})
}

func (s *Service) trackContact(sess *Session, f AccountFields) {
	req := backend.ContactRequest{
		QuestionnaireID: sess.Key.QuestionnaireID,
		SessionID:       sess.ID,
		Email:           f.Email,
		Phone:           f.Phone,
		FirstName:       f.FirstName,
		LastName:        f.LastName,
	}
	sess.contact.Trigger(func() {
		if sess.Closed() {
			return
		}
		ctx := backend.WithToken(sess.ctx, sess.token)
		if err := s.backend.TrackContact(ctx, req); err != nil && !sess.Closed() {
			s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("contact tracking failed")
		}
	})
}

func (s *Service) createAccount(ctx context.Context, sess *Session, f AccountFields) error {
	callCtx, done := sess.callCtx(ctx)
	acct, err := s.backend.SignUp(callCtx, backend.SignupRequest{
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Email:     f.Email,
		Phone:     f.Phone,
		ClinicID:  clinicID(sess.Questionnaire),
	})
	done()
	if sess.Closed() {
		return ErrSessionClosed
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	if acct.Token != "" {
		sess.token = acct.Token
	}
	s.logger.Info().Str("session_id", sess.ID).Str("user_id", acct.UserID).Msg("account created")

	first, last := acct.FirstName, acct.LastName
	if first == "" && last == "" {
		first, last = f.FirstName, f.LastName
	}
	return s.apply(ctx, sess, AccountCreated{UserID: acct.UserID, FirstName: first, LastName: last, Advance: true})
}

func clinicID(q *backend.Questionnaire) string {
	if q.Clinic == nil {
		return ""
	}
	return q.Clinic.ID
}

// finish clears the draft and closes a submitted session. Called with
// sess.mu held.
func (s *Service) finish(ctx context.Context, sess *Session) {
	sess.redirect = RedirectTarget(sess.Questionnaire.MedicalCompanySource, sess.state.OrderID)
	if err := s.drafts.Clear(ctx, sess.Key); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("draft clear failed")
	}
	if markClosed(sess) {
		s.publish(sess, EventClosed)
	}
	s.logger.Info().
		Str("session_id", sess.ID).
		Str("order_id", sess.state.OrderID).
		Str("redirect", sess.redirect).
		Msg("intake submitted")
}

// markClosed cancels the session context and stops pending contact
// tracking. It reports whether this call closed the session.
func markClosed(sess *Session) bool {
	if sess.closed.Swap(true) {
		return false
	}
	sess.cancel()
	sess.contact.Stop()
	return true
}

func (s *Service) Next(ctx context.Context, id string) (*View, error) {
	return s.dispatch(ctx, id, Next{})
}

func (s *Service) Previous(ctx context.Context, id string) (*View, error) {
	return s.dispatch(ctx, id, Previous{})
}

func (s *Service) UpdateAnswers(ctx context.Context, id string, answers questionnaire.Answers) (*View, error) {
	return s.dispatch(ctx, id, AnswersChanged{Answers: answers})
}

func (s *Service) SetConsent(ctx context.Context, id string, accepted bool) (*View, error) {
	return s.dispatch(ctx, id, ConsentGiven{Accepted: accepted})
}

func (s *Service) SetPhoto(ctx context.Context, id, data string) (*View, error) {
	return s.dispatch(ctx, id, PhotoCaptured{Data: data})
}

func (s *Service) SelectProducts(ctx context.Context, id string, quantities map[string]int, toggles map[string]bool) (*View, error) {
	return s.dispatch(ctx, id, ProductsSelected{Quantities: quantities, Toggles: toggles})
}

func (s *Service) SetShipping(ctx context.Context, id string, info ShippingInfo) (*View, error) {
	return s.dispatch(ctx, id, ShippingChanged{Shipping: info})
}

// SignInRequest signs an existing patient in mid-flow, by password or by an
// OAuth provider token.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

func (s *Service) SignIn(ctx context.Context, id string, req SignInRequest) (*View, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	callCtx, done := sess.callCtx(ctx)
	var acct *backend.Account
	switch {
	case req.Provider != "":
		acct, err = s.backend.SignInOAuth(callCtx, backend.OAuthRequest{Provider: req.Provider, Token: req.Token})
	case req.Email != "" && req.Password != "":
		acct, err = s.backend.SignIn(callCtx, backend.SignInRequest{Email: req.Email, Password: req.Password})
	default:
		err = &ValidationError{Fields: map[string]string{"email": "required", "password": "required"}}
	}
	done()
	if sess.Closed() {
		return nil, ErrSessionClosed
	}
	if err != nil {
		return nil, err
	}
	if acct.Token != "" {
		sess.token = acct.Token
	}
	if err := s.apply(ctx, sess, SignedIn{UserID: acct.UserID, FirstName: acct.FirstName, LastName: acct.LastName}); err != nil {
		return nil, err
	}
	return sess.view(), nil
}

// Checkout pays for the session. The view is returned alongside a
// *PaymentError so callers can show the failed state.
func (s *Service) Checkout(ctx context.Context, id, paymentMethodID string) (*View, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if cur, _ := sess.wizard.Resolve(sess.state.StepIndex); cur.Kind != PositionCheckout {
		return nil, ErrNotAtCheckout
	}

	callCtx, done := sess.callCtx(ctx)
	defer done()

	advance := func(ev PaymentChanged) (State, error) {
		if sess.Closed() {
			return sess.state, ErrSessionClosed
		}
		err := s.apply(ctx, sess, ev)
		return sess.state, err
	}
	_, err = s.orchestrator.Checkout(callCtx, sess.Questionnaire, sess.state, paymentMethodID, advance)
	if errors.Is(err, ErrSessionClosed) {
		return nil, err
	}
	var perr *PaymentError
	if err != nil && !errors.As(err, &perr) {
		return nil, err
	}
	return sess.view(), err
}

// Close ends a session. Abandoning also clears its draft; a plain close
// keeps it for a later resume.
func (s *Service) Close(ctx context.Context, id string, abandon bool) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	// Cancel before locking so a request blocked on the backend returns.
	closedNow := markClosed(sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if closedNow {
		s.publish(sess, EventClosed)
	}
	if abandon {
		if err := s.drafts.Clear(ctx, sess.Key); err != nil {
			return err
		}
	}
	s.logger.Info().Str("session_id", id).Bool("abandoned", abandon).Msg("intake session closed")
	return nil
}

// Sweep drops sessions idle for longer than idle. Sessions busy with a
// request are left for the next sweep.
func (s *Service) Sweep(idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	s.mu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	n := 0
	for _, sess := range all {
		if !sess.mu.TryLock() {
			continue
		}
		stale := sess.updatedAt.Before(cutoff)
		if stale && markClosed(sess) {
			s.publish(sess, EventClosed)
		}
		sess.mu.Unlock()
		if stale {
			s.mu.Lock()
			delete(s.sessions, sess.ID)
			s.mu.Unlock()
			n++
		}
	}
	return n
}

// RunSweeper sweeps idle sessions every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, every, idle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(idle); n > 0 {
				s.logger.Debug().Int("sessions", n).Msg("swept idle intake sessions")
			}
		}
	}
}

func (s *Service) ListDrafts(ctx context.Context, limit, offset int) ([]DraftSummary, int, error) {
	return s.drafts.List(ctx, limit, offset)
}

func (s *Service) DeleteDraft(ctx context.Context, key DraftKey) error {
	return s.drafts.Clear(ctx, key)
}

func (s *Service) PurgeDrafts(ctx context.Context) (int64, error) {
	return s.drafts.Purge(ctx)
}

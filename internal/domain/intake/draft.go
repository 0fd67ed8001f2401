package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/telecare/intake/internal/domain/questionnaire"
)

// DefaultDraftTTL is how long a draft stays restorable.
const DefaultDraftTTL = 7 * 24 * time.Hour

// Draft is the cached snapshot of a session's tracked fields.
type Draft struct {
	Answers                 questionnaire.Answers `json:"answers"`
	CurrentStepIndex        int                   `json:"currentStepIndex"`
	SelectedProducts        map[string]int        `json:"selectedProducts"`
	SelectedProgramProducts map[string]bool       `json:"selectedProgramProducts"`
	ShippingInfo            ShippingInfo          `json:"shippingInfo"`
	UserID                  string                `json:"userId,omitempty"`
	AccountCreated          bool                  `json:"accountCreated,omitempty"`
	PatientName             string                `json:"patientName,omitempty"`
	PatientFirstName        string                `json:"patientFirstName,omitempty"`
	Timestamp               int64                 `json:"timestamp"`
}

// DraftFromState snapshots the tracked fields of s.
func DraftFromState(s State) Draft {
	return Draft{
		Answers:                 s.Answers.Clone(),
		CurrentStepIndex:        s.StepIndex,
		SelectedProducts:        cloneInts(s.SelectedProducts),
		SelectedProgramProducts: cloneBools(s.ProgramProducts),
		ShippingInfo:            s.Shipping,
		UserID:                  s.UserID,
		AccountCreated:          s.AccountCreated,
		PatientName:             s.PatientName,
		PatientFirstName:        s.PatientFirstName,
	}
}

// restorableFor reports whether d may be restored into s. A draft written
// for another account never restores into a signed-in session.
func (d Draft) restorableFor(s State) bool {
	return !s.Authenticated || d.UserID == "" || d.UserID == s.UserID
}

// applyTo restores the draft into s. A draft without a user id never
// restores an account, and an identity coming from the request token is
// never replaced.
func (d Draft) applyTo(s State) State {
	s.Answers = MergeAnswers(nil, d.Answers)
	s.StepIndex = d.CurrentStepIndex
	s.SelectedProducts = cloneInts(d.SelectedProducts)
	s.ProgramProducts = cloneBools(d.SelectedProgramProducts)
	s.Shipping = d.ShippingInfo
	switch {
	case s.Authenticated:
		s.AccountCreated = d.AccountCreated && d.UserID == s.UserID
	case d.UserID != "":
		s.UserID = d.UserID
		s.AccountCreated = d.AccountCreated
	default:
		s.UserID = ""
		s.AccountCreated = false
	}
	if d.PatientName != "" {
		s.PatientName = d.PatientName
	}
	if d.PatientFirstName != "" {
		s.PatientFirstName = d.PatientFirstName
	}
	return s
}

// DraftKey identifies a draft. Owner scopes it to one patient: see
// UserOwner and ResumeOwner.
type DraftKey struct {
	QuestionnaireID string
	FormID          string
	Owner           string
}

// UserOwner is the draft owner of a signed-in patient.
func UserOwner(userID string) string { return "user:" + userID }

// ResumeOwner is the draft owner of an anonymous patient holding a resume
// token. Only the digest is stored.
func ResumeOwner(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "resume:" + hex.EncodeToString(sum[:])
}

// String is the loggable form of the key. It leaves out the owner.
func (k DraftKey) String() string {
	if k.FormID == "" {
		return k.QuestionnaireID
	}
	return k.QuestionnaireID + "/" + k.FormID
}

// associated is the data a sealed payload is bound to.
func (k DraftKey) associated() []byte {
	return []byte(k.String() + "#" + k.Owner)
}

// StoredDraft is a persisted, possibly sealed, draft payload.
type StoredDraft struct {
	Key       DraftKey  `json:"-"`
	UserID    string    `json:"userId,omitempty"`
	Payload   []byte    `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DraftSummary is the admin listing view of a stored draft.
type DraftSummary struct {
	QuestionnaireID string    `json:"questionnaireId"`
	FormID          string    `json:"formId,omitempty"`
	Owner           string    `json:"owner"`
	UserID          string    `json:"userId,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Expired         bool      `json:"expired"`
}

// DraftStore persists drafts.
type DraftStore interface {
	Put(ctx context.Context, d *StoredDraft) error
	Get(ctx context.Context, key DraftKey) (*StoredDraft, error)
	Delete(ctx context.Context, key DraftKey) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	List(ctx context.Context, limit, offset int) ([]*StoredDraft, int, error)
}

// ErrDraftNotFound is returned by stores for a missing key.
var ErrDraftNotFound = errors.New("draft not found")

// Sealer encrypts payloads at rest. The associated data binds a ciphertext
// to the draft key and owner it was written under.
type Sealer interface {
	Seal(plaintext, associated []byte) ([]byte, error)
	Open(ciphertext, associated []byte) ([]byte, error)
}

// DraftCacheOption configures a DraftCache.
type DraftCacheOption func(*DraftCache)

func WithSealer(s Sealer) DraftCacheOption {
	return func(c *DraftCache) { c.sealer = s }
}

func WithDraftTTL(ttl time.Duration) DraftCacheOption {
	return func(c *DraftCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithDraftClock(now func() time.Time) DraftCacheOption {
	return func(c *DraftCache) { c.now = now }
}

func WithDraftLogger(l zerolog.Logger) DraftCacheOption {
	return func(c *DraftCache) { c.logger = l }
}

// DraftCache saves and restores drafts with read-time expiry. Corrupt
// payloads are deleted and reported as absent.
type DraftCache struct {
	store  DraftStore
	sealer Sealer
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewDraftCache(store DraftStore, opts ...DraftCacheOption) *DraftCache {
	c := &DraftCache{
		store:  store,
		ttl:    DefaultDraftTTL,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL is the restore window.
func (c *DraftCache) TTL() time.Duration { return c.ttl }

// Save stamps and persists d.
func (c *DraftCache) Save(ctx context.Context, key DraftKey, d Draft) error {
	now := c.now()
	d.Timestamp = now.UnixMilli()
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if c.sealer != nil {
		if payload, err = c.sealer.Seal(payload, key.associated()); err != nil {
			return fmt.Errorf("seal draft: %w", err)
		}
	}
	return c.store.Put(ctx, &StoredDraft{
		Key:       key,
		UserID:    d.UserID,
		Payload:   payload,
		UpdatedAt: now,
	})
}

// Restore returns the draft for key, or nil if there is none, it expired or
// it could not be read.
func (c *DraftCache) Restore(ctx context.Context, key DraftKey) (*Draft, error) {
	sd, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrDraftNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}

	d, err := c.open(key, sd.Payload)
	if err != nil {
		c.logger.Warn().Err(err).Str("draft", key.String()).Msg("discarding unreadable draft")
		c.discard(ctx, key)
		return nil, nil
	}
	if c.now().Sub(time.UnixMilli(d.Timestamp)) >= c.ttl {
		c.logger.Debug().Str("draft", key.String()).Msg("discarding expired draft")
		c.discard(ctx, key)
		return nil, nil
	}
	if d.UserID == "" {
		d.AccountCreated = false
	}
	return d, nil
}

func (c *DraftCache) open(key DraftKey, payload []byte) (*Draft, error) {
	if c.sealer != nil {
		var err error
		if payload, err = c.sealer.Open(payload, key.associated()); err != nil {
			return nil, fmt.Errorf("unseal draft: %w", err)
		}
	}
	var d Draft
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &d, nil
}

func (c *DraftCache) discard(ctx context.Context, key DraftKey) {
	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrDraftNotFound) {
		c.logger.Error().Err(err).Str("draft", key.String()).Msg("failed to delete draft")
	}
}

// Clear removes the draft for key. A missing draft is not an error.
func (c *DraftCache) Clear(ctx context.Context, key DraftKey) error {
	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrDraftNotFound) {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

// Purge deletes every draft past the restore window.
func (c *DraftCache) Purge(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteBefore(ctx, c.now().Add(-c.ttl))
	if err != nil {
		return 0, fmt.Errorf("purge drafts: %w", err)
	}
	return n, nil
}

// List pages through stored drafts without opening their payloads.
func (c *DraftCache) List(ctx context.Context, limit, offset int) ([]DraftSummary, int, error) {
	rows, total, err := c.store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list drafts: %w", err)
	}
	cutoff := c.now().Add(-c.ttl)
	out := make([]DraftSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, DraftSummary{
			QuestionnaireID: r.Key.QuestionnaireID,
			FormID:          r.Key.FormID,
			Owner:           r.Key.Owner,
			UserID:          r.UserID,
			UpdatedAt:       r.UpdatedAt,
			Expired:         !r.UpdatedAt.After(cutoff),
		})
	}
	return out, total, nil
}

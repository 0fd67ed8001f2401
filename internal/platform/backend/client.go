// Package backend is a typed client for the clinic backend REST API the
// intake service consumes. The backend is opaque: only the shapes read here
// are modelled.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/telecare/intake/internal/domain/questionnaire"
	"github.com/telecare/intake/internal/platform/db"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithAPIKey sets the service key sent when no patient token is attached to
// the request context.
func WithAPIKey(key string) Option {
	return func(cl *Client) { cl.apiKey = key }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient.Timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// Client calls the clinic backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a Client rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type ctxKey string

const tokenKey ctxKey = "backend_token"

// WithToken attaches a patient bearer token to ctx. Calls made with the
// returned context authenticate as that patient.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the patient token attached by WithToken.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := TokenFromContext(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if tenant := db.TenantFromContext(ctx); tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}
	if err := decodeData(respBody, out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.Method, apiErr.Path, apiErr.StatusCode = method, path, resp.StatusCode
			return apiErr
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// GetQuestionnaire fetches a questionnaire or program by id.
func (c *Client) GetQuestionnaire(ctx context.Context, id string) (*Questionnaire, error) {
	var q Questionnaire
	if err := c.do(ctx, http.MethodGet, "/questionnaires/"+url.PathEscape(id), nil, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// GetUserProfileQuestionnaire fetches the global questionnaire holding the
// shared account steps.
func (c *Client) GetUserProfileQuestionnaire(ctx context.Context) (*Questionnaire, error) {
	var q Questionnaire
	if err := c.do(ctx, http.MethodGet, "/questionnaires/global/user-profile", nil, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// GetStandardizedSteps fetches the category-standardized steps for a product
// category.
func (c *Client) GetStandardizedSteps(ctx context.Context, category string) ([]questionnaire.Step, error) {
	var steps []questionnaire.Step
	q := url.Values{"category": {category}}
	if err := c.do(ctx, http.MethodGet, "/questionnaires/standardized", q, nil, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func (c *Client) SignUp(ctx context.Context, req SignupRequest) (*Account, error) {
	var a Account
	if err := c.do(ctx, http.MethodPost, "/auth/signup", nil, req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) SignIn(ctx context.Context, req SignInRequest) (*Account, error) {
	var a Account
	if err := c.do(ctx, http.MethodPost, "/auth/signin", nil, req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) SignInOAuth(ctx context.Context, req OAuthRequest) (*Account, error) {
	var a Account
	if err := c.do(ctx, http.MethodPost, "/auth/oauth", nil, req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreatePlanSubscription creates the payment intent for a single-product
// questionnaire. A nil intent means the backend declined to create one.
func (c *Client) CreatePlanSubscription(ctx context.Context, req PlanSubscriptionRequest) (*Intent, error) {
	return c.createIntent(ctx, "/payments/subscriptions/plan", req)
}

// CreateProgramSubscription creates the payment intent for a program with the
// computed dynamic price.
func (c *Client) CreateProgramSubscription(ctx context.Context, req ProgramSubscriptionRequest) (*Intent, error) {
	return c.createIntent(ctx, "/payments/subscriptions/program", req)
}

func (c *Client) createIntent(ctx context.Context, path string, req interface{}) (*Intent, error) {
	var in Intent
	if err := c.do(ctx, http.MethodPost, path, nil, req, &in); err != nil {
		return nil, err
	}
	if in.ClientSecret == "" {
		return nil, nil
	}
	return &in, nil
}

func (c *Client) TriggerCheckoutSequence(ctx context.Context, req CheckoutSequenceRequest) error {
	return c.do(ctx, http.MethodPost, "/checkout/sequence", nil, req, nil)
}

func (c *Client) TrackConversion(ctx context.Context, req ConversionRequest) error {
	return c.do(ctx, http.MethodPost, "/tracking/conversion", nil, req, nil)
}

func (c *Client) TrackContact(ctx context.Context, req ContactRequest) error {
	return c.do(ctx, http.MethodPost, "/tracking/contact", nil, req, nil)
}

// GetVisitFee fetches the program visit fee for a shipping state.
func (c *Client) GetVisitFee(ctx context.Context, programID, state string) (*VisitFee, error) {
	var f VisitFee
	q := url.Values{"state": {state}}
	if err := c.do(ctx, http.MethodGet, "/programs/"+url.PathEscape(programID)+"/visit-fee", q, nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) CreateMDCase(ctx context.Context, req CaseRequest) (*Case, error) {
	var cs Case
	if err := c.do(ctx, http.MethodPost, "/md-integrations/cases", nil, req, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (c *Client) CreateBelugaCase(ctx context.Context, req CaseRequest) (*Case, error) {
	var cs Case
	if err := c.do(ctx, http.MethodPost, "/beluga/cases", nil, req, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

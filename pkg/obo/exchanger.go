package obo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/tendant/simple-obo/pkg/oboerrors"
)

// GrantTypeJWTBearer is the on-behalf-of grant type
const GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// Default retry settings for a flaky token endpoint
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
)

// Request describes one on-behalf-of exchange. It is never persisted and
// exists only for the duration of the Exchange call.
type Request struct {
	// UserAssertion is the validated inbound user token
	UserAssertion string
	// Scope is the target resource scope, e.g. "https://vault.example.com/.default"
	Scope string
}

// Token is a delegated access token scoped to a single resource audience.
// Subject always equals the subject of the user assertion it was minted
// from: delegation narrows audience, never identity.
type Token struct {
	AccessToken string
	Audience    string
	Subject     string
	ExpiresAt   time.Time
}

// Expired reports whether the token expires within the given safety margin
func (t *Token) Expired(margin time.Duration) bool {
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// tokenEndpointResponse is the OAuth2 token endpoint success payload
type tokenEndpointResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// tokenEndpointError is the OAuth2 token endpoint error payload
type tokenEndpointError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	SubError         string `json:"suberror,omitempty"`
}

// Exchanger performs OAuth2 on-behalf-of exchanges against the identity
// provider's token endpoint, authenticating with its own client credentials.
type Exchanger struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	maxRetries      uint64
	initialInterval time.Duration
}

// Option is a function that configures an Exchanger
type Option func(*Exchanger)

// WithHTTPClient sets the HTTP client used for token requests
func WithHTTPClient(client *http.Client) Option {
	return func(e *Exchanger) {
		e.httpClient = client
	}
}

// WithMaxRetries sets the retry attempt cap for retryable failures
func WithMaxRetries(n uint64) Option {
	return func(e *Exchanger) {
		e.maxRetries = n
	}
}

// WithInitialInterval sets the initial backoff interval between retries
func WithInitialInterval(d time.Duration) Option {
	return func(e *Exchanger) {
		e.initialInterval = d
	}
}

// NewExchanger creates an exchanger for the given token endpoint and
// confidential client credentials
func NewExchanger(tokenURL, clientID, clientSecret string, opts ...Option) *Exchanger {
	e := &Exchanger{
		tokenURL:        tokenURL,
		clientID:        clientID,
		clientSecret:    clientSecret,
		httpClient:      http.DefaultClient,
		maxRetries:      DefaultMaxRetries,
		initialInterval: DefaultInitialInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Exchange trades a validated user assertion for a token scoped to the
// requested resource. Transient identity-provider failures are retried with
// bounded exponential backoff; consent and assertion failures are terminal.
// A token is acquired once per target audience and never reused across
// audiences, the caller-side cache keys on the audience for that reason.
func (e *Exchanger) Exchange(ctx context.Context, req Request) (*Token, error) {
	if req.UserAssertion == "" {
		return nil, fmt.Errorf("%w: empty assertion", oboerrors.ErrInvalidAssertion)
	}
	if req.Scope == "" {
		return nil, fmt.Errorf("missing target scope")
	}

	var token *Token
	operation := func() error {
		var err error
		token, err = e.exchangeOnce(ctx, req)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initialInterval
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, e.maxRetries), ctx))
	if err != nil {
		return nil, err
	}

	slog.Info("on-behalf-of exchange succeeded", "audience", token.Audience, "sub", token.Subject)
	return token, nil
}

func (e *Exchanger) exchangeOnce(ctx context.Context, req Request) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", GrantTypeJWTBearer)
	form.Set("client_id", e.clientID)
	form.Set("client_secret", e.clientSecret)
	form.Set("assertion", req.UserAssertion)
	form.Set("scope", req.Scope)
	form.Set("requested_token_use", "on_behalf_of")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create token request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		slog.Warn("Token endpoint unreachable", "err", err)
		return nil, fmt.Errorf("%w: %v", oboerrors.ErrIdentityProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", oboerrors.ErrIdentityProviderUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		slog.Warn("Token endpoint returned server error", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", oboerrors.ErrIdentityProviderUnavailable, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(e.classifyError(req, resp.StatusCode, body))
	}

	var tr tokenEndpointResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to parse token response: %w", err))
	}
	if tr.AccessToken == "" {
		return nil, backoff.Permanent(fmt.Errorf("token response missing access_token"))
	}

	return e.buildToken(req, tr), nil
}

// classifyError maps an OAuth error payload onto the delegation taxonomy
func (e *Exchanger) classifyError(req Request, status int, body []byte) error {
	var te tokenEndpointError
	if err := json.Unmarshal(body, &te); err != nil {
		return fmt.Errorf("token request failed with status %d", status)
	}

	switch {
	case te.Error == "interaction_required" || te.Error == "consent_required" || te.SubError == "consent_required":
		return &oboerrors.ConsentError{
			Scope:      req.Scope,
			ClientID:   e.clientID,
			OAuthError: te.Error,
		}
	case te.Error == "invalid_grant":
		return fmt.Errorf("%w: %s", oboerrors.ErrInvalidAssertion, te.ErrorDescription)
	default:
		return fmt.Errorf("token request rejected (%s): %s", te.Error, te.ErrorDescription)
	}
}

// buildToken extracts bookkeeping fields from the minted token. The claims
// are read without verification: the token is opaque to this service and
// only the downstream resource verifies it.
func (e *Exchanger) buildToken(req Request, tr tokenEndpointResponse) *Token {
	token := &Token{
		AccessToken: tr.AccessToken,
		Audience:    ResourceFromScope(req.Scope),
	}
	if tr.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	if tok, err := jwt.ParseInsecure([]byte(tr.AccessToken)); err == nil {
		token.Subject = tok.Subject()
		if len(tok.Audience()) > 0 {
			token.Audience = tok.Audience()[0]
		}
		if exp := tok.Expiration(); !exp.IsZero() {
			token.ExpiresAt = exp
		}
	}

	return token
}

// ResourceFromScope derives the resource audience from a ".default" scope,
// e.g. "https://vault.example.com/.default" -> "https://vault.example.com"
func ResourceFromScope(scope string) string {
	return strings.TrimSuffix(scope, "/.default")
}

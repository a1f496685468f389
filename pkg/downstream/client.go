package downstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/sync/singleflight"

	"github.com/tendant/simple-obo/pkg/obo"
	"github.com/tendant/simple-obo/pkg/oboerrors"
)

// DefaultExpiryMargin is the safety margin before a cached delegated token's
// expiry at which a silent re-exchange is triggered
const DefaultExpiryMargin = 2 * time.Minute

// maxErrorBodyBytes bounds how much upstream response body a StatusError
// carries. Upstream error text is diagnostic, not something to relay
// verbatim to callers.
const maxErrorBodyBytes = 512

// Descriptor identifies a logical downstream call
type Descriptor struct {
	// Path relative to the client's base URL, e.g. "/keyvault"
	Path string
	// Scopes the delegated token must carry for this call
	Scopes []string
}

// StatusError is returned when the downstream API answers with a non-success
// status. It carries the status code and a bounded excerpt of the body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream call failed with status %d: %s", e.StatusCode, e.Body)
}

// NewStatusError builds a StatusError with the body excerpt bounded
func NewStatusError(statusCode int, body []byte) *StatusError {
	return &StatusError{
		StatusCode: statusCode,
		Body:       truncate(string(body), maxErrorBodyBytes),
	}
}

// Classify maps an error from a downstream call to an error code. A
// non-success answer from the downstream API itself classifies as a
// downstream error; everything else classifies by its delegation cause.
func Classify(err error) oboerrors.ErrorCode {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return oboerrors.ErrCodeDownstreamError
	}
	return oboerrors.ClassifyDelegationError(err)
}

// Client calls a downstream API on behalf of a user. Delegated tokens are
// acquired silently through the exchanger and cached per
// (subject, audience, scope set), honoring expiry with a safety margin.
type Client struct {
	baseURL    string
	exchanger  *obo.Exchanger
	httpClient *http.Client
	margin     time.Duration

	mu     sync.RWMutex
	tokens map[string]*obo.Token
	group  singleflight.Group
}

// Option is a function that configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for downstream calls
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithExpiryMargin sets the safety margin before token expiry
func WithExpiryMargin(margin time.Duration) Option {
	return func(c *Client) {
		c.margin = margin
	}
}

// NewClient creates a downstream API client backed by the given exchanger
func NewClient(baseURL string, exchanger *obo.Exchanger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		exchanger:  exchanger,
		httpClient: http.DefaultClient,
		margin:     DefaultExpiryMargin,
		tokens:     make(map[string]*obo.Token),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallForUser performs the described downstream call on behalf of the user
// identified by userToken, attaching a delegated token acquired silently.
// A ConsentError from the exchange is passed through unchanged so callers
// can raise an interactive challenge; it is never retried here.
func (c *Client) CallForUser(ctx context.Context, userToken string, d Descriptor) ([]byte, error) {
	token, err := c.delegatedToken(ctx, userToken, d.Scopes)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+d.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create downstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call downstream api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read downstream response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		slog.Warn("Downstream call failed", "path", d.Path, "status", resp.StatusCode)
		return nil, NewStatusError(resp.StatusCode, body)
	}

	return body, nil
}

// TokenForUser returns a delegated token for the user identified by
// userToken, valid for the given scope set. The token comes from the same
// cache CallForUser uses, so typed clients can share silent re-exchange.
func (c *Client) TokenForUser(ctx context.Context, userToken string, scopes []string) (*obo.Token, error) {
	return c.delegatedToken(ctx, userToken, scopes)
}

// delegatedToken returns a cached token for (subject, audience, scope set),
// re-exchanging silently when missing or inside the expiry margin.
// Concurrent refreshes for the same key are collapsed to one exchange.
func (c *Client) delegatedToken(ctx context.Context, userToken string, scopes []string) (*obo.Token, error) {
	if len(scopes) == 0 {
		return nil, fmt.Errorf("descriptor has no required scopes")
	}

	subject, err := subjectOf(userToken)
	if err != nil {
		return nil, err
	}

	scope := normalizeScopes(scopes)
	key := subject + "|" + obo.ResourceFromScope(scopes[0]) + "|" + scope

	c.mu.RLock()
	token, ok := c.tokens[key]
	c.mu.RUnlock()
	if ok && !token.Expired(c.margin) {
		return token, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under singleflight: another caller may have refreshed
		c.mu.RLock()
		token, ok := c.tokens[key]
		c.mu.RUnlock()
		if ok && !token.Expired(c.margin) {
			return token, nil
		}

		slog.Debug("acquiring delegated token", "sub", subject, "scope", scope)
		fresh, err := c.exchanger.Exchange(ctx, obo.Request{
			UserAssertion: userToken,
			Scope:         scope,
		})
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.pruneExpiredLocked()
		c.tokens[key] = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*obo.Token), nil
}

// pruneExpiredLocked drops cache entries already inside the expiry margin
// so the map does not grow with dead tokens. Caller holds c.mu.
func (c *Client) pruneExpiredLocked() {
	for key, token := range c.tokens {
		if token.Expired(c.margin) {
			delete(c.tokens, key)
		}
	}
}

func subjectOf(userToken string) (string, error) {
	tok, err := jwt.ParseInsecure([]byte(userToken))
	if err != nil {
		return "", fmt.Errorf("%w: %v", oboerrors.ErrInvalidAssertion, err)
	}
	return tok.Subject(), nil
}

// normalizeScopes joins the scope set in a stable order
func normalizeScopes(scopes []string) string {
	sorted := make([]string, len(scopes))
	copy(sorted, scopes)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

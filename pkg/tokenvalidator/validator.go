package tokenvalidator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Validation failure kinds. Validate wraps these so callers can classify
// with errors.Is.
var (
	ErrMalformed         = errors.New("malformed bearer token")
	ErrBadSignature      = errors.New("token signature verification failed")
	ErrWrongIssuer       = errors.New("token issued by wrong issuer")
	ErrWrongAudience     = errors.New("token issued for wrong audience")
	ErrExpired           = errors.New("token expired")
	ErrInsufficientScope = errors.New("token missing required scope")
)

// Claims is the verified identity extracted from a valid bearer token
type Claims struct {
	Subject           string
	TenantID          string
	Scopes            []string
	PreferredUsername string
	ExpiresAt         time.Time
	// RawToken is the compact serialized token the claims were extracted
	// from, kept so it can be forwarded as a user assertion downstream.
	RawToken string
}

// HasScope reports whether the token's scope claim contains the given scope
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RequireScope returns ErrInsufficientScope when the claim set lacks the scope
func (c *Claims) RequireScope(scope string) error {
	if !c.HasScope(scope) {
		return fmt.Errorf("%w: %s", ErrInsufficientScope, scope)
	}
	return nil
}

// Validator validates inbound bearer tokens against the identity provider's
// signing keys and the expected issuer/audience pair.
type Validator struct {
	keys     *KeyCache
	issuer   string
	audience string
}

// NewValidator creates a validator using the given signing-key cache
func NewValidator(keys *KeyCache, issuer, audience string) *Validator {
	return &Validator{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
	}
}

// Validate verifies a raw Authorization header value and extracts the claims
// identity. The returned error wraps one of the validation failure kinds.
func (v *Validator) Validate(ctx context.Context, authorizationHeader string) (*Claims, error) {
	raw, err := extractBearer(authorizationHeader)
	if err != nil {
		return nil, err
	}

	// Structural check first so a garbage token is reported as malformed,
	// not as a signature failure.
	if _, err := jwt.ParseInsecure([]byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	set, err := v.keys.Keyset(ctx)
	if err != nil {
		slog.Error("Failed getting signing keys", "err", err)
		return nil, fmt.Errorf("failed to get signing keys: %w", err)
	}

	tok, err := jwt.Parse([]byte(raw), jwt.WithKeySet(set), jwt.WithValidate(false))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	if tok.Issuer() != v.issuer {
		return nil, fmt.Errorf("%w: got %q", ErrWrongIssuer, tok.Issuer())
	}
	if !hasAudience(tok.Audience(), v.audience) {
		return nil, fmt.Errorf("%w: got %v", ErrWrongAudience, tok.Audience())
	}
	if exp := tok.Expiration(); !exp.IsZero() && time.Now().After(exp) {
		return nil, fmt.Errorf("%w: at %s", ErrExpired, tok.Expiration().UTC().Format(time.RFC3339))
	}

	claims := &Claims{
		Subject:   tok.Subject(),
		Scopes:    scopesFromToken(tok),
		ExpiresAt: tok.Expiration(),
		RawToken:  raw,
	}
	if tid, ok := tok.Get("tid"); ok {
		claims.TenantID, _ = tid.(string)
	}
	if name, ok := tok.Get("preferred_username"); ok {
		claims.PreferredUsername, _ = name.(string)
	}

	slog.Debug("validated bearer token", "sub", claims.Subject, "scopes", claims.Scopes)
	return claims, nil
}

// ValidateScope validates the header and additionally requires one scope
func (v *Validator) ValidateScope(ctx context.Context, authorizationHeader, scope string) (*Claims, error) {
	claims, err := v.Validate(ctx, authorizationHeader)
	if err != nil {
		return nil, err
	}
	if err := claims.RequireScope(scope); err != nil {
		return nil, err
	}
	return claims, nil
}

func extractBearer(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: missing Authorization header", ErrMalformed)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("%w: expected Bearer scheme", ErrMalformed)
	}
	return strings.TrimSpace(parts[1]), nil
}

func hasAudience(audiences []string, want string) bool {
	for _, aud := range audiences {
		if aud == want {
			return true
		}
	}
	return false
}

// scopesFromToken reads the space-delimited scope claim. Both "scp" and
// "scope" spellings occur in the wild.
func scopesFromToken(tok jwt.Token) []string {
	for _, claim := range []string{"scp", "scope"} {
		if v, ok := tok.Get(claim); ok {
			if s, ok := v.(string); ok && s != "" {
				return strings.Fields(s)
			}
		}
	}
	return nil
}

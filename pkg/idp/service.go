package idp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Default token lifetimes
const (
	DefaultUserTokenExpiry      = 1 * time.Hour
	DefaultDelegatedTokenExpiry = 30 * time.Minute
)

// GrantTypeJWTBearer is the on-behalf-of grant type accepted by the token
// endpoint
const GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// OAuthError is an OAuth2-shaped token endpoint error
type OAuthError struct {
	Code        string `json:"error"`
	SubError    string `json:"suberror,omitempty"`
	Description string `json:"error_description,omitempty"`
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// ExchangeRequest is an on-behalf-of exchange as seen by the token endpoint
type ExchangeRequest struct {
	ClientID     string
	ClientSecret string
	Assertion    string
	Scope        string
}

// ExchangeResponse is the token endpoint success payload
type ExchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// tokenClaims carries the claims the stub mints
type tokenClaims struct {
	Scope             string `json:"scp,omitempty"`
	TenantID          string `json:"tid,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// Service is a local identity provider stub for development and tests. It
// mints RS256 user tokens, publishes the matching JWKS, and implements the
// on-behalf-of grant contract including a per-client consent table. It is
// a stand-in for the real identity provider's contract, not its internals.
type Service struct {
	issuer     string
	tenantID   string
	privateKey *rsa.PrivateKey
	keyID      string

	userTokenExpiry      time.Duration
	delegatedTokenExpiry time.Duration

	mu       sync.Mutex
	clients  map[string]string
	consents map[string]map[string]bool
}

// Option is a function that configures a Service
type Option func(*Service)

// WithPrivateKey sets the signing key instead of generating one
func WithPrivateKey(key *rsa.PrivateKey) Option {
	return func(s *Service) {
		s.privateKey = key
	}
}

// WithTenantID sets the tenant id stamped into minted tokens
func WithTenantID(tenantID string) Option {
	return func(s *Service) {
		s.tenantID = tenantID
	}
}

// WithUserTokenExpiry sets the user token lifetime
func WithUserTokenExpiry(expiry time.Duration) Option {
	return func(s *Service) {
		s.userTokenExpiry = expiry
	}
}

// WithDelegatedTokenExpiry sets the delegated token lifetime
func WithDelegatedTokenExpiry(expiry time.Duration) Option {
	return func(s *Service) {
		s.delegatedTokenExpiry = expiry
	}
}

// NewService creates an identity provider stub for the given issuer,
// generating a 2048-bit RSA signing key when none is provided
func NewService(issuer string, opts ...Option) (*Service, error) {
	s := &Service{
		issuer:               issuer,
		userTokenExpiry:      DefaultUserTokenExpiry,
		delegatedTokenExpiry: DefaultDelegatedTokenExpiry,
		clients:              make(map[string]string),
		consents:             make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.privateKey == nil {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		s.privateKey = key
	}

	keyID, err := keyFingerprint(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key id: %w", err)
	}
	s.keyID = keyID

	return s, nil
}

// KeyID returns the kid of the signing key
func (s *Service) KeyID() string {
	return s.keyID
}

// Issuer returns the issuer identifier
func (s *Service) Issuer() string {
	return s.issuer
}

// RegisterClient registers a confidential client and its secret
func (s *Service) RegisterClient(clientID, clientSecret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientID] = clientSecret
}

// GrantConsent records that the client may request delegated tokens for the
// given scope
func (s *Service) GrantConsent(clientID, scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consents[clientID] == nil {
		s.consents[clientID] = make(map[string]bool)
	}
	s.consents[clientID][scope] = true
}

// RevokeConsent removes a previously granted consent
func (s *Service) RevokeConsent(clientID, scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consents[clientID] != nil {
		delete(s.consents[clientID], scope)
	}
}

// JWKS returns the public key set as a serialized JWKS document
func (s *Service) JWKS() (json.RawMessage, error) {
	key, err := jwk.FromRaw(s.privateKey.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to build JWK: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, s.keyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, err
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("failed to add key to set: %w", err)
	}

	doc, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JWKS: %w", err)
	}
	return doc, nil
}

// MintUserToken mints a user token for the given subject, audience and
// scopes, as the real identity provider would after an interactive login
func (s *Service) MintUserToken(subject, audience string, scopes []string, preferredUsername string) (string, time.Time, error) {
	return s.mint(subject, audience, strings.Join(scopes, " "), preferredUsername, s.userTokenExpiry)
}

// ExchangeOnBehalfOf implements the on-behalf-of grant: it authenticates
// the client, verifies the user assertion, checks consent, and mints a
// delegated token preserving the assertion's subject while retargeting the
// audience to the requested resource.
func (s *Service) ExchangeOnBehalfOf(req ExchangeRequest) (*ExchangeResponse, error) {
	s.mu.Lock()
	secret, known := s.clients[req.ClientID]
	consented := s.consents[req.ClientID][req.Scope]
	s.mu.Unlock()

	if !known || secret != req.ClientSecret {
		return nil, &OAuthError{Code: "invalid_client", Description: "client authentication failed"}
	}

	claims, err := s.verifyAssertion(req.Assertion)
	if err != nil {
		return nil, &OAuthError{Code: "invalid_grant", Description: err.Error()}
	}

	if !consented {
		return nil, &OAuthError{
			Code:        "interaction_required",
			SubError:    "consent_required",
			Description: fmt.Sprintf("AADSTS65001: the user or administrator has not consented to scope %q for client %q", req.Scope, req.ClientID),
		}
	}

	audience := strings.TrimSuffix(req.Scope, "/.default")
	token, expiresAt, err := s.mint(claims.Subject, audience, req.Scope, claims.PreferredUsername, s.delegatedTokenExpiry)
	if err != nil {
		return nil, &OAuthError{Code: "server_error", Description: err.Error()}
	}

	slog.Info("minted delegated token", "client", req.ClientID, "sub", claims.Subject, "audience", audience)

	return &ExchangeResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
		Scope:       req.Scope,
	}, nil
}

// verifyAssertion checks the user assertion was signed by this issuer and
// is not expired
func (s *Service) verifyAssertion(assertion string) (*tokenClaims, error) {
	if assertion == "" {
		return nil, fmt.Errorf("missing assertion")
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(assertion, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.privateKey.Public(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("assertion rejected: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("assertion rejected")
	}
	return claims, nil
}

func (s *Service) mint(subject, audience, scope, preferredUsername string, expiry time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(expiry)

	claims := tokenClaims{
		Scope:             scope,
		TenantID:          s.tenantID,
		PreferredUsername: preferredUsername,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
			Issuer:    s.issuer,
			Subject:   subject,
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{audience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		slog.Error("Failed signing token", "err", err)
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// keyFingerprint derives a stable key id from the public key
func keyFingerprint(key *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8]), nil
}

package idp

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// Handler exposes the identity provider stub over HTTP
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the token endpoint, the key discovery endpoints and
// the development mint helper
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/.well-known/openid-configuration", h.OpenIDConfiguration)
	r.Get("/keys", h.Keys)
	r.Post("/oauth2/token", h.Token)
	r.Post("/mint", h.Mint)
}

// DiscoveryDocument is the subset of OpenID Connect metadata the stub serves
type DiscoveryDocument struct {
	Issuer                 string   `json:"issuer"`
	TokenEndpoint          string   `json:"token_endpoint"`
	JwksURI                string   `json:"jwks_uri"`
	GrantTypesSupported    []string `json:"grant_types_supported"`
	IDTokenSigningAlgs     []string `json:"id_token_signing_alg_values_supported"`
	ResponseTypesSupported []string `json:"response_types_supported"`
}

func (h *Handler) OpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	issuer := h.service.Issuer()
	doc := DiscoveryDocument{
		Issuer:                 issuer,
		TokenEndpoint:          issuer + "/oauth2/token",
		JwksURI:                issuer + "/keys",
		GrantTypesSupported:    []string{GrantTypeJWTBearer},
		IDTokenSigningAlgs:     []string{"RS256"},
		ResponseTypesSupported: []string{"token"},
	}
	render.JSON(w, r, doc)
}

func (h *Handler) Keys(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.JWKS()
	if err != nil {
		slog.Error("Failed building JWKS", "err", err)
		http.Error(w, "failed to build key set", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}

// Token handles POST /oauth2/token. Only the on-behalf-of flavor of the
// jwt-bearer grant is supported.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderOAuthError(w, r, &OAuthError{Code: "invalid_request", Description: "malformed form body"})
		return
	}

	if grantType := r.PostFormValue("grant_type"); grantType != GrantTypeJWTBearer {
		renderOAuthError(w, r, &OAuthError{Code: "unsupported_grant_type", Description: "only the jwt-bearer grant is supported"})
		return
	}
	if use := r.PostFormValue("requested_token_use"); use != "on_behalf_of" {
		renderOAuthError(w, r, &OAuthError{Code: "invalid_request", Description: "requested_token_use must be on_behalf_of"})
		return
	}

	resp, err := h.service.ExchangeOnBehalfOf(ExchangeRequest{
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
		Assertion:    r.PostFormValue("assertion"),
		Scope:        r.PostFormValue("scope"),
	})
	if err != nil {
		var oauthErr *OAuthError
		if errors.As(err, &oauthErr) {
			renderOAuthError(w, r, oauthErr)
			return
		}
		slog.Error("Token exchange failed", "err", err)
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, resp)
}

// MintRequest is the development helper payload for minting a user token
type MintRequest struct {
	Subject           string   `json:"subject"`
	Audience          string   `json:"audience"`
	Scopes            []string `json:"scopes"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
}

// MintResponse carries a freshly minted user token
type MintResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Mint handles POST /mint. It exists so local setups can obtain a signed
// user token without an interactive login.
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Subject == "" {
		http.Error(w, "subject is required", http.StatusBadRequest)
		return
	}

	token, expiresAt, err := h.service.MintUserToken(req.Subject, req.Audience, req.Scopes, req.PreferredUsername)
	if err != nil {
		slog.Error("Failed minting token", "err", err)
		http.Error(w, "failed to mint token", http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, MintResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
	})
}

func renderOAuthError(w http.ResponseWriter, r *http.Request, oauthErr *OAuthError) {
	status := http.StatusBadRequest
	if oauthErr.Code == "invalid_client" {
		status = http.StatusUnauthorized
	}
	render.Status(r, status)
	render.JSON(w, r, oauthErr)
}

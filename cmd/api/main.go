package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-obo/pkg/downstream"
	"github.com/tendant/simple-obo/pkg/obo"
	"github.com/tendant/simple-obo/pkg/oboerrors"
	"github.com/tendant/simple-obo/pkg/secrets"
	"github.com/tendant/simple-obo/pkg/tokenvalidator"
)

type OidcConfig struct {
	Issuer   string `env:"OIDC_ISSUER" env-default:"http://localhost:4100"`
	JwksURL  string `env:"OIDC_JWKS_URL" env-default:"http://localhost:4100/keys"`
	Audience string `env:"OIDC_AUDIENCE" env-default:"api://simple-obo-api"`
	TokenURL string `env:"OIDC_TOKEN_URL" env-default:"http://localhost:4100/oauth2/token"`
}

type OboConfig struct {
	ClientID     string `env:"OBO_CLIENT_ID" env-default:"simple-obo-api"`
	ClientSecret string `env:"OBO_CLIENT_SECRET" env-default:"api-secret"`
	VaultScope   string `env:"OBO_VAULT_SCOPE" env-default:"https://vault.azure.net/.default"`
}

type VaultConfig struct {
	BaseURL    string `env:"VAULT_BASE_URL" env-default:"http://localhost:4200"`
	SecretName string `env:"VAULT_SECRET_NAME" env-default:"my-secret"`
}

type Config struct {
	OidcConfig  OidcConfig
	OboConfig   OboConfig
	VaultConfig VaultConfig
	AppConfig   app.AppConfig
}

// ProtectedScope is the scope required on /hi and /keyvault
const ProtectedScope = "api1.readwrite"

type HiResponse struct {
	Message string `json:"message"`
}

type TokenInfoResponse struct {
	Subject   string   `json:"subject"`
	Username  string   `json:"username,omitempty"`
	Scopes    []string `json:"scopes"`
	ExpiresAt string   `json:"expires_at"`
}

type KeyVaultResponse struct {
	Secret string `json:"secret"`
}

func main() {
	config := Config{}
	cleanenv.ReadEnv(&config)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	keys, err := tokenvalidator.NewKeyCache(context.Background(), config.OidcConfig.JwksURL)
	if err != nil {
		slog.Error("Failed creating key cache", "jwksUrl", config.OidcConfig.JwksURL, "err", err)
		os.Exit(-1)
	}
	defer keys.Shutdown()

	validator := tokenvalidator.NewValidator(keys, config.OidcConfig.Issuer, config.OidcConfig.Audience)

	exchanger := obo.NewExchanger(
		config.OidcConfig.TokenURL,
		config.OboConfig.ClientID,
		config.OboConfig.ClientSecret,
	)

	vault := downstream.NewClient(config.VaultConfig.BaseURL, exchanger)
	secretsService := secrets.NewService(vault, secrets.NewClient(config.VaultConfig.BaseURL), config.OboConfig.VaultScope)

	server.R.Group(func(r chi.Router) {
		r.Use(tokenvalidator.Authenticate(validator))
		r.Use(tokenvalidator.RequireScope(ProtectedScope))

		r.Get("/hi", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, HiResponse{Message: "Hi from the following scope: " + ProtectedScope})
		})

		r.Get("/token", func(w http.ResponseWriter, r *http.Request) {
			claims := tokenvalidator.GetClaims(r)
			if claims == nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			render.JSON(w, r, TokenInfoResponse{
				Subject:   claims.Subject,
				Username:  claims.PreferredUsername,
				Scopes:    claims.Scopes,
				ExpiresAt: claims.ExpiresAt.UTC().Format(time.RFC3339),
			})
		})

		r.Get("/keyvault", func(w http.ResponseWriter, r *http.Request) {
			claims := tokenvalidator.GetClaims(r)
			if claims == nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			secret, err := secretsService.GetSecretForUser(r.Context(), claims.RawToken,
				config.VaultConfig.SecretName)
			if err != nil {
				slog.Error("Failed reading vault secret", "secret", config.VaultConfig.SecretName, "err", err)
				status := oboerrors.MapErrorCodeToHTTPStatus(downstream.Classify(err))
				http.Error(w, http.StatusText(status), status)
				return
			}
			render.JSON(w, r, KeyVaultResponse{Secret: secret.Value})
		})
	})

	slog.Info("API ready", "issuer", config.OidcConfig.Issuer, "audience", config.OidcConfig.Audience)

	server.Run()
}

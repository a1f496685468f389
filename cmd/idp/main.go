package main

import (
	"log/slog"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-obo/pkg/idp"
)

type IdpConfig struct {
	Issuer   string `env:"IDP_ISSUER" env-default:"http://localhost:4100"`
	TenantID string `env:"IDP_TENANT_ID" env-default:"local-tenant"`
}

// ClientConfig seeds one confidential client with pre-granted consents.
// Defaults mirror a local two-hop setup: the API delegates to the vault,
// the worker delegates to the blob store.
type ClientConfig struct {
	ApiClientID      string `env:"IDP_API_CLIENT_ID" env-default:"simple-obo-api"`
	ApiClientSecret  string `env:"IDP_API_CLIENT_SECRET" env-default:"api-secret"`
	ApiScope         string `env:"IDP_API_CONSENT_SCOPE" env-default:"https://vault.azure.net/.default"`
	WorkClientID     string `env:"IDP_WORKER_CLIENT_ID" env-default:"simple-obo-worker"`
	WorkClientSecret string `env:"IDP_WORKER_CLIENT_SECRET" env-default:"worker-secret"`
	WorkScope        string `env:"IDP_WORKER_CONSENT_SCOPE" env-default:"https://storage.azure.com/.default"`
}

type Config struct {
	IdpConfig    IdpConfig
	ClientConfig ClientConfig
	AppConfig    app.AppConfig
}

func main() {
	config := Config{}
	cleanenv.ReadEnv(&config)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	service, err := idp.NewService(config.IdpConfig.Issuer,
		idp.WithTenantID(config.IdpConfig.TenantID))
	if err != nil {
		slog.Error("Failed creating identity provider", "err", err)
		os.Exit(-1)
	}

	service.RegisterClient(config.ClientConfig.ApiClientID, config.ClientConfig.ApiClientSecret)
	service.GrantConsent(config.ClientConfig.ApiClientID, config.ClientConfig.ApiScope)
	service.RegisterClient(config.ClientConfig.WorkClientID, config.ClientConfig.WorkClientSecret)
	service.GrantConsent(config.ClientConfig.WorkClientID, config.ClientConfig.WorkScope)

	handler := idp.NewHandler(service)
	handler.RegisterRoutes(server.R)

	slog.Info("Identity provider ready", "issuer", config.IdpConfig.Issuer, "kid", service.KeyID())

	server.Run()
}

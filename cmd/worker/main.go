package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-obo/pkg/blobstore"
	"github.com/tendant/simple-obo/pkg/obo"
	"github.com/tendant/simple-obo/pkg/orchestration"
	orchapi "github.com/tendant/simple-obo/pkg/orchestration/api"
	"github.com/tendant/simple-obo/pkg/tokenvalidator"
)

// Orchestration and activity names registered with the engine
const (
	OrchestrationName = "RunOrchestrator"
	ActivityName      = "CallActivityFunction"
)

type OrchDbConfig struct {
	Enabled  bool   `env:"ORCH_PG_ENABLED" env-default:"false"`
	Host     string `env:"ORCH_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"ORCH_PG_PORT" env-default:"5432"`
	Database string `env:"ORCH_PG_DATABASE" env-default:"orch_db"`
	User     string `env:"ORCH_PG_USER" env-default:"orch"`
	Password string `env:"ORCH_PG_PASSWORD" env-default:"pwd"`
}

type OidcConfig struct {
	Issuer   string `env:"OIDC_ISSUER" env-default:"http://localhost:4100"`
	JwksURL  string `env:"OIDC_JWKS_URL" env-default:"http://localhost:4100/keys"`
	Audience string `env:"OIDC_AUDIENCE" env-default:"api://simple-obo-worker"`
	TokenURL string `env:"OIDC_TOKEN_URL" env-default:"http://localhost:4100/oauth2/token"`
}

type OboConfig struct {
	ClientID     string `env:"OBO_CLIENT_ID" env-default:"simple-obo-worker"`
	ClientSecret string `env:"OBO_CLIENT_SECRET" env-default:"worker-secret"`
	StorageScope string `env:"OBO_STORAGE_SCOPE" env-default:"https://storage.azure.com/.default"`
}

type StorageConfig struct {
	BaseURL   string `env:"STORAGE_BASE_URL" env-default:"http://localhost:4300"`
	Container string `env:"STORAGE_CONTAINER" env-default:"xyz"`
}

type EngineConfig struct {
	MaxConcurrent int `env:"ENGINE_MAX_CONCURRENT" env-default:"8"`
}

type Config struct {
	OrchDbConfig  OrchDbConfig
	OidcConfig    OidcConfig
	OboConfig     OboConfig
	StorageConfig StorageConfig
	EngineConfig  EngineConfig
	AppConfig     app.AppConfig
}

func (d OrchDbConfig) toDbConfig() dbutils.DbConfig {
	var dbConfig dbutils.DbConfig
	copier.Copy(&dbConfig, &d)
	return dbConfig
}

func main() {
	config := Config{}
	cleanenv.ReadEnv(&config)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	var repository orchestration.Repository
	if config.OrchDbConfig.Enabled {
		dbConfig := config.OrchDbConfig.toDbConfig()
		pool, err := dbutils.NewDbPool(context.Background(), dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
			os.Exit(-1)
		}
		repository = orchestration.NewPostgresRepository(pool)
	} else {
		slog.Info("No database configured, orchestration state is in-memory only")
		repository = orchestration.NewInMemRepository()
	}

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

	storage := blobstore.NewClient(config.StorageConfig.BaseURL)

	engine := orchestration.NewEngine(repository,
		orchestration.WithMaxConcurrent(config.EngineConfig.MaxConcurrent))
	engine.RegisterActivity(ActivityName,
		blobstore.EnumerateActivity(exchanger, storage, config.OboConfig.StorageScope, config.StorageConfig.Container))
	engine.RegisterOrchestrator(OrchestrationName, func(c *orchestration.Context) (string, error) {
		return c.CallActivity(ActivityName, c.Input())
	})

	engine.Start(context.Background())
	defer engine.Shutdown()

	if err := engine.ResumePending(context.Background()); err != nil {
		slog.Error("Failed resuming pending orchestrations", "err", err)
		os.Exit(-1)
	}

	handler := orchapi.NewHandler(engine, validator, OrchestrationName)
	handler.RegisterRoutes(server.R)

	slog.Info("Worker ready", "container", config.StorageConfig.Container)

	server.Run()
}

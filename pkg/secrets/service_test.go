package secrets_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-obo/pkg/downstream"
	"github.com/tendant/simple-obo/pkg/idp"
	"github.com/tendant/simple-obo/pkg/obo"
	"github.com/tendant/simple-obo/pkg/secrets"
)

const (
	clientID     = "api-client"
	clientSecret = "api-secret"
	vaultScope   = "https://vault.local/.default"
)

func newVaultServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/secrets/my-secret" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"name": "my-secret", "value": "s3cr3t"})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_GetSecret(t *testing.T) {
	vault := newVaultServer(t)
	client := secrets.NewClient(vault.URL)

	secret, err := client.GetSecret(context.Background(), "my-secret", "some-token")
	require.NoError(t, err)
	assert.Equal(t, "my-secret", secret.Name)
	assert.Equal(t, "s3cr3t", secret.Value)

	_, err = client.GetSecret(context.Background(), "other-secret", "some-token")
	var statusErr *downstream.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestService_GetSecretForUser(t *testing.T) {
	service, err := idp.NewService("http://idp.local")
	require.NoError(t, err)
	service.RegisterClient(clientID, clientSecret)
	service.GrantConsent(clientID, vaultScope)

	r := chi.NewRouter()
	idp.NewHandler(service).RegisterRoutes(r)

	var exchanges int64
	idpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/oauth2/token" {
			atomic.AddInt64(&exchanges, 1)
		}
		r.ServeHTTP(w, req)
	}))
	t.Cleanup(idpServer.Close)

	assertion, _, err := service.MintUserToken("user-5", "api://protected", nil, "")
	require.NoError(t, err)

	vault := newVaultServer(t)
	exchanger := obo.NewExchanger(idpServer.URL+"/oauth2/token", clientID, clientSecret)
	caller := downstream.NewClient(vault.URL, exchanger)
	readSvc := secrets.NewService(caller, secrets.NewClient(vault.URL), vaultScope)

	secret, err := readSvc.GetSecretForUser(context.Background(), assertion, "my-secret")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", secret.Value)

	// The delegated token is cached across reads
	_, err = readSvc.GetSecretForUser(context.Background(), assertion, "my-secret")
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&exchanges))
}

package tokenvalidator_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-obo/pkg/tokenvalidator"
)

func newGuardedServer(t *testing.T, ti *testIdentity) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(tokenvalidator.Authenticate(ti.validator))
		r.Use(tokenvalidator.RequireScope("api1.readwrite"))
		r.Get("/hi", func(w http.ResponseWriter, r *http.Request) {
			claims := tokenvalidator.GetClaims(r)
			w.Write([]byte("hi " + claims.Subject))
		})
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func get(t *testing.T, url, authorization string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMiddleware_GuardChain(t *testing.T) {
	ti := newTestIdentity(t)
	server := newGuardedServer(t, ti)

	t.Run("NoToken", func(t *testing.T) {
		status, _ := get(t, server.URL+"/hi", "")
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		status, _ := get(t, server.URL+"/hi", "Bearer bogus")
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("MissingScope", func(t *testing.T) {
		token := ti.mint(t, "user-1", []string{"something.else"})
		status, body := get(t, server.URL+"/hi", "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, status)
		assert.Contains(t, body, "insufficient scope")
	})

	t.Run("ValidTokenAndScope", func(t *testing.T) {
		token := ti.mint(t, "user-1", []string{"api1.readwrite"})
		status, body := get(t, server.URL+"/hi", "Bearer "+token)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "hi user-1", body)
	})
}

func TestGetClaims_OutsideMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, tokenvalidator.GetClaims(req))
}

package blobstore_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-obo/pkg/blobstore"
	"github.com/tendant/simple-obo/pkg/downstream"
	"github.com/tendant/simple-obo/pkg/idp"
	"github.com/tendant/simple-obo/pkg/obo"
	"github.com/tendant/simple-obo/pkg/oboerrors"
)

const (
	clientID     = "worker-client"
	clientSecret = "worker-secret"
	storageScope = "https://storage.local/.default"
	container    = "xyz"
)

func newStorageServer(t *testing.T, names ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/"+container || r.URL.Query().Get("comp") != "list" {
			http.NotFound(w, r)
			return
		}
		blobs := make([]map[string]string, 0, len(names))
		for _, name := range names {
			blobs = append(blobs, map[string]string{"name": name})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"blobs": blobs})
	}))
	t.Cleanup(server.Close)
	return server
}

func newWorkerFixture(t *testing.T) (*idp.Service, *obo.Exchanger, string) {
	t.Helper()

	service, err := idp.NewService("http://idp.local")
	require.NoError(t, err)
	service.RegisterClient(clientID, clientSecret)
	service.GrantConsent(clientID, storageScope)

	r := chi.NewRouter()
	idp.NewHandler(service).RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	assertion, _, err := service.MintUserToken("user-3", "api://worker", nil, "")
	require.NoError(t, err)

	exchanger := obo.NewExchanger(server.URL+"/oauth2/token", clientID, clientSecret)
	return service, exchanger, assertion
}

func TestClient_ListBlobs(t *testing.T) {
	storage := newStorageServer(t, "a.txt", "b.txt")
	client := blobstore.NewClient(storage.URL)

	names, err := client.ListBlobs(context.Background(), container, "some-token")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestClient_ListBlobsUnauthorized(t *testing.T) {
	storage := newStorageServer(t)
	client := blobstore.NewClient(storage.URL)

	_, err := client.ListBlobs(context.Background(), container, "")
	var statusErr *downstream.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "missing token")
}

func TestEnumerateActivity(t *testing.T) {
	ctx := context.Background()

	t.Run("EnumeratesThroughDelegation", func(t *testing.T) {
		_, exchanger, assertion := newWorkerFixture(t)
		storage := newStorageServer(t, "report.pdf", "data.csv")

		activity := blobstore.EnumerateActivity(exchanger, blobstore.NewClient(storage.URL), storageScope, container)
		output, err := activity(ctx, assertion)
		require.NoError(t, err)

		var result blobstore.EnumerationResult
		require.NoError(t, json.Unmarshal([]byte(output), &result))
		assert.Equal(t, []string{"report.pdf", "data.csv"}, result.Blobs)
	})

	t.Run("ConsentMissing", func(t *testing.T) {
		service, exchanger, assertion := newWorkerFixture(t)
		service.RevokeConsent(clientID, storageScope)
		storage := newStorageServer(t, "report.pdf")

		activity := blobstore.EnumerateActivity(exchanger, blobstore.NewClient(storage.URL), storageScope, container)
		_, err := activity(ctx, assertion)

		require.Error(t, err)
		assert.Equal(t, oboerrors.ErrCodeConsentRequired, oboerrors.GetCode(err))
	})

	t.Run("StorageError", func(t *testing.T) {
		_, exchanger, assertion := newWorkerFixture(t)
		storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "storage on fire", http.StatusInternalServerError)
		}))
		t.Cleanup(storage.Close)

		activity := blobstore.EnumerateActivity(exchanger, blobstore.NewClient(storage.URL), storageScope, container)
		_, err := activity(ctx, assertion)

		// A failure from the store itself is a downstream error, not a
		// delegation one
		require.Error(t, err)
		assert.Equal(t, oboerrors.ErrCodeDownstreamError, oboerrors.GetCode(err))
	})

	t.Run("BadAssertion", func(t *testing.T) {
		_, exchanger, _ := newWorkerFixture(t)
		storage := newStorageServer(t, "report.pdf")

		activity := blobstore.EnumerateActivity(exchanger, blobstore.NewClient(storage.URL), storageScope, container)
		_, err := activity(ctx, "garbage")

		require.Error(t, err)
		assert.Equal(t, oboerrors.ErrCodeInvalidAssertion, oboerrors.GetCode(err))
	})
}

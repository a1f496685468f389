package oboerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAndClassify(t *testing.T) {
	cause := fmt.Errorf("%w: status 503", ErrIdentityProviderUnavailable)
	wrapped := Wrap(cause, ClassifyDelegationError(cause), "delegation failed")

	assert.Equal(t, ErrCodeIdPUnavailable, GetCode(wrapped))
	assert.True(t, errors.Is(wrapped, ErrIdentityProviderUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, wrapped.HTTPStatusCode())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))
}

func TestClassifyDelegationError(t *testing.T) {
	consent := &ConsentError{Scope: "s", ClientID: "c", OAuthError: "consent_required"}
	assert.Equal(t, ErrCodeConsentRequired, ClassifyDelegationError(consent))

	// Consent wins even when other sentinels are in the chain
	both := fmt.Errorf("outer: %w", consent)
	assert.Equal(t, ErrCodeConsentRequired, ClassifyDelegationError(both))

	assert.Equal(t, ErrCodeInvalidAssertion, ClassifyDelegationError(fmt.Errorf("%w: expired", ErrInvalidAssertion)))
	assert.Equal(t, ErrCodeInternal, ClassifyDelegationError(errors.New("anything else")))
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, MapErrorCodeToHTTPStatus(ErrCodeInvalidAssertion))
	assert.Equal(t, http.StatusForbidden, MapErrorCodeToHTTPStatus(ErrCodeConsentRequired))
	assert.Equal(t, http.StatusServiceUnavailable, MapErrorCodeToHTTPStatus(ErrCodeIdPUnavailable))
	assert.Equal(t, http.StatusBadGateway, MapErrorCodeToHTTPStatus(ErrCodeDownstreamError))
	assert.Equal(t, http.StatusInternalServerError, MapErrorCodeToHTTPStatus(ErrCodeOrchestrationFailed))
}

func TestGetCodeUnstructured(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("plain")))
}

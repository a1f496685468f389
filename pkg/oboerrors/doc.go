// Package oboerrors provides structured error handling for the delegation chain.
//
// It standardizes the error taxonomy shared by token validation, on-behalf-of
// exchange, downstream calls and orchestration:
//   - Structured Error type with typed error codes
//   - Sentinel errors (ErrIdentityProviderUnavailable, ErrInvalidAssertion)
//     for errors.Is classification
//   - ConsentError, a distinct catchable condition for interactive consent
//     challenges that must never be retried silently
//   - HTTP status code mapping
//
// Basic usage:
//
//	import "github.com/tendant/simple-obo/pkg/oboerrors"
//
//	err := oboerrors.Wrap(cause, oboerrors.ErrCodeIdPUnavailable, "token endpoint unreachable")
//
//	var consent *oboerrors.ConsentError
//	if errors.As(err, &consent) {
//		// raise interactive challenge
//	}
package oboerrors

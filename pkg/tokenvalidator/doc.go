// Package tokenvalidator validates inbound bearer tokens against the
// identity provider's published signing keys.
//
// The KeyCache owns the only shared mutable state: a read-through copy of
// the JWKS document refreshed by a single background task. Readers are
// served the last-known-good key set and never block on a refresh.
//
// Validation failures are classified as wrapped sentinel errors
// (ErrMalformed, ErrBadSignature, ErrWrongIssuer, ErrWrongAudience,
// ErrExpired, ErrInsufficientScope) so handlers can map them to HTTP
// status codes without string matching.
//
// The Authenticate and RequireScope middlewares form an ordered, explicit
// guard chain for chi routers:
//
//	r.Use(tokenvalidator.Authenticate(validator))
//	r.Use(tokenvalidator.RequireScope("api1.readwrite"))
package tokenvalidator

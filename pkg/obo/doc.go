// Package obo implements the OAuth2 on-behalf-of delegation grant.
//
// An Exchanger trades a validated user token plus this service's own client
// credentials for a new token scoped to one downstream resource. The user's
// identity is preserved: subject(result) == subject(assertion), only the
// audience changes. A token obtained for one audience is never reused for
// another.
//
// Failure taxonomy (see pkg/oboerrors):
//   - identity provider unreachable or 5xx: retried with bounded
//     exponential backoff, then ErrIdentityProviderUnavailable
//   - consent_required / interaction_required: ConsentError, never retried
//   - invalid_grant (expired or rejected assertion): ErrInvalidAssertion
package obo

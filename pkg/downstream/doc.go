// Package downstream calls an API on behalf of a user, acquiring and
// caching delegated tokens transparently.
//
// Tokens are cached per (subject, audience, scope set) and refreshed
// silently before they expire; concurrent refreshes of the same entry are
// collapsed into a single exchange. Missing consent surfaces as a distinct
// oboerrors.ConsentError for the caller to turn into an interactive
// challenge. Non-success downstream responses become a StatusError with a
// bounded body excerpt, never a raw upstream error relayed verbatim.
package downstream

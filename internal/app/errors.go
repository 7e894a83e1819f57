package app

import "errors"

// Sentinel errors surfaced by the donation workflows. Handlers translate
// these into HTTP responses; none of them ever carries a secret or a stack.
var (
	// ErrMissingCredential means the upgrade flow was invoked without a
	// session cookie. No gateway call is made in this case.
	ErrMissingCredential = errors.New("no session credential present")

	// ErrInvalidCredential means a session cookie was present but failed to
	// decode. The donor must start over with a fresh donation.
	ErrInvalidCredential = errors.New("session credential invalid")

	// ErrInconsistentProviderState means a provider-side follow-up (such as
	// updating a charge we just fetched) failed, leaving the provider in a
	// state we cannot vouch for. Fatal for the request.
	ErrInconsistentProviderState = errors.New("inconsistent provider state")
)

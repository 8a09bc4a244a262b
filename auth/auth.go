// Package auth abstracts the sign-in state collaborator. Bindings never
// authenticate anything themselves; they only ask whether a principal is
// present and observe transitions so live listeners can follow sign-in
// and sign-out.
package auth

// User is the currently signed in principal.
type User struct {
	UID string
}

// Provider reports sign-in state.
type Provider interface {
	// Current returns the signed in user, or nil when signed out.
	Current() *User

	// Observe registers fn for state transitions. fn is called once
	// immediately with the current state, then on every change. The
	// returned remove function unregisters it; remove is idempotent.
	Observe(fn func(*User)) (remove func())
}

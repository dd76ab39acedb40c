package auth

import "crypto/subtle"

// Authenticator verifies instructor credentials. It is an injected
// dependency so the static check can be swapped for a real identity
// provider without touching the handlers.
type Authenticator interface {
	Verify(user, pass string) bool
}

// StaticAuthenticator compares against a single configured credential pair
// in constant time.
type StaticAuthenticator struct {
	user string
	pass string
}

// NewStaticAuthenticator creates an authenticator for one credential pair.
func NewStaticAuthenticator(user, pass string) *StaticAuthenticator {
	return &StaticAuthenticator{user: user, pass: pass}
}

// Verify reports whether the submitted pair matches the configured one.
func (a *StaticAuthenticator) Verify(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.pass)) == 1
	return userOK && passOK
}

package auth

import (
	"errors"
	"net/http"
)

var (
	ErrNoCredentials      = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrInvalidConfig      = errors.New("auth: invalid config")
)

// Authenticator resolves the caller of a request.
//
// Authenticate returns ErrNoCredentials when r carries no credential the
// authenticator understands. Credentials it understands but refuses yield
// ErrInvalidCredentials, ErrTokenExpired or ErrTokenMalformed. Any other
// error is an internal failure. Implementations must be safe for
// concurrent use.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (*Identity, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (*Identity, error) { return f(r) }

// Chain tries each authenticator in order. The first one that finds
// credentials it understands decides the outcome.
type Chain []Authenticator

func (c Chain) Authenticate(r *http.Request) (*Identity, error) {
	for _, a := range c {
		id, err := a.Authenticate(r)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		return id, err
	}
	return nil, ErrNoCredentials
}

// Rejected reports whether err refuses the caller, as opposed to an
// internal failure.
func Rejected(err error) bool {
	for _, target := range []error{ErrNoCredentials, ErrInvalidCredentials, ErrTokenExpired, ErrTokenMalformed} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

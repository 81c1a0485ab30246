package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(id *Identity, err error) Authenticator {
	return AuthenticatorFunc(func(*http.Request) (*Identity, error) { return id, err })
}

func TestChain(t *testing.T) {
	ops := &Identity{Subject: "ops"}
	errBackend := errors.New("backend down")

	tests := []struct {
		name    string
		chain   Chain
		want    *Identity
		wantErr error
	}{
		{"empty", Chain{}, nil, ErrNoCredentials},
		{"none recognise", Chain{static(nil, ErrNoCredentials), static(nil, ErrNoCredentials)}, nil, ErrNoCredentials},
		{"skips to second", Chain{static(nil, ErrNoCredentials), static(ops, nil)}, ops, nil},
		{"first rejection decides", Chain{static(nil, ErrInvalidCredentials), static(ops, nil)}, nil, ErrInvalidCredentials},
		{"internal error stops", Chain{static(nil, errBackend), static(ops, nil)}, nil, errBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.chain.Authenticate(request("", ""))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Same(t, tt.want, id)
		})
	}
}

func TestRejected(t *testing.T) {
	for _, err := range []error{ErrNoCredentials, ErrInvalidCredentials, ErrTokenExpired, ErrTokenMalformed} {
		assert.True(t, Rejected(err), err.Error())
		assert.True(t, Rejected(fmt.Errorf("wrapped: %w", err)))
	}
	assert.False(t, Rejected(errors.New("backend down")))
	assert.False(t, Rejected(nil))
}

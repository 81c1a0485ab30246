package auth

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeys(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(testNow)
	keys := NewAPIKeys(mock,
		APIKey{ID: "ci", Key: "sk_ci", Roles: []string{"writer"}},
		APIKey{ID: "temp", Key: "sk_temp", ExpiresAt: testNow.Add(time.Hour)},
	)
	require.Equal(t, 2, keys.Len())

	id, err := keys.Authenticate(request(APIKeyHeader, "sk_ci"))
	require.NoError(t, err)
	assert.Equal(t, &Identity{Subject: "ci", Method: MethodAPIKey, Roles: []string{"writer"}}, id)

	id, err = keys.Authenticate(request("x-api-key", "  sk_temp "))
	require.NoError(t, err)
	assert.Equal(t, "temp", id.Subject)
	assert.Equal(t, testNow.Add(time.Hour), id.ExpiresAt)

	_, err = keys.Authenticate(request(APIKeyHeader, "sk_other"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = keys.Authenticate(request("", ""))
	assert.ErrorIs(t, err, ErrNoCredentials)

	mock.Add(time.Hour)
	_, err = keys.Authenticate(request(APIKeyHeader, "sk_temp"))
	assert.ErrorIs(t, err, ErrTokenExpired)
	_, err = keys.Authenticate(request(APIKeyHeader, "sk_ci"))
	assert.NoError(t, err, "keys without expiry keep working")
}

func TestAPIKeys_OnlyDigestsHeld(t *testing.T) {
	keys := NewAPIKeys(nil, APIKey{ID: "ci", Key: "sk_plaintext"})
	for _, e := range keys.entries {
		assert.NotContains(t, string(e.digest[:]), "sk_plaintext")
	}
}

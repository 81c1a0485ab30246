package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// APIKeyHeader carries static API keys.
const APIKeyHeader = "X-API-Key"

// APIKey registers one accepted key.
type APIKey struct {
	// ID becomes the Identity subject. The key itself is never exposed.
	ID        string
	Key       string
	Roles     []string
	ExpiresAt time.Time
}

type keyEntry struct {
	id      string
	digest  [sha256.Size]byte
	roles   []string
	expires time.Time
}

// APIKeys authenticates requests by the X-API-Key header. Only SHA-256
// digests of the keys are held.
type APIKeys struct {
	clock   clock.Clock
	entries []keyEntry
}

// NewAPIKeys creates an authenticator accepting keys. A nil clk means the
// wall clock.
func NewAPIKeys(clk clock.Clock, keys ...APIKey) *APIKeys {
	if clk == nil {
		clk = clock.New()
	}
	a := &APIKeys{clock: clk, entries: make([]keyEntry, 0, len(keys))}
	for _, k := range keys {
		a.entries = append(a.entries, keyEntry{
			id:      k.ID,
			digest:  sha256.Sum256([]byte(k.Key)),
			roles:   k.Roles,
			expires: k.ExpiresAt,
		})
	}
	return a
}

// Len returns the number of registered keys.
func (a *APIKeys) Len() int { return len(a.entries) }

// Authenticate compares the presented key against every registered digest
// in constant time, so timing does not reveal which entry matched.
func (a *APIKeys) Authenticate(r *http.Request) (*Identity, error) {
	presented := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if presented == "" {
		return nil, ErrNoCredentials
	}
	digest := sha256.Sum256([]byte(presented))

	match := -1
	for i := range a.entries {
		if subtle.ConstantTimeCompare(digest[:], a.entries[i].digest[:]) == 1 {
			match = i
		}
	}
	if match < 0 {
		return nil, ErrInvalidCredentials
	}

	e := a.entries[match]
	if !e.expires.IsZero() && !a.clock.Now().Before(e.expires) {
		return nil, ErrTokenExpired
	}
	return &Identity{Subject: e.id, Method: MethodAPIKey, Roles: e.roles, ExpiresAt: e.expires}, nil
}

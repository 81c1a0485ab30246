package auth

import (
	"net/http"
	"net/http/httptest"
	"time"
)

var (
	testSecret = []byte("test-secret-key-at-least-32-bytes")
	testNow    = time.Unix(1_700_000_000, 0)
)

func request(header, value string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	if header != "" {
		r.Header.Set(header, value)
	}
	return r
}

func bearer(token string) *http.Request {
	return request("Authorization", "Bearer "+token)
}

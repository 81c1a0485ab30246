package auth

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/you112ef/boltcache/observe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Middleware authenticates every request with authn and stores the
// Identity in its context. Refused callers get 401 and internal failures
// 500, both with a JSON error body. A nil authn admits everyone as
// Anonymous.
//
// The returned function satisfies mux.MiddlewareFunc.
func Middleware(authn Authenticator, logger observe.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if authn == nil {
				next.ServeHTTP(w, r.WithContext(NewContext(ctx, Anonymous())))
				return
			}

			id, err := authn.Authenticate(r)
			if err == nil && id == nil {
				err = ErrInvalidCredentials
			}
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(NewContext(ctx, id)))
			case Rejected(err):
				logger.Debug(ctx, "authentication rejected", observe.F("path", r.URL.Path), observe.Err(err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="boltcache"`)
				writeError(w, http.StatusUnauthorized, err)
			default:
				logger.Error(ctx, "authentication error", observe.F("path", r.URL.Path), observe.Err(err))
				writeError(w, http.StatusInternalServerError, err)
			}
		})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

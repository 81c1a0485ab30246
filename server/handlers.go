package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/you112ef/boltcache/auth"
	"github.com/you112ef/boltcache/cache"
	"github.com/you112ef/boltcache/observe"
	"github.com/you112ef/boltcache/request"
	"github.com/you112ef/boltcache/resilience"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Cache    cache.Stats    `json:"cache"`
	Requests *request.Stats `json:"requests,omitempty"`
}

// KeysResponse is the body of GET /api/v1/keys.
type KeysResponse struct {
	Keys []string `json:"keys"`
}

// InvalidateRequest is the body of POST /api/v1/cache/invalidate.
type InvalidateRequest struct {
	Tags []string `json:"tags"`
}

// RemovedResponse reports how many entries an operation removed.
type RemovedResponse struct {
	Removed int `json:"removed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Cache: s.store.Stats()}
	if s.executor != nil {
		st := s.executor.Stats()
		resp.Requests = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) keysHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, KeysResponse{Keys: s.store.Keys()})
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	v, ok := s.store.Get(r.Context(), key)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("key not found"))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(v)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v)
}

// putHandler stores the request body under {key}. The optional ttl query
// parameter is a Go duration; tag may repeat.
func (s *Server) putHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := mux.Vars(r)["key"]

	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, errors.New("ttl must be a non-negative duration such as 90s"))
			return
		}
		ttl = d
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = s.store.SetE(ctx, key, body, cache.SetOptions{TTL: ttl, Tags: r.URL.Query()["tag"]})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, cache.ErrOversizedItem):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, cache.ErrInvalidKey), errors.Is(err, cache.ErrKeyTooLong):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, cache.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !s.store.Delete(r.Context(), key) {
		writeError(w, http.StatusNotFound, errors.New("key not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.store.Clear(ctx)
	s.audit(ctx, "cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invalidateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req InvalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"tags\": [...]}"))
		return
	}
	if len(req.Tags) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("tags must not be empty"))
		return
	}
	n := s.store.ClearByTags(ctx, req.Tags...)
	s.audit(ctx, "cache invalidated by tags", observe.F("tags", req.Tags), observe.F("removed", n))
	writeJSON(w, http.StatusOK, RemovedResponse{Removed: n})
}

func (s *Server) cleanupHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RemovedResponse{Removed: s.store.Cleanup(r.Context())})
}

// fetchHandler runs GET /api/v1/fetch?resource=... through the executor.
// Optional query parameters: ttl, timeout (durations), retries (int) and
// repeated tag.
func (s *Server) fetchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := callOptions(q.Get("ttl"), q.Get("timeout"), q.Get("retries"), q["tag"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	v, err := s.executor.Request(r.Context(), q.Get("resource"), opts...)
	if err != nil {
		writeError(w, fetchStatus(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v)
}

func callOptions(ttl, timeout, retries string, tags []string) ([]request.CallOption, error) {
	var opts []request.CallOption
	if ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, errors.New("ttl must be a duration such as 5m")
		}
		opts = append(opts, request.WithCacheTTL(d))
	}
	if timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, errors.New("timeout must be a duration such as 2s")
		}
		opts = append(opts, request.WithTimeout(d))
	}
	if retries != "" {
		n, err := strconv.Atoi(retries)
		if err != nil || n < 0 {
			return nil, errors.New("retries must be a non-negative integer")
		}
		opts = append(opts, request.WithRetries(n))
	}
	if len(tags) > 0 {
		opts = append(opts, request.WithTags(tags...))
	}
	return opts, nil
}

// fetchStatus maps executor errors onto gateway-style status codes.
func fetchStatus(err error) int {
	var statusErr *request.StatusError
	switch {
	case errors.Is(err, request.ErrInvalidResource):
		return http.StatusBadRequest
	case errors.Is(err, request.ErrClosed), errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, resilience.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, resilience.ErrRateLimitExceeded), errors.Is(err, resilience.ErrGateFull):
		return http.StatusTooManyRequests
	case errors.As(err, &statusErr), errors.Is(err, resilience.ErrRetriesExhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) clearRequestsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n := s.executor.ClearRequestCache(ctx)
	s.audit(ctx, "request cache cleared", observe.F("removed", n))
	writeJSON(w, http.StatusOK, RemovedResponse{Removed: n})
}

// audit logs a destructive operation with the caller's principal.
func (s *Server) audit(ctx context.Context, msg string, fields ...observe.Field) {
	fields = append(fields, observe.F("principal", auth.SubjectFromContext(ctx)))
	s.logger.Info(ctx, msg, fields...)
}

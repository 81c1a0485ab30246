package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Probe deadlines for the HTTP endpoints. They sit below typical
// orchestrator probe timeouts.
const (
	probeTimeout  = 5 * time.Second
	reportTimeout = 10 * time.Second
)

// CheckResponse is the JSON form of a Result.
type CheckResponse struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ReportResponse is the JSON form of a Report.
type ReportResponse struct {
	Status  Status                   `json:"status"`
	Checked time.Time                `json:"checked"`
	Checks  map[string]CheckResponse `json:"checks,omitempty"`
}

func newCheckResponse(r Result) CheckResponse {
	resp := CheckResponse{
		Status:   r.Status,
		Message:  r.Message,
		Duration: r.Duration.String(),
		Details:  r.Details,
	}
	if r.Error != nil {
		resp.Error = r.Error.Error()
	}
	return resp
}

// statusCode keeps a degraded instance in rotation; only unhealthy fails
// the probe.
func statusCode(s Status) int {
	if s >= StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// Live answers liveness probes without running any checks.
func Live(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "OK")
}

// Ready answers readiness probes with the aggregate status as plain text.
func Ready(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		status := agg.Run(ctx).Status
		body := "OK"
		if status != StatusHealthy {
			body = status.String()
		}
		writeText(w, statusCode(status), body)
	}
}

// Detailed serves the full report as JSON.
func Detailed(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), reportTimeout)
		defer cancel()

		report := agg.Run(ctx)
		resp := ReportResponse{
			Status:  report.Status,
			Checked: report.Checked.UTC(),
			Checks:  make(map[string]CheckResponse, len(report.Results)),
		}
		for name, result := range report.Results {
			resp.Checks[name] = newCheckResponse(result)
		}
		writeJSON(w, statusCode(report.Status), resp)
	}
}

// Single runs the check named by the "name" route variable.
func Single(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		result, err := agg.Check(ctx, mux.Vars(r)["name"])
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, statusCode(result.Status), newCheckResponse(result))
	}
}

// RegisterHandlers mounts the probe endpoints on router.
func RegisterHandlers(router *mux.Router, agg *Aggregator) {
	router.HandleFunc("/healthz", Live).Methods(http.MethodGet)
	router.Handle("/readyz", Ready(agg)).Methods(http.MethodGet)
	router.Handle("/health", Detailed(agg)).Methods(http.MethodGet)
	router.Handle("/health/{name}", Single(agg)).Methods(http.MethodGet)
}

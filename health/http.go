package health

import (
	"encoding/json"
	"net/http"
)

// StatusSource yields the current health snapshot.
type StatusSource interface {
	HealthStatus() Snapshot
}

// LivenessHandler returns an HTTP handler for liveness probes: the process
// is up, nothing more.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// StatusHandler returns an HTTP handler serving the health snapshot as JSON.
// Unhealthy systems answer 503 so load balancers can drain them.
func StatusHandler(src StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := src.HealthStatus()

		w.Header().Set("Content-Type", "application/json")
		if snap.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(snap)
	}
}

// MetricsHandler returns an HTTP handler serving an arbitrary metrics
// payload as JSON.
func MetricsHandler(fetch func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(fetch())
	}
}

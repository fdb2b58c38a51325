package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Region    string           `json:"region,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health reports whether the poll store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	healthy := true

	if h.store != nil {
		start := time.Now()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Str("store", h.storeName).Msg("health check failed")
			checks[h.storeName] = Check{Status: "fail", Message: "connection failed"}
			healthy = false
		} else {
			checks[h.storeName] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["store"] = Check{Status: "fail", Message: "not configured"}
		healthy = false
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Region:    os.Getenv("FLY_REGION"),
		Instance:  os.Getenv("FLY_ALLOC_ID"),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// RootResponse represents the API info response.
type RootResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// Root describes the API.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "rankvote",
		Version: version,
		Endpoints: map[string]string{
			"POST /polls":                 "create a poll; the caller becomes admin",
			"POST /polls/join":            "join a poll by code",
			"POST /polls/rejoin":          "re-register with an access token",
			"POST /polls/add-participant": "register with an access token",
			"GET /polls/{id}":             "read a poll with a bearer token",
			"GET /polls/socket":           "realtime websocket session",
		},
	})
}

package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/yourusername/toolgate/abuse"
	"github.com/yourusername/toolgate/identity"
	"github.com/yourusername/toolgate/limiter"
	"github.com/yourusername/toolgate/metrics"
)

// Action is the rate-limit operation requested by a tool handler.
type Action string

const (
	ActionCheck     Action = "check"
	ActionIncrement Action = "increment"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionCheck || a == ActionIncrement
}

// rateLimitRequest is the POST /rate-limit body.
type rateLimitRequest struct {
	Action Action `json:"action"`
}

// ErrorResponse is the JSON error shape for the boundary endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler serves the rate-limit boundary endpoints. Identity is always
// derived from the request itself; callers cannot supply one, which keeps
// the key unspoofable.
type Handler struct {
	limiter  *limiter.Limiter
	detector *abuse.Detector
	metrics  *metrics.Metrics
}

// NewHandler creates the boundary handler.
func NewHandler(l *limiter.Limiter, d *abuse.Detector, m *metrics.Metrics) *Handler {
	return &Handler{limiter: l, detector: d, metrics: m}
}

// RateLimit handles POST /rate-limit (typed action) and GET /rate-limit
// (read-only status). A blocked decision is served as HTTP 429 so tool
// handlers can pass the status straight through.
func (h *Handler) RateLimit(w http.ResponseWriter, r *http.Request) {
	action := ActionCheck
	if r.Method == http.MethodPost {
		var req rateLimitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		if !req.Action.Valid() {
			sendError(w, http.StatusBadRequest, "invalid_action", `action must be "check" or "increment"`)
			return
		}
		action = req.Action
	}

	id := identity.Resolve(r)
	ctx := r.Context()

	if h.detector.IsBanned(ctx, id) {
		h.metrics.RecordBan(id.Key())
		writeDecision(w, limiter.Decision{
			Limit:   h.limiter.Limit(),
			Blocked: true,
			Warning: "temporarily banned for unusual activity",
		})
		return
	}

	var decision limiter.Decision
	if action == ActionIncrement {
		decision = h.limiter.CheckAndIncrement(ctx, id)
		h.metrics.RecordRequest(id.Key(), !decision.Blocked)
		// observation stays off the critical path
		go h.detector.ObserveRequest(context.Background(), id, r.Clone(context.Background()))
	} else {
		decision = h.limiter.Check(ctx, id)
	}
	writeDecision(w, decision)
}

func writeDecision(w http.ResponseWriter, d limiter.Decision) {
	status := http.StatusOK
	if d.Blocked {
		status = http.StatusTooManyRequests
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(d)
}

func sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errorCode, Message: message})
}

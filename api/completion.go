package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/yourusername/toolgate/cache"
	"github.com/yourusername/toolgate/metrics"
	"github.com/yourusername/toolgate/upstream"
)

// completionRequest is the tool-facing completion body.
type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// CompletionHandler is the sample tool endpoint exercising the full flow:
// cache probe, credential selection, provider call, outcome reporting.
// Production tool routes follow the same shape.
type CompletionHandler struct {
	client  *upstream.Client
	metrics *metrics.Metrics
}

// NewCompletionHandler creates a completion endpoint backed by client.
func NewCompletionHandler(client *upstream.Client, m *metrics.Metrics) *CompletionHandler {
	return &CompletionHandler{client: client, metrics: m}
}

func (h *CompletionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Prompt == "" || req.Model == "" {
		sendError(w, http.StatusBadRequest, "missing_fields", "model and prompt are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	resp, err := h.client.Complete(ctx, upstream.Request{
		Model:  req.Model,
		Prompt: req.Prompt,
		Params: cache.Params{Temperature: req.Temperature, MaxTokens: req.MaxTokens},
	})
	if err != nil {
		if errors.Is(err, upstream.ErrExhausted) {
			sendError(w, http.StatusServiceUnavailable, "service_unavailable",
				"The service is temporarily overloaded. Please try again in a few minutes.")
			return
		}
		log.Printf("completion: upstream failure: %v", err)
		sendError(w, http.StatusBadGateway, "upstream_error",
			"Something went wrong generating a response. Please try again.")
		return
	}

	if resp.Cached {
		h.metrics.RecordCacheHit()
		w.Header().Set("X-Cache-Status", "HIT")
	} else {
		h.metrics.RecordCacheMiss()
		w.Header().Set("X-Cache-Status", "MISS")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp.Payload)
}

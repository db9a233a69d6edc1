package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/yourusername/toolgate/abuse"
	"github.com/yourusername/toolgate/identity"
	"github.com/yourusername/toolgate/limiter"
	"github.com/yourusername/toolgate/metrics"
)

// Gate wraps tool handlers with the full admission pipeline: ban check,
// rate limit accounting, rate limit headers, and asynchronous abuse
// observation. A blocked request never reaches the wrapped handler, so no
// upstream cost is incurred for it.
type Gate struct {
	limiter  *limiter.Limiter
	detector *abuse.Detector
	metrics  *metrics.Metrics
}

// NewGate creates a Gate.
func NewGate(l *limiter.Limiter, d *abuse.Detector, m *metrics.Metrics) *Gate {
	return &Gate{limiter: l, detector: d, metrics: m}
}

// Middleware wraps next with the admission pipeline.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.Resolve(r)

		if g.detector.IsBanned(r.Context(), id) {
			g.metrics.RecordBan(id.Key())
			writeBlocked(w, "Access is temporarily suspended due to unusual activity. Please try again later.")
			return
		}

		decision := g.limiter.CheckAndIncrement(r.Context(), id)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if decision.Warning != "" {
			w.Header().Set("X-RateLimit-Warning", decision.Warning)
		}

		g.metrics.RecordRequest(id.Key(), !decision.Blocked)
		go g.detector.ObserveRequest(context.Background(), id, r.Clone(context.Background()))

		if decision.Blocked {
			writeBlocked(w, "You've reached today's free limit. Come back tomorrow, or upgrade for unlimited access.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeBlocked(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "rate_limit_exceeded",
		"message": message,
	})
}

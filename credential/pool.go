// Package credential owns the upstream API key pool and tracks per-key
// health with a circuit breaker.
package credential

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrNoCredentials is returned by Select when every credential in the pool
// has its circuit open (or the pool is empty). Callers surface a
// service-unavailable condition; they must not retry synchronously.
var ErrNoCredentials = errors.New("credential: no usable credential in pool")

// State of a credential's circuit.
type State string

const (
	StateHealthy     State = "healthy"
	StateDegraded    State = "degraded"
	StateCircuitOpen State = "circuit_open"
)

const (
	// failureThreshold consecutive failures open the circuit.
	failureThreshold = 3

	// Cooldowns double per consecutive circuit opening, capped.
	baseCooldown = 30 * time.Second
	maxCooldown  = 15 * time.Minute
)

// Credential is one upstream API key. The raw key only leaves the pool for
// the actual provider call; health reporting masks it.
type Credential struct {
	ID  string
	Key string
}

// health is the pool's mutable per-credential state. Guarded by Pool.mu.
type health struct {
	state       State
	failures    int // consecutive
	openUntil   time.Time
	reopenings  int  // consecutive circuit openings, drives the cooldown
	probing     bool // half-open trial in flight
	totalCalls  int64
	totalErrors int64
	lastUsed    time.Time
}

// Health is the read-only snapshot served to the operational dashboard.
type Health struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	State       State     `json:"state"`
	Failures    int       `json:"consecutive_failures"`
	OpenUntil   time.Time `json:"circuit_open_until,omitempty"`
	TotalCalls  int64     `json:"total_calls"`
	TotalErrors int64     `json:"total_errors"`
	LastUsed    time.Time `json:"last_used,omitempty"`
}

// Pool selects credentials round-robin and runs a circuit breaker per
// credential: healthy -> degraded -> circuit_open, with a half-open probe
// once the cooldown elapses.
//
// Pool state is process-local on purpose. Breaker decisions have to be cheap
// and race-free on the hot path, and the worst case of an instance with a
// stale view is a single failed call that re-opens its own circuit.
type Pool struct {
	mu    sync.Mutex
	creds []Credential
	state map[string]*health
	next  int
	now   func() time.Time
}

// NewPool builds a pool from raw API keys, giving each a stable id used in
// health reporting.
func NewPool(keys []string) *Pool {
	p := &Pool{state: make(map[string]*health), now: time.Now}
	for i, k := range keys {
		c := Credential{ID: fmt.Sprintf("cred-%d", i+1), Key: k}
		p.creds = append(p.creds, c)
		p.state[c.ID] = &health{state: StateHealthy}
	}
	return p
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Select returns the next usable credential, rotating through the pool so
// load spreads evenly. Open circuits are skipped, except that a circuit
// whose cooldown has elapsed is offered exactly once as a half-open probe.
func (p *Pool) Select() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.creds) == 0 {
		return Credential{}, ErrNoCredentials
	}
	now := p.now()
	for i := 0; i < len(p.creds); i++ {
		c := p.creds[(p.next+i)%len(p.creds)]
		h := p.state[c.ID]
		if h.state == StateCircuitOpen {
			if now.Before(h.openUntil) || h.probing {
				continue
			}
			// single half-open trial
			h.probing = true
		}
		p.next = (p.next + i + 1) % len(p.creds)
		h.totalCalls++
		h.lastUsed = now
		return c, nil
	}
	return Credential{}, ErrNoCredentials
}

// ReportSuccess closes the credential's circuit and clears its failure
// streak. A successful half-open probe returns it fully to healthy.
func (p *Pool) ReportSuccess(c Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.state[c.ID]
	if !ok {
		return
	}
	if h.state != StateHealthy {
		log.Printf("credential: %s recovered", c.ID)
	}
	h.state = StateHealthy
	h.failures = 0
	h.reopenings = 0
	h.probing = false
}

// ReportError records a failed call against c. Reaching the failure
// threshold, or failing a half-open probe, opens the circuit; every
// consecutive opening doubles the cooldown up to maxCooldown.
func (p *Pool) ReportError(c Credential, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.state[c.ID]
	if !ok {
		return
	}
	h.totalErrors++
	h.failures++

	switch {
	case h.probing:
		h.probing = false
		p.openCircuit(c.ID, h)
	case h.failures >= failureThreshold:
		p.openCircuit(c.ID, h)
	default:
		h.state = StateDegraded
		log.Printf("credential: %s error (%d consecutive): %v", c.ID, h.failures, err)
	}
}

// openCircuit must be called with the lock held.
func (p *Pool) openCircuit(id string, h *health) {
	cooldown := baseCooldown << h.reopenings
	if cooldown > maxCooldown || cooldown <= 0 {
		cooldown = maxCooldown
	}
	h.reopenings++
	h.state = StateCircuitOpen
	h.openUntil = p.now().Add(cooldown)
	log.Printf("credential: %s circuit open until %s", id, h.openUntil.Format(time.RFC3339))
}

// Health returns a snapshot of every credential's state, in pool order.
// Read-only and side-effect free; meant for the operational dashboard.
func (p *Pool) Health() []Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Health, 0, len(p.creds))
	for _, c := range p.creds {
		h := p.state[c.ID]
		out = append(out, Health{
			ID:          c.ID,
			Key:         maskKey(c.Key),
			State:       h.state,
			Failures:    h.failures,
			OpenUntil:   h.openUntil,
			TotalCalls:  h.totalCalls,
			TotalErrors: h.totalErrors,
			LastUsed:    h.lastUsed,
		})
	}
	return out
}

func maskKey(k string) string {
	if len(k) <= 8 {
		return "****"
	}
	return k[:4] + "..." + k[len(k)-4:]
}

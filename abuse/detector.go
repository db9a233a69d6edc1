// Package abuse maintains a per-identity risk score from request patterns
// and issues temporary bans when the score crosses a threshold.
//
// The detector is deliberately heuristic: individual signals log and flag
// rather than hard-block, so a false positive never locks out a legitimate
// user on first offense. Only the rate limiter produces first-line hard
// blocks; the ban here is the escalation path for sustained abuse.
package abuse

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/yourusername/toolgate/config"
	"github.com/yourusername/toolgate/identity"
	"github.com/yourusername/toolgate/store"
)

const (
	// profileTTL keeps idle risk profiles around for a week.
	profileTTL = 7 * 24 * time.Hour

	// fingerprintSpreadTTL is how long the set of addresses seen per
	// fingerprint is tracked.
	fingerprintSpreadTTL = 10 * time.Minute
)

// Signals captured from one request. None of them block on their own; they
// feed the weighted risk score.
type Signals struct {
	Burst             bool
	MissingHeaders    bool
	AutomationAgent   bool
	SharedFingerprint bool
}

// RiskProfile is the per-identity abuse state. A ban is a terminal but
// expiring condition: once BannedUntil passes the profile resets clean.
type RiskProfile struct {
	Score       float64        `json:"score"`
	Signals     map[string]int `json:"signals"`
	BannedUntil *time.Time     `json:"banned_until,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Detector scores identities and issues bans.
type Detector struct {
	store        store.Store
	policy       config.Policy
	banThreshold float64
	banDuration  time.Duration
	now          func() time.Time
}

// NewDetector creates a Detector with the given policy. An identity whose
// score reaches banThreshold is banned for banDuration.
func NewDetector(st store.Store, policy config.Policy, banThreshold float64, banDuration time.Duration) *Detector {
	return &Detector{
		store:        st,
		policy:       policy,
		banThreshold: banThreshold,
		banDuration:  banDuration,
		now:          time.Now,
	}
}

func profileKey(id identity.Identity) string { return "ab:risk:" + id.Key() }
func burstKey(id identity.Identity) string   { return "ab:burst:" + id.Key() }
func spreadKey(id identity.Identity) string  { return "ab:fpips:" + id.Fingerprint }

// ObserveRequest collects signals from r and folds them into the identity's
// risk profile. Call sites run it asynchronously; it must never be on the
// critical path of a request.
func (d *Detector) ObserveRequest(ctx context.Context, id identity.Identity, r *http.Request) (*RiskProfile, error) {
	return d.Observe(ctx, id, d.collect(ctx, id, r))
}

// Observe applies sig to the identity's risk profile and returns the updated
// profile. The score decays lazily with time instead of via a timer.
func (d *Detector) Observe(ctx context.Context, id identity.Identity, sig Signals) (*RiskProfile, error) {
	profile, err := d.loadProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	now := d.now()

	if profile == nil {
		profile = &RiskProfile{Signals: make(map[string]int), UpdatedAt: now}
	} else {
		// lazy decay since the last observation
		profile.Score -= now.Sub(profile.UpdatedAt).Hours() * d.policy.DecayPerHour
	}

	for name, obs := range map[string]struct {
		hit    bool
		weight float64
	}{
		"burst":              {sig.Burst, d.policy.WeightBurst},
		"missing_headers":    {sig.MissingHeaders, d.policy.WeightMissingHeaders},
		"automation_agent":   {sig.AutomationAgent, d.policy.WeightAutomation},
		"shared_fingerprint": {sig.SharedFingerprint, d.policy.WeightSharedFingerprint},
	} {
		if obs.hit {
			profile.Score += obs.weight
			profile.Signals[name]++
			log.Printf("abuse: signal %s for %s (score %.1f)", name, id.Key(), profile.Score)
		}
	}

	// the score saturates above the ban threshold; there is no point in
	// letting it grow without bound
	if ceiling := d.banThreshold * 1.5; profile.Score > ceiling {
		profile.Score = ceiling
	}
	profile.UpdatedAt = now

	if profile.BannedUntil == nil && profile.Score >= d.banThreshold {
		until := now.Add(d.banDuration)
		profile.BannedUntil = &until
		log.Printf("abuse: banning %s until %s (score %.1f)", id.Key(), until.Format(time.RFC3339), profile.Score)
	}

	if err := d.saveProfile(ctx, id, profile); err != nil {
		return profile, err
	}
	return profile, nil
}

// IsBanned reports whether id is currently banned. An expired ban resets the
// profile to a clean score. Store failures fail open: nobody gets banned by
// an outage.
func (d *Detector) IsBanned(ctx context.Context, id identity.Identity) bool {
	profile, err := d.loadProfile(ctx, id)
	if err != nil {
		log.Printf("abuse: ban check degraded: %v", err)
		return false
	}
	if profile == nil || profile.BannedUntil == nil {
		return false
	}
	if d.now().Before(*profile.BannedUntil) {
		return true
	}

	// ban expired: reset rather than delete
	profile.Score = 0
	profile.Signals = make(map[string]int)
	profile.BannedUntil = nil
	profile.UpdatedAt = d.now()
	if err := d.saveProfile(ctx, id, profile); err != nil {
		log.Printf("abuse: profile reset failed: %v", err)
	}
	return false
}

// collect derives the per-request signals. Failures in the store-backed
// signals are swallowed; a missing signal just means no score contribution.
func (d *Detector) collect(ctx context.Context, id identity.Identity, r *http.Request) Signals {
	var sig Signals

	n, err := d.store.Incr(ctx, burstKey(id), d.policy.BurstWindowDuration())
	if err == nil && n > int64(d.policy.BurstThreshold) {
		sig.Burst = true
	}

	for _, h := range []string{"Accept", "Accept-Language", "User-Agent"} {
		if r.Header.Get(h) == "" {
			sig.MissingHeaders = true
			break
		}
	}

	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, agent := range d.policy.AutomationAgents {
		if strings.Contains(ua, agent) {
			sig.AutomationAgent = true
			break
		}
	}

	size, err := d.store.AddToSet(ctx, spreadKey(id), id.IP, fingerprintSpreadTTL)
	if err == nil && size >= int64(d.policy.FingerprintIPMax) {
		sig.SharedFingerprint = true
	}

	return sig
}

func (d *Detector) loadProfile(ctx context.Context, id identity.Identity) (*RiskProfile, error) {
	raw, err := d.store.Get(ctx, profileKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var profile RiskProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, nil // corrupt profile, start clean
	}
	if profile.Signals == nil {
		profile.Signals = make(map[string]int)
	}
	return &profile, nil
}

func (d *Detector) saveProfile(ctx context.Context, id identity.Identity, profile *RiskProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return d.store.Set(ctx, profileKey(id), raw, profileTTL)
}

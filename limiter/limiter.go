// Package limiter enforces the per-identity daily request budget using a
// rolling window anchored at each usage record's own start time.
package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/toolgate/identity"
	"github.com/yourusername/toolgate/store"
)

const (
	// Window is the accounting period of one usage record. It resets
	// relative to the record's own window_start, not a global clock tick.
	Window = 24 * time.Hour

	// recordTTL keeps a record slightly past its window so a status check
	// right at the boundary still sees it before the reset.
	recordTTL = Window + time.Hour
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Count     int64  `json:"count"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Blocked   bool   `json:"blocked"`
	Warning   string `json:"warning,omitempty"`
}

// usageRecord holds the per-identity window metadata. The count itself lives
// in a separate counter key so increments stay atomic at the store level
// instead of read-modify-write from here.
type usageRecord struct {
	WindowStart  time.Time `json:"window_start"`
	LastActivity time.Time `json:"last_activity"`
}

// Limiter tracks request counts per identity.
//
// A usage record is reachable through two alias keys, one for the network
// address and one for the fingerprint. A request matching either alias lands
// on the same record, so rotating addresses behind one fingerprint (or
// fingerprints behind one address) does not grant a fresh window. The cost is
// coarser granularity for distinct users behind a shared NAT, which the
// product accepts.
type Limiter struct {
	store store.Store
	limit int
	now   func() time.Time
}

// New creates a Limiter allowing limit requests per identity per Window.
func New(st store.Store, limit int) *Limiter {
	return &Limiter{store: st, limit: limit, now: time.Now}
}

// Limit returns the configured per-window budget.
func (l *Limiter) Limit() int { return l.limit }

func aliasIPKey(id identity.Identity) string { return "rl:ip:" + id.IP }
func aliasFPKey(id identity.Identity) string { return "rl:fp:" + id.Fingerprint }
func recordKey(recID string) string          { return "rl:rec:" + recID }
func countKey(recID string) string           { return "rl:cnt:" + recID }

// CheckAndIncrement accounts one request for id and reports whether it may
// proceed. If the store is unavailable it fails open: the product stays up
// and the abuse detector remains the second line of defense.
func (l *Limiter) CheckAndIncrement(ctx context.Context, id identity.Identity) Decision {
	d, err := l.increment(ctx, id)
	if err != nil {
		log.Printf("limiter: store unavailable, failing open: %v", err)
		return Decision{
			Limit:     l.limit,
			Remaining: l.limit,
			Warning:   "rate limiting temporarily degraded",
		}
	}
	return d
}

// Check reports the current window state for id without mutating anything.
// It also fails open on store errors.
func (l *Limiter) Check(ctx context.Context, id identity.Identity) Decision {
	d, err := l.peek(ctx, id)
	if err != nil {
		log.Printf("limiter: store unavailable, failing open: %v", err)
		return Decision{
			Limit:     l.limit,
			Remaining: l.limit,
			Warning:   "rate limiting temporarily degraded",
		}
	}
	return d
}

func (l *Limiter) increment(ctx context.Context, id identity.Identity) (Decision, error) {
	recID, err := l.resolveRecord(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	now := l.now()

	rec, err := l.loadRecord(ctx, recID)
	if err != nil {
		return Decision{}, err
	}
	if rec == nil {
		rec = &usageRecord{WindowStart: now}
	} else if now.Sub(rec.WindowStart) >= Window {
		// expired window: the old count must not carry over
		if err := l.store.Delete(ctx, countKey(recID)); err != nil {
			return Decision{}, err
		}
		rec = &usageRecord{WindowStart: now}
	}
	rec.LastActivity = now
	if err := l.saveRecord(ctx, recID, rec); err != nil {
		return Decision{}, err
	}

	count, err := l.store.Incr(ctx, countKey(recID), recordTTL)
	if err != nil {
		return Decision{}, err
	}
	// exactly limit requests pass per window; the request that pushes the
	// count past the limit is the first one blocked
	return l.decision(count, count > int64(l.limit)), nil
}

func (l *Limiter) peek(ctx context.Context, id identity.Identity) (Decision, error) {
	recID, err := l.lookupAlias(ctx, aliasIPKey(id), aliasFPKey(id))
	if err != nil {
		return Decision{}, err
	}
	if recID == "" {
		return l.decision(0, false), nil
	}

	rec, err := l.loadRecord(ctx, recID)
	if err != nil {
		return Decision{}, err
	}
	if rec == nil || l.now().Sub(rec.WindowStart) >= Window {
		return l.decision(0, false), nil
	}

	count, err := l.loadCount(ctx, recID)
	if err != nil {
		return Decision{}, err
	}
	return l.decision(count, count >= int64(l.limit)), nil
}

func (l *Limiter) decision(count int64, blocked bool) Decision {
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Count:     count,
		Limit:     l.limit,
		Remaining: remaining,
		Blocked:   blocked,
	}
}

// resolveRecord finds the usage record id for either half of the identity,
// creating one when the identity is new. Afterwards both aliases point at the
// same record, so a later match on either field resolves symmetrically.
func (l *Limiter) resolveRecord(ctx context.Context, id identity.Identity) (string, error) {
	recID, err := l.lookupAlias(ctx, aliasIPKey(id), aliasFPKey(id))
	if err != nil {
		return "", err
	}
	if recID == "" {
		recID = uuid.NewString()
		created, err := l.store.SetNX(ctx, aliasIPKey(id), []byte(recID), recordTTL)
		if err != nil {
			return "", err
		}
		if !created {
			// lost the race: adopt the winner's record
			if v, err := l.store.Get(ctx, aliasIPKey(id)); err == nil {
				recID = string(v)
			}
		}
	}
	if err := l.store.Set(ctx, aliasIPKey(id), []byte(recID), recordTTL); err != nil {
		return "", err
	}
	if err := l.store.Set(ctx, aliasFPKey(id), []byte(recID), recordTTL); err != nil {
		return "", err
	}
	return recID, nil
}

func (l *Limiter) lookupAlias(ctx context.Context, keys ...string) (string, error) {
	for _, k := range keys {
		v, err := l.store.Get(ctx, k)
		if err == nil {
			return string(v), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	return "", nil
}

func (l *Limiter) loadRecord(ctx context.Context, recID string) (*usageRecord, error) {
	raw, err := l.store.Get(ctx, recordKey(recID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec usageRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil // corrupt record, treat as missing
	}
	return &rec, nil
}

func (l *Limiter) saveRecord(ctx context.Context, recID string, rec *usageRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, recordKey(recID), raw, recordTTL)
}

func (l *Limiter) loadCount(ctx context.Context, recID string) (int64, error) {
	raw, err := l.store.Get(ctx, countKey(recID))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Package cache maps a normalized (prompt, model, parameters) fingerprint to
// a previously computed upstream response so duplicate work is never paid
// for twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/yourusername/toolgate/store"
)

// Params are the generation parameters that participate in the fingerprint.
// Two requests differing only outside this struct collapse to one entry.
type Params struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Entry is one cached upstream response.
type Entry struct {
	Response  json.RawMessage `json:"response"`
	Usage     Usage           `json:"usage"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
}

// Cache is the request-level response cache. It is advisory: a miss never
// blocks a request and a failed write never fails the call that produced it.
type Cache struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// New creates a Cache whose entries expire after ttl.
func New(st store.Store, ttl time.Duration) *Cache {
	return &Cache{store: st, ttl: ttl, now: time.Now}
}

// Fingerprint hashes the normalized prompt, model id and generation
// parameters. Whitespace runs collapse and case folds so semantically
// identical prompts share one entry.
func Fingerprint(prompt, model string, params Params) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(prompt), " "))
	payload, _ := json.Marshal(struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
		Params Params `json:"params"`
	}{normalized, model, params})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func entryKey(fingerprint, model string) string {
	return "cache:" + model + ":" + fingerprint
}

// Get returns the cached entry for (fingerprint, model), or a miss. Expired
// entries are evicted lazily on read; the backend TTL usually gets there
// first, but the in-memory fallback may hold an entry past its deadline.
func (c *Cache) Get(ctx context.Context, fingerprint, model string) (*Entry, bool) {
	raw, err := c.store.Get(ctx, entryKey(fingerprint, model))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("cache: read failed: %v", err)
		}
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	if e.TTL > 0 && c.now().Sub(e.CreatedAt) >= e.TTL {
		c.store.Delete(ctx, entryKey(fingerprint, model))
		return nil, false
	}
	return &e, true
}

// Set stores a successful upstream response. Write failures are swallowed:
// cache unavailability must never turn a successful response into a failure.
func (c *Cache) Set(ctx context.Context, fingerprint, model string, response json.RawMessage, usage Usage) {
	e := Entry{
		Response:  response,
		Usage:     usage,
		CreatedAt: c.now(),
		TTL:       c.ttl,
	}
	raw, err := json.Marshal(e)
	if err == nil {
		err = c.store.Set(ctx, entryKey(fingerprint, model), raw, c.ttl)
	}
	if err != nil {
		log.Printf("cache: write failed: %v", err)
	}
}

// Clear purges every cache entry and returns how many were removed.
// Administrative use only.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	return c.store.DeletePrefix(ctx, "cache:")
}

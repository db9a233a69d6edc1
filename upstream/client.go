// Package upstream calls the LLM provider on behalf of tool handlers,
// wiring the credential pool and the response cache into one flow.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourusername/toolgate/cache"
	"github.com/yourusername/toolgate/credential"
)

var (
	// ErrExhausted means every pool credential is circuit-open. Surfaced
	// as service-unavailable; never retried synchronously.
	ErrExhausted = errors.New("upstream: all credentials unavailable")

	// ErrUpstream is the generic failure after the single retry.
	ErrUpstream = errors.New("upstream: provider call failed")
)

// Request is one completion call on behalf of a tool.
type Request struct {
	Model  string
	Prompt string
	Params cache.Params
}

// Response carries the provider payload plus cache provenance.
type Response struct {
	Payload json.RawMessage
	Usage   cache.Usage
	Cached  bool
}

// Client runs the full provider flow: cache probe, credential selection,
// paced HTTP call, outcome report back to the pool, async cache write.
type Client struct {
	pool     *credential.Pool
	cache    *cache.Cache
	http     *http.Client
	endpoint string

	// pacer is a provider-wide ceiling shared by every tool on this
	// instance, keeping a traffic spike from hammering the upstream.
	pacer *rate.Limiter
}

// NewClient creates a provider client against endpoint.
func NewClient(pool *credential.Pool, c *cache.Cache, endpoint string) *Client {
	return &Client{
		pool:     pool,
		cache:    c,
		http:     &http.Client{Timeout: 60 * time.Second},
		endpoint: endpoint,
		pacer:    rate.NewLimiter(rate.Limit(20), 40),
	}
}

// Complete answers req from cache when possible, otherwise calls the
// provider. A failed call is reported to the pool and retried exactly once
// on a different credential; after that the failure surfaces to the caller.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	fingerprint := cache.Fingerprint(req.Prompt, req.Model, req.Params)
	if entry, ok := c.cache.Get(ctx, fingerprint, req.Model); ok {
		return &Response{Payload: entry.Response, Usage: entry.Usage, Cached: true}, nil
	}

	var lastErr error
	var usedID string
	for attempt := 0; attempt < 2; attempt++ {
		cred, err := c.pool.Select()
		if err != nil {
			if lastErr != nil {
				break
			}
			return nil, ErrExhausted
		}
		if cred.ID == usedID {
			// single-credential pool: nothing different to retry on
			break
		}
		usedID = cred.ID

		resp, err := c.call(ctx, cred, req)
		if err != nil {
			c.pool.ReportError(cred, err)
			lastErr = err
			continue
		}
		c.pool.ReportSuccess(cred)
		go c.cache.Set(context.Background(), fingerprint, req.Model, resp.Payload, resp.Usage)
		return resp, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUpstream, lastErr)
}

func (c *Client) call(ctx context.Context, cred credential.Credential, req Request) (*Response, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]interface{}{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"temperature": req.Params.Temperature,
		"max_tokens":  req.Params.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.Key)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d: %s", httpResp.StatusCode, truncate(payload, 200))
	}

	// usage is best-effort metadata; a provider omitting it is not an error
	var parsed struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	json.Unmarshal(payload, &parsed)

	return &Response{
		Payload: payload,
		Usage: cache.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

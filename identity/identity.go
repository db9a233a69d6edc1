// Package identity derives a stable pseudonymous key from connection
// metadata. No cookies, no account: the key is recomputed on every request
// and never persisted itself.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// fingerprintLen is the length of the hex-encoded fingerprint.
const fingerprintLen = 16

// ipHeaders is the priority order for extracting the client address behind
// the edge. First non-empty header wins.
var ipHeaders = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Real-IP",
	"X-Vercel-Forwarded-For",
}

// fingerprintHeaders feed the digest in this exact order. Absent headers
// contribute empty strings, so the fingerprint is always deterministic.
var fingerprintHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Accept-Encoding",
	"Sec-CH-UA",
	"Sec-CH-UA-Platform",
}

// Identity is the pseudonymous key a visitor is tracked under.
type Identity struct {
	IP          string
	Fingerprint string
}

// Key returns the composite key used to scope rate limits and risk scores.
func (id Identity) Key() string {
	return id.IP + "|" + id.Fingerprint
}

// Resolve derives an Identity from request headers. It is total: malformed
// or missing signals never produce an error, only a coarser key.
func Resolve(r *http.Request) Identity {
	return Identity{
		IP:          clientIP(r),
		Fingerprint: fingerprint(r),
	}
}

func clientIP(r *http.Request) string {
	for _, h := range ipHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		if h == "X-Forwarded-For" {
			// comma-separated hop list, the first entry is the client
			v = strings.TrimSpace(strings.Split(v, ",")[0])
			if v == "" {
				continue
			}
		}
		return v
	}
	return "unknown"
}

func fingerprint(r *http.Request) string {
	parts := make([]string, 0, len(fingerprintHeaders))
	for _, h := range fingerprintHeaders {
		parts = append(parts, r.Header.Get(h))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

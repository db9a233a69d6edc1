package identity

import (
	"net/http/httptest"
	"testing"
)

func TestResolve_ClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "cloudflare header wins",
			headers: map[string]string{"CF-Connecting-IP": "1.2.3.4", "X-Forwarded-For": "5.6.7.8"},
			want:    "1.2.3.4",
		},
		{
			name:    "forwarded-for first hop",
			headers: map[string]string{"X-Forwarded-For": "9.9.9.9, 10.0.0.1, 10.0.0.2"},
			want:    "9.9.9.9",
		},
		{
			name:    "forwarded-for with spaces",
			headers: map[string]string{"X-Forwarded-For": "  9.9.9.9 , 10.0.0.1"},
			want:    "9.9.9.9",
		},
		{
			name:    "real-ip fallback",
			headers: map[string]string{"X-Real-IP": "8.8.4.4"},
			want:    "8.8.4.4",
		},
		{
			name:    "platform header fallback",
			headers: map[string]string{"X-Vercel-Forwarded-For": "3.3.3.3"},
			want:    "3.3.3.3",
		},
		{
			name:    "no headers",
			headers: nil,
			want:    "unknown",
		},
		{
			name:    "empty forwarded-for entry falls through",
			headers: map[string]string{"X-Forwarded-For": " , 10.0.0.1", "X-Real-IP": "8.8.4.4"},
			want:    "8.8.4.4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := Resolve(r).IP; got != tt.want {
				t.Errorf("Resolve().IP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_FingerprintDeterministic(t *testing.T) {
	r1 := httptest.NewRequest("GET", "/", nil)
	r1.Header.Set("User-Agent", "Mozilla/5.0")
	r1.Header.Set("Accept-Language", "en-US")

	r2 := httptest.NewRequest("GET", "/other", nil)
	r2.Header.Set("User-Agent", "Mozilla/5.0")
	r2.Header.Set("Accept-Language", "en-US")

	fp1 := Resolve(r1).Fingerprint
	fp2 := Resolve(r2).Fingerprint
	if fp1 != fp2 {
		t.Errorf("same headers produced different fingerprints: %q vs %q", fp1, fp2)
	}
	if len(fp1) != fingerprintLen {
		t.Errorf("fingerprint length = %d, want %d", len(fp1), fingerprintLen)
	}
}

func TestResolve_FingerprintVariesByHeaders(t *testing.T) {
	r1 := httptest.NewRequest("GET", "/", nil)
	r1.Header.Set("User-Agent", "Mozilla/5.0")

	r2 := httptest.NewRequest("GET", "/", nil)
	r2.Header.Set("User-Agent", "curl/8.0")

	if Resolve(r1).Fingerprint == Resolve(r2).Fingerprint {
		t.Error("different user agents produced the same fingerprint")
	}
}

func TestResolve_TotalOnEmptyRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	id := Resolve(r)
	if id.IP != "unknown" {
		t.Errorf("IP = %q, want %q", id.IP, "unknown")
	}
	if id.Fingerprint == "" {
		t.Error("fingerprint empty for header-less request")
	}
	if id.Key() != id.IP+"|"+id.Fingerprint {
		t.Errorf("Key() = %q not composed of IP and fingerprint", id.Key())
	}
}

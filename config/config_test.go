package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"SERVER_PORT", "REDIS_URL", "UPSTREAM_API_KEYS", "ADMIN_TOKEN",
		"DAILY_LIMIT", "CACHE_TTL", "BAN_DURATION", "RISK_BAN_THRESHOLD", "POLICY_FILE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with an empty environment must not fail: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %q, want empty (memory fallback)", cfg.RedisURL)
	}
	if cfg.DailyLimit != 10 {
		t.Errorf("DailyLimit = %d, want 10", cfg.DailyLimit)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want 1h", cfg.CacheTTL)
	}
	if cfg.BanDuration != time.Hour {
		t.Errorf("BanDuration = %v, want 1h", cfg.BanDuration)
	}
	if cfg.RiskThreshold != 10 {
		t.Errorf("RiskThreshold = %v, want 10", cfg.RiskThreshold)
	}
	if !reflect.DeepEqual(cfg.Policy, DefaultPolicy()) {
		t.Errorf("Policy = %+v, want defaults", cfg.Policy)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("UPSTREAM_API_KEYS", "sk-one, sk-two ,, sk-three")
	t.Setenv("DAILY_LIMIT", "25")
	t.Setenv("CACHE_TTL", "30m")
	t.Setenv("RISK_BAN_THRESHOLD", "7.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.ServerPort != "9000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "9000")
	}
	if want := []string{"sk-one", "sk-two", "sk-three"}; !reflect.DeepEqual(cfg.UpstreamAPIKeys, want) {
		t.Errorf("UpstreamAPIKeys = %v, want %v", cfg.UpstreamAPIKeys, want)
	}
	if cfg.DailyLimit != 25 {
		t.Errorf("DailyLimit = %d, want 25", cfg.DailyLimit)
	}
	if cfg.CacheTTL != 30*time.Minute {
		t.Errorf("CacheTTL = %v, want 30m", cfg.CacheTTL)
	}
	if cfg.RiskThreshold != 7.5 {
		t.Errorf("RiskThreshold = %v, want 7.5", cfg.RiskThreshold)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("DAILY_LIMIT", "not-a-number")
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("RISK_BAN_THRESHOLD", "high")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with malformed values must fall back, got: %v", err)
	}
	if cfg.DailyLimit != 10 || cfg.CacheTTL != time.Hour || cfg.RiskThreshold != 10 {
		t.Errorf("fallbacks not applied: limit=%d ttl=%v threshold=%v",
			cfg.DailyLimit, cfg.CacheTTL, cfg.RiskThreshold)
	}
}

func TestLoad_RejectsNonPositiveLimits(t *testing.T) {
	t.Setenv("DAILY_LIMIT", "-1")
	if _, err := Load(); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("Load() with negative limit error = %v, want ErrInvalidPolicy", err)
	}
}

func TestLoadPolicyFile(t *testing.T) {
	write := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "policy.yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("partial override keeps defaults", func(t *testing.T) {
		path := write(t, "burst_threshold: 50\nweight_automation: 5.5\n")
		p, err := LoadPolicyFile(path)
		if err != nil {
			t.Fatalf("LoadPolicyFile() unexpected error: %v", err)
		}
		if p.BurstThreshold != 50 {
			t.Errorf("BurstThreshold = %d, want 50", p.BurstThreshold)
		}
		if p.WeightAutomation != 5.5 {
			t.Errorf("WeightAutomation = %v, want 5.5", p.WeightAutomation)
		}
		if p.FingerprintIPMax != DefaultPolicy().FingerprintIPMax {
			t.Errorf("FingerprintIPMax = %d, want default", p.FingerprintIPMax)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadPolicyFile("/nonexistent/policy.yaml"); !errors.Is(err, ErrInvalidPolicy) {
			t.Errorf("error = %v, want ErrInvalidPolicy", err)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := write(t, "burst_threshold: [broken")
		if _, err := LoadPolicyFile(path); !errors.Is(err, ErrInvalidPolicy) {
			t.Errorf("error = %v, want ErrInvalidPolicy", err)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		path := write(t, "burst_threshold: 0\n")
		if _, err := LoadPolicyFile(path); !errors.Is(err, ErrInvalidPolicy) {
			t.Errorf("error = %v, want ErrInvalidPolicy", err)
		}
	})
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
		valid  bool
	}{
		{"defaults", func(p *Policy) {}, true},
		{"zero burst threshold", func(p *Policy) { p.BurstThreshold = 0 }, false},
		{"zero fingerprint max", func(p *Policy) { p.FingerprintIPMax = 0 }, false},
		{"unparseable window", func(p *Policy) { p.BurstWindow = "soonish" }, false},
		{"negative weight", func(p *Policy) { p.WeightBurst = -1 }, false},
		{"negative decay", func(p *Policy) { p.DecayPerHour = -0.5 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Validate() = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestBurstWindowDuration(t *testing.T) {
	p := DefaultPolicy()
	if got := p.BurstWindowDuration(); got != 10*time.Second {
		t.Errorf("default BurstWindowDuration() = %v, want 10s", got)
	}
	p.BurstWindow = "2m"
	if got := p.BurstWindowDuration(); got != 2*time.Minute {
		t.Errorf("BurstWindowDuration() = %v, want 2m", got)
	}
	p.BurstWindow = "garbage"
	if got := p.BurstWindowDuration(); got != 10*time.Second {
		t.Errorf("BurstWindowDuration() fallback = %v, want 10s", got)
	}
}

package credential

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream 500")

func failTimes(t *testing.T, p *Pool, c Credential, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p.ReportError(c, errUpstream)
	}
}

func stateOf(t *testing.T, p *Pool, id string) Health {
	t.Helper()
	for _, h := range p.Health() {
		if h.ID == id {
			return h
		}
	}
	t.Fatalf("no credential %q in pool", id)
	return Health{}
}

func TestPool_RoundRobin(t *testing.T) {
	p := NewPool([]string{"sk-aaaaaaaaaaaa", "sk-bbbbbbbbbbbb", "sk-cccccccccccc"})

	want := []string{"cred-1", "cred-2", "cred-3", "cred-1", "cred-2"}
	for i, id := range want {
		c, err := p.Select()
		if err != nil {
			t.Fatalf("Select() #%d unexpected error: %v", i+1, err)
		}
		if c.ID != id {
			t.Errorf("Select() #%d = %s, want %s", i+1, c.ID, id)
		}
	}
}

func TestPool_EmptyPool(t *testing.T) {
	p := NewPool(nil)
	if _, err := p.Select(); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Select() on empty pool error = %v, want ErrNoCredentials", err)
	}
}

func TestPool_DegradedBelowThreshold(t *testing.T) {
	p := NewPool([]string{"sk-aaaaaaaaaaaa"})
	c, _ := p.Select()

	failTimes(t, p, c, 2)
	if got := stateOf(t, p, c.ID); got.State != StateDegraded {
		t.Errorf("state after 2 failures = %s, want %s", got.State, StateDegraded)
	}

	// degraded credentials are still selectable
	if _, err := p.Select(); err != nil {
		t.Errorf("Select() on degraded credential unexpected error: %v", err)
	}

	p.ReportSuccess(c)
	got := stateOf(t, p, c.ID)
	if got.State != StateHealthy || got.Failures != 0 {
		t.Errorf("state after success = %s (%d failures), want healthy with 0", got.State, got.Failures)
	}
}

func TestPool_CircuitOpensAtThreshold(t *testing.T) {
	p := NewPool([]string{"sk-aaaaaaaaaaaa", "sk-bbbbbbbbbbbb"})
	a, _ := p.Select()

	failTimes(t, p, a, 3)
	if got := stateOf(t, p, a.ID); got.State != StateCircuitOpen {
		t.Errorf("state after 3 failures = %s, want %s", got.State, StateCircuitOpen)
	}

	// every subsequent selection lands on the surviving credential
	for i := 0; i < 4; i++ {
		c, err := p.Select()
		if err != nil {
			t.Fatalf("Select() unexpected error: %v", err)
		}
		if c.ID == a.ID {
			t.Fatal("Select() returned a credential with an open circuit")
		}
	}
}

func TestPool_AllCircuitsOpen(t *testing.T) {
	p := NewPool([]string{"sk-aaaaaaaaaaaa", "sk-bbbbbbbbbbbb"})

	for _, c := range []Credential{p.creds[0], p.creds[1]} {
		failTimes(t, p, c, 3)
	}
	if _, err := p.Select(); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Select() with all circuits open error = %v, want ErrNoCredentials", err)
	}
}

func TestPool_HalfOpenProbeSuccess(t *testing.T) {
	p := NewPool([]string{"sk-aaaaaaaaaaaa"})
	base := time.Now()
	p.now = func() time.Time { return base }

	c, _ := p.Select()
	failTimes(t, p, c, 3)

	// during the cooldown nothing is selectable
	if _, err := p.Select(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("Select() during cooldown error = %v, want ErrNoCredentials", err)
	}

	// after the cooldown exactly one probe is offered
	p.now = func() time.Time { return base.Add(baseCooldown) }
	probe, err := p.Select()
	if err != nil {
		t.Fatalf("Select() for half-open probe unexpected error: %v", err)
	}
	if _, err := p.Select(); !errors.Is(err, ErrNoCredentials) {
		t.Error("a second probe was offered while the first was in flight")
	}

	p.ReportSuccess(probe)
	if got := stateOf(t, p, probe.ID); got.State != StateHealthy {
		t.Errorf("state after probe success = %s, want %s", got.State, StateHealthy)
	}
	if _, err := p.Select(); err != nil {
		t.Errorf("Select() after recovery unexpected error: %v", err)
	}
}

func TestPool_HalfOpenProbeFailureDoublesCooldown(t *testing.T) {
	p := NewPool([]string{"sk-aaaaaaaaaaaa"})
	base := time.Now()
	p.now = func() time.Time { return base }

	c, _ := p.Select()
	failTimes(t, p, c, 3)
	first := stateOf(t, p, c.ID).OpenUntil
	if want := base.Add(baseCooldown); !first.Equal(want) {
		t.Errorf("first cooldown ends %v, want %v", first, want)
	}

	// failed probe reopens the circuit with a doubled cooldown
	p.now = func() time.Time { return base.Add(baseCooldown) }
	probe, err := p.Select()
	if err != nil {
		t.Fatalf("Select() for probe unexpected error: %v", err)
	}
	p.ReportError(probe, errUpstream)

	got := stateOf(t, p, c.ID)
	if got.State != StateCircuitOpen {
		t.Fatalf("state after failed probe = %s, want %s", got.State, StateCircuitOpen)
	}
	if want := base.Add(baseCooldown).Add(2 * baseCooldown); !got.OpenUntil.Equal(want) {
		t.Errorf("second cooldown ends %v, want %v (doubled)", got.OpenUntil, want)
	}
}

func TestPool_CooldownCapped(t *testing.T) {
	p := NewPool([]string{"sk-aaaaaaaaaaaa"})
	base := time.Now()
	clock := base
	p.now = func() time.Time { return clock }

	c, _ := p.Select()
	failTimes(t, p, c, 3)

	// keep failing every probe; the cooldown must stop growing at the cap
	for i := 0; i < 8; i++ {
		clock = stateOf(t, p, c.ID).OpenUntil
		probe, err := p.Select()
		if err != nil {
			t.Fatalf("probe %d unexpected error: %v", i+1, err)
		}
		p.ReportError(probe, errUpstream)
	}

	got := stateOf(t, p, c.ID)
	if cooldown := got.OpenUntil.Sub(clock); cooldown > maxCooldown {
		t.Errorf("cooldown = %v exceeds cap %v", cooldown, maxCooldown)
	}
}

func TestPool_FailoverEndToEnd(t *testing.T) {
	p := NewPool([]string{"sk-aaaaaaaaaaaa", "sk-bbbbbbbbbbbb"})

	// credential A fails three calls in a row; traffic shifts entirely to B
	for i := 0; i < 3; i++ {
		c, err := p.Select()
		if err != nil {
			t.Fatalf("Select() unexpected error: %v", err)
		}
		if c.ID == "cred-1" {
			p.ReportError(c, errUpstream)
		} else {
			p.ReportSuccess(c)
		}
	}
	failTimes(t, p, Credential{ID: "cred-1"}, 1) // third consecutive failure

	for i := 0; i < 5; i++ {
		c, err := p.Select()
		if err != nil {
			t.Fatalf("Select() unexpected error: %v", err)
		}
		if c.ID != "cred-2" {
			t.Fatalf("Select() = %s, want all traffic on cred-2", c.ID)
		}
		p.ReportSuccess(c)
	}
}

func TestHealth_MasksKeys(t *testing.T) {
	p := NewPool([]string{"sk-proj-1234567890abcdef", "short"})

	snap := p.Health()
	if len(snap) != 2 {
		t.Fatalf("Health() returned %d entries, want 2", len(snap))
	}
	if snap[0].Key != "sk-p...cdef" {
		t.Errorf("masked key = %q, want %q", snap[0].Key, "sk-p...cdef")
	}
	if snap[1].Key != "****" {
		t.Errorf("short key mask = %q, want %q", snap[1].Key, "****")
	}
	for _, h := range snap {
		if h.State != StateHealthy {
			t.Errorf("%s initial state = %s, want %s", h.ID, h.State, StateHealthy)
		}
	}
}

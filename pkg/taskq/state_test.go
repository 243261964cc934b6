package taskq

import (
	"encoding/json"
	"testing"
	"time"
)

func TestState(t *testing.T) {
	for s := Queued; s <= Failed; s++ {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var back State
		if err := back.UnmarshalText(b); err != nil || back != s {
			t.Fatalf("text round trip of %s gave %s (%v)", s, back, err)
		}
	}
	if Running.Terminal() || Paused.Terminal() || Queued.Terminal() {
		t.Error("non-terminal states reported terminal")
	}
	if !Complete.Terminal() || !Stopped.Terminal() || !Failed.Terminal() {
		t.Error("terminal states not reported terminal")
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("unexpected name %q", got)
	}
	var s State
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestInfoJSON(t *testing.T) {
	b, err := json.Marshal(Info{ID: "x", State: Paused})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)
	if m["state"] != "paused" || m["gid"] != "x" {
		t.Fatalf("unexpected encoding %s", b)
	}
}

func TestSpeedMeter(t *testing.T) {
	start := time.Unix(0, 0)
	m := newSpeedMeter(start)

	// 1000 bytes every 250ms is 4000 B/s.
	var v float64
	for i := 1; i <= 20; i++ {
		v = m.observe(1000, start.Add(time.Duration(i)*speedSampleInterval))
	}
	if v < 3999 || v > 4001 {
		t.Fatalf("expected ~4000 B/s, got %f", v)
	}

	m = newSpeedMeter(start)
	if got := m.observe(100, start.Add(100*time.Millisecond)); got < 999 || got > 1001 {
		t.Fatalf("expected raw rate before first sample, got %f", got)
	}
}

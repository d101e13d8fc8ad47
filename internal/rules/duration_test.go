package rules

import (
	"testing"
	"time"
)

func TestDurationFiresAfterContinuousSpan(t *testing.T) {
	tr := NewDurationTracker(2*time.Minute, 0)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	d := tr.Observe(true, base)
	if !d.Arm || d.Fire {
		t.Fatalf("first true sample: got %+v, want arm without fire", d)
	}
	if want := base.Add(2 * time.Minute); !d.ArmAt.Equal(want) {
		t.Errorf("ArmAt = %v, want %v", d.ArmAt, want)
	}

	d = tr.Observe(true, base.Add(time.Minute))
	if d.Fire || d.Arm || d.Disarm {
		t.Errorf("mid-span sample: got %+v, want no-op", d)
	}

	d = tr.Observe(true, base.Add(2*time.Minute))
	if !d.Fire {
		t.Errorf("sample at full span: got %+v, want fire", d)
	}
	if !tr.cooling() {
		t.Error("tracker should be in cooldown after fire")
	}
}

func TestDurationResetOnFalseSample(t *testing.T) {
	tr := NewDurationTracker(2*time.Minute, 0)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tr.Observe(true, base)
	d := tr.Observe(false, base.Add(time.Minute))
	if !d.Disarm || d.Fire {
		t.Fatalf("false sample while pending: got %+v, want disarm", d)
	}
	if tr.pending() {
		t.Error("tracker should be idle after reset")
	}

	// The span restarts from the next true sample.
	d = tr.Observe(true, base.Add(90*time.Second))
	if !d.Arm {
		t.Fatalf("re-true after reset: got %+v, want arm", d)
	}
	d = tr.Observe(true, base.Add(2*time.Minute))
	if d.Fire {
		t.Error("only 30s continuous, should not fire")
	}
}

func TestDurationCooldownSuppressesRefire(t *testing.T) {
	tr := NewDurationTracker(time.Minute, 10*time.Minute)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tr.Observe(true, base)
	d := tr.Observe(true, base.Add(time.Minute))
	if !d.Fire {
		t.Fatal("should fire after one minute continuous")
	}

	// True samples during cooldown are ignored entirely.
	for _, offset := range []time.Duration{2 * time.Minute, 5 * time.Minute, 10 * time.Minute} {
		d = tr.Observe(true, base.Add(offset))
		if d.Fire || d.Arm {
			t.Errorf("sample at +%v during cooldown: got %+v, want no-op", offset, d)
		}
	}

	// After cooldown expiry the cycle restarts: the first true sample
	// arms a fresh span, it does not fire immediately.
	d = tr.Observe(true, base.Add(11*time.Minute).Add(time.Second))
	if d.Fire {
		t.Error("first sample after cooldown should not fire")
	}
	if !d.Arm {
		t.Error("first sample after cooldown should arm a fresh span")
	}
	d = tr.Observe(true, base.Add(12*time.Minute).Add(time.Second))
	if !d.Fire {
		t.Error("full span after cooldown should fire again")
	}
}

func TestDurationClockRegressionClamps(t *testing.T) {
	tr := NewDurationTracker(time.Minute, 0)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tr.Observe(true, base)
	// Clock steps backwards: elapsed clamps to zero, never fires.
	d := tr.Observe(true, base.Add(-time.Hour))
	if d.Fire {
		t.Error("clock regression must not satisfy the duration")
	}
	if !tr.pending() {
		t.Error("tracker should remain pending through regression")
	}
}

func TestDeadlineFire(t *testing.T) {
	tr := NewDurationTracker(time.Minute, 5*time.Minute)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tr.Observe(true, base)
	if !tr.DeadlineFire(base.Add(time.Minute)) {
		t.Error("armed deadline with condition still true should fire")
	}
	if !tr.cooling() {
		t.Error("deadline fire should enter cooldown")
	}

	// A deadline that outlived its arming (condition went false, state
	// left pending) is rejected.
	tr2 := NewDurationTracker(time.Minute, 0)
	tr2.Observe(true, base)
	tr2.Observe(false, base.Add(30*time.Second))
	if tr2.DeadlineFire(base.Add(time.Minute)) {
		t.Error("deadline after reset must not fire")
	}
}

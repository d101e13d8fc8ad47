package rules

import "time"

// durationState is the DurationTracker state.
type durationState int

const (
	stateIdle durationState = iota
	statePending
	stateCooldown
)

// Decision tells the engine what to do after an observation: fire the
// monitor's action now, arm a deadline for a fire between samples, or
// disarm a previously armed deadline.
type Decision struct {
	Fire   bool
	Arm    bool
	ArmAt  time.Time
	Disarm bool
}

// DurationTracker gates a monitor on its condition holding continuously
// for a configured span, then suppresses re-fires for a cooldown. The
// engine serializes all calls under the owning monitor's lock.
type DurationTracker struct {
	duration time.Duration
	cooldown time.Duration

	state         durationState
	pendingStart  time.Time
	cooldownUntil time.Time
}

// NewDurationTracker creates a tracker in the Idle state.
func NewDurationTracker(duration, cooldown time.Duration) *DurationTracker {
	return &DurationTracker{duration: duration, cooldown: cooldown}
}

// Observe feeds one condition sample into the state machine.
func (t *DurationTracker) Observe(condTrue bool, now time.Time) Decision {
	if t.state == stateCooldown {
		if now.Before(t.cooldownUntil) {
			// Re-true during cooldown is ignored entirely.
			return Decision{}
		}
		t.state = stateIdle
	}

	switch t.state {
	case stateIdle:
		if !condTrue {
			return Decision{}
		}
		t.state = statePending
		t.pendingStart = now
		return Decision{Arm: true, ArmAt: now.Add(t.duration)}

	case statePending:
		if !condTrue {
			t.state = stateIdle
			return Decision{Disarm: true}
		}
		elapsed := now.Sub(t.pendingStart)
		if elapsed < 0 {
			// Clock regression: clamp, never treat as satisfied.
			elapsed = 0
		}
		if elapsed >= t.duration {
			t.fire(now)
			return Decision{Fire: true, Disarm: true}
		}
		return Decision{}
	}

	return Decision{}
}

// DeadlineFire is called when an armed deadline expires. It reports
// whether the fire is still valid (the condition never went false in the
// meantime).
func (t *DurationTracker) DeadlineFire(now time.Time) bool {
	if t.state != statePending {
		return false
	}
	t.fire(now)
	return true
}

// State accessors used by tests.
func (t *DurationTracker) pending() bool { return t.state == statePending }
func (t *DurationTracker) cooling() bool { return t.state == stateCooldown }

func (t *DurationTracker) fire(now time.Time) {
	t.state = stateCooldown
	t.cooldownUntil = now.Add(t.cooldown)
}

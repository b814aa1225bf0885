package supervisor

import "time"

// RestartPolicy bounds how often a failed task is restarted.
type RestartPolicy struct {
	// InitialDelay is the back-off after the first failure in the window.
	InitialDelay time.Duration

	// MaxDelay caps the exponential back-off.
	MaxDelay time.Duration

	// MaxFailures within Window escalates to a fatal error. 0 means unlimited.
	MaxFailures int

	// Window is how long a failure counts against the budget.
	Window time.Duration

	// StableAfter is how long an incarnation must run for its failure to
	// clear the history.
	StableAfter time.Duration
}

// DefaultRestartPolicy returns the policy used when none is configured.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		MaxFailures:  5,
		Window:       time.Minute,
		StableAfter:  30 * time.Second,
	}
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	def := DefaultRestartPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.StableAfter <= 0 {
		p.StableAfter = def.StableAfter
	}
	return p
}

// restartTracker applies a RestartPolicy to a sequence of failures.
type restartTracker struct {
	policy   RestartPolicy
	failures []time.Time
}

func newRestartTracker(p RestartPolicy) *restartTracker {
	return &restartTracker{policy: p.withDefaults()}
}

// failure records a failure at now of an incarnation that ran for ranFor
// and returns the delay before the next incarnation. escalate is true when
// the budget is spent.
func (t *restartTracker) failure(now time.Time, ranFor time.Duration) (delay time.Duration, escalate bool) {
	if ranFor >= t.policy.StableAfter {
		t.failures = t.failures[:0]
	}

	cutoff := now.Add(-t.policy.Window)
	kept := t.failures[:0]
	for _, at := range t.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.failures = append(kept, now)

	n := len(t.failures)
	if t.policy.MaxFailures > 0 && n >= t.policy.MaxFailures {
		return 0, true
	}
	return t.delay(n), false
}

// delay is InitialDelay * 2^(n-1), capped at MaxDelay.
func (t *restartTracker) delay(n int) time.Duration {
	d := t.policy.InitialDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= t.policy.MaxDelay {
			return t.policy.MaxDelay
		}
	}
	return d
}

func (t *restartTracker) count() int {
	return len(t.failures)
}

package dispatch

import (
	"context"
	"time"
)

// PollAction is what the polling loop does after observing a job state.
type PollAction int

const (
	// PollActive sleeps the active interval and polls again.
	PollActive PollAction = iota
	// PollInactive sleeps the inactive interval and polls again.
	PollInactive
	// PollStart leaves the loop; the job is running.
	PollStart
	// PollFail gives up; the scheduler reports the job as failed.
	PollFail
	// PollStuck terminates the job; it stayed inactive too long.
	PollStuck
)

func (a PollAction) String() string {
	switch a {
	case PollActive:
		return "active"
	case PollInactive:
		return "inactive"
	case PollStart:
		return "start"
	case PollFail:
		return "fail"
	case PollStuck:
		return "stuck"
	}
	return "unknown"
}

// PollPolicy bounds the polling loop.
type PollPolicy struct {
	ActiveInterval   time.Duration
	InactiveInterval time.Duration
	InactiveTries    int
}

// Next is the transition function of the polling loop. It takes the
// remaining inactive tries and the observed state and returns the new
// remaining tries and the action to take.
//
// A queued job restores the full budget. A job that already finished
// between two polls is treated as running.
func (p PollPolicy) Next(tries int, state JobState) (int, PollAction) {
	switch state {
	case StateQueuedActive:
		return p.InactiveTries, PollActive
	case StateRunning, StateDone:
		return tries, PollStart
	case StateFailed:
		return tries, PollFail
	}
	tries--
	if tries <= 0 {
		return 0, PollStuck
	}
	return tries, PollInactive
}

// Interval returns the sleep that follows an action.
func (p PollPolicy) Interval(action PollAction) time.Duration {
	switch action {
	case PollActive:
		return p.ActiveInterval
	case PollInactive:
		return p.InactiveInterval
	}
	return 0
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

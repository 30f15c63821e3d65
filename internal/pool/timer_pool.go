// Package pool provides pooled time.Timer instances for the retry and
// polling paths, avoiding a fresh timer allocation per request.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer from the pool armed with duration d.
//
// Return the timer to the pool with PutTimer when done.
func GetTimer(d time.Duration) *time.Timer {
	v := timerPool.Get()
	if v == nil {
		return time.NewTimer(d)
	}

	t, _ := v.(*time.Timer) // the pool only ever holds *time.Timer
	if t.Reset(d) {
		// The timer was still active; drain a pending tick so the caller
		// cannot observe a stale expiry.
		drain(t)
	}

	return t
}

// PutTimer stops t and returns it to the pool.
//
// t must not be accessed after the call.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// Already fired; drain the tick if the caller never received it.
		drain(t)
	}
	timerPool.Put(t)
}

func drain(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

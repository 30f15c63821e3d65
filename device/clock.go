package device

import "time"

// Clock supplies wall time and recurring timers to the task manager.
// Schedules created through a Clock can be driven deterministically in
// tests by substituting a ManualClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker creates a recurring timer firing every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker is a recurring timer handed out by a Clock.
type Ticker interface {
	// Chan returns the channel the ticks are delivered on.
	Chan() <-chan time.Time
	// Stop shuts the ticker down. It does not close the channel.
	Stop()
	// Reset changes the tick interval to d and restarts the ticker.
	Reset(d time.Duration)
}

// SystemClock is the default Clock backed by the time package.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{ticker: time.NewTicker(d)}
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t *systemTicker) Chan() <-chan time.Time { return t.ticker.C }
func (t *systemTicker) Stop()                  { t.ticker.Stop() }
func (t *systemTicker) Reset(d time.Duration)  { t.ticker.Reset(d) }

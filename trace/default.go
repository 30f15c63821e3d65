package trace

import "sync"

var (
	defMu       sync.RWMutex
	defRecorder Recorder = NopRecorder{}
)

// SetDefault installs the recorder drivers fall back to when no explicit
// recorder option is given. It affects devices opened afterwards, not
// ones already running. Passing nil restores the NopRecorder.
func SetDefault(rec Recorder) {
	if rec == nil {
		rec = NopRecorder{}
	}

	defMu.Lock()
	defRecorder = rec
	defMu.Unlock()
}

// Default returns the package default recorder.
func Default() Recorder {
	defMu.RLock()
	defer defMu.RUnlock()

	return defRecorder
}

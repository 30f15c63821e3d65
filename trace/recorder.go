package trace

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Recorder receives wire events from drivers. Pass nil or NopRecorder to
// disable tracing.
type Recorder interface {
	// Record stores one wire event. Implementations must be safe for
	// concurrent use and must not block the calling driver for long.
	Record(event Event)
}

// NopRecorder discards all events. Use when tracing is disabled.
// NopRecorder is safe for concurrent use and usable as a zero value.
type NopRecorder struct{}

// Record discards the event.
func (NopRecorder) Record(Event) {}

var _ Recorder = NopRecorder{}

// FileRecorder appends wire events to a file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type FileRecorder struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	seq     uint64
	closed  bool
}

// NewFileRecorder creates a FileRecorder that writes to the specified
// path. If the file exists, new events are appended. The file is created
// with permissions 0644 if it doesn't exist.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &FileRecorder{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Record writes an event to the trace file, stamping it with the next
// sequence number. Encoding errors are ignored; tracing must not
// disrupt the drivers.
func (r *FileRecorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.seq++
	event.Seq = r.seq

	_ = r.encoder.Encode(event)
}

// Close closes the trace file. It is safe to call Close multiple times.
// After Close, subsequent Record calls are silently ignored.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	return r.file.Close()
}

var _ Recorder = (*FileRecorder)(nil)

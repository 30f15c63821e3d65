package spectro

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/logger"
)

// statusTask names the recurring status poll on the task manager.
const statusTask = "status-timer"

// ErrInvalidStatus reports a status value outside the instrument's
// documented range.
var ErrInvalidStatus = errors.New("spectro: invalid value received for status")

// BackendOps binds a Backend to one concrete instrument protocol.
type BackendOps struct {
	// Command executes one named command against the instrument,
	// including any status refresh the protocol performs as part of the
	// command flow. Status changes are reported through setStatusLocked.
	Command func(name string) error
	// Status requests the current acquisition status. ok is false for
	// intermediate states, which are ignored until the next poll.
	Status func() (status device.SpectrometerStatus, ok bool, err error)
	// Close closes the instrument transport. Invoked first during
	// Close so a request blocked on I/O is unblocked before the status
	// poll is joined.
	Close func() error
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithBackendLogger sets the logger used by the backend's tasks.
func WithBackendLogger(l logger.Logger) BackendOption {
	return func(b *Backend) { b.logger = l }
}

// WithBackendClock sets the clock the status poll is driven by.
func WithBackendClock(clk device.Clock) BackendOption {
	return func(b *Backend) { b.clock = clk }
}

// Backend drives a command style measurement instrument. It serializes
// command requests, polls the acquisition status on a recurring
// schedule and publishes status changes through the instance emitter.
//
// Command errors, including instrument refusals reported as
// *device.BackendError, return to the caller and are never retried.
// Errors raised by the status poll have no caller and are fatal: they
// are forwarded as device error events and the poll stops.
type Backend struct {
	*device.Commander

	ops      BackendOps
	em       *device.Emitter
	interval time.Duration

	tasks  *device.TaskManager
	logger logger.Logger
	clock  device.Clock
	state  device.AtomicOpState

	mu     sync.Mutex
	status device.SpectrometerStatus
}

// NewBackend creates a backend around ops, requests the initial status
// and arms the status poll. A non-positive interval skips the recurring
// poll; the status is then only refreshed by commands.
//
// The caller owns the transport until NewBackend returns successfully
// and closes it when construction fails.
func NewBackend(ops BackendOps, em *device.Emitter, interval time.Duration, opts ...BackendOption) (*Backend, error) {
	if ops.Command == nil || ops.Status == nil {
		return nil, errors.New("spectro: backend ops must provide Command and Status")
	}

	b := &Backend{
		ops:      ops,
		em:       em,
		interval: interval,
		logger:   logger.GetLogger(),
		clock:    device.SystemClock,
		status:   device.StatusUndefined,
	}
	b.Commander = device.NewCommander(b)
	for _, opt := range opts {
		opt(b)
	}

	b.tasks = device.NewTaskManagerWithClock(context.Background(), b.logger, b.clock)
	b.state.Set(device.OpenedState)

	status, ok, err := b.ops.Status()
	if err != nil {
		return nil, err
	}
	if ok {
		b.setStatusLocked(status)
	}

	if interval > 0 {
		if _, err := b.tasks.StartInterval(statusTask, b.pollStatus, interval, false); err != nil {
			return nil, err
		}
	} else {
		b.logger.Debug("status poll not armed", "interval", interval)
	}

	return b, nil
}

// Emitter returns the emitter the backend sends events through.
func (b *Backend) Emitter() *device.Emitter {
	return b.em
}

// Interval returns the status polling interval.
func (b *Backend) Interval() time.Duration {
	return b.interval
}

// Status returns the last known acquisition status.
func (b *Backend) Status() device.SpectrometerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.status
}

// Closing reports whether Close has been started.
func (b *Backend) Closing() bool {
	return !b.state.IsOpened()
}

// RequestCommand runs the named command through the protocol. Requests
// are serialized; at most one command or status poll is in flight.
func (b *Backend) RequestCommand(name string) error {
	if b.Closing() {
		return device.ErrInstanceClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ops.Command(name)
}

// Close tears the backend down: the transport is closed first so a
// request blocked on I/O returns, then the status poll is joined. After
// Close returns no further events are emitted.
func (b *Backend) Close() error {
	if !b.state.ToClosing() {
		return nil
	}

	var err error
	if b.ops.Close != nil {
		err = b.ops.Close()
	}

	b.tasks.Stop()
	b.tasks.Wait()
	b.em.Close()
	b.state.ToClosed()

	return err
}

// setStatusLocked records a status reported by the protocol and
// publishes it when it changed. Callers hold b.mu; NewBackend calls it
// before the backend is shared.
func (b *Backend) setStatusLocked(status device.SpectrometerStatus) {
	if status == b.status {
		return
	}

	b.status = status
	b.em.Status(status)
}

func (b *Backend) pollStatus() bool {
	if b.Closing() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	status, ok, err := b.ops.Status()
	if err != nil {
		if !b.Closing() {
			b.em.Error(err)
		}

		return false
	}
	if ok {
		b.setStatusLocked(status)
	}

	return true
}

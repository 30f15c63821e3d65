package spectro

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/logger"
)

// Refusals reported by the simulator. The codes and texts match the
// OPUS software's error table.
var (
	errNotIdle               = &device.BackendError{Code: 1, Text: "Status is not 'Idle' although required for current command"}
	errNotRunning            = &device.BackendError{Code: 2, Text: "Status is not 'Running' although required for current command"}
	errNotRunningOrFinishing = &device.BackendError{Code: 3, Text: "Status is not 'Running' or 'Finishing' although required for current command"}
	errUnknownCommand        = &device.BackendError{Code: 4, Text: "Unknown command"}
	errNotConnected          = &device.BackendError{Code: 7, Text: "System not connected"}
)

func init() {
	device.Register(device.Variant{
		BaseType:    device.BaseTypeSpectrometer,
		ID:          "dummy",
		Description: "Dummy spectrometer",
		Parameters: []device.Parameter{
			{Name: "measure_duration", Description: "Duration of a simulated measurement in seconds", Default: "1"},
		},
		New: NewSim,
	})
}

// Sim is the registered device variant simulating a spectrometer with
// no backing instrument. It walks the same state machine as the real
// drivers and refuses commands issued in the wrong state with the
// error codes the OPUS software uses.
//
// A started measurement finishes on its own after the configured
// measure duration unless it is stopped or cancelled first.
type Sim struct {
	*device.Commander

	em              *device.Emitter
	measureDuration time.Duration

	tasks  *device.TaskManager
	logger logger.Logger
	clock  device.Clock
	state  device.AtomicOpState
	done   chan struct{}

	measureTimer device.Ticker

	mu     sync.Mutex
	status device.SpectrometerStatus
}

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithSimLogger sets the simulator logger.
func WithSimLogger(l logger.Logger) SimOption {
	return func(d *Sim) { d.logger = l }
}

// WithSimClock sets the clock the measurement timer is driven by.
func WithSimClock(clk device.Clock) SimOption {
	return func(d *Sim) { d.clock = clk }
}

// NewSim creates a simulated spectrometer. Parameters:
// "measure_duration".
func NewSim(ref device.InstanceRef, params map[string]string, em *device.Emitter) (device.Device, error) {
	value := params["measure_duration"]
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(seconds) || seconds <= 0 {
		return nil, fmt.Errorf("%w: measure_duration=%q", device.ErrInvalidParameter, value)
	}

	return newSim(em, time.Duration(seconds*float64(time.Second)))
}

func newSim(em *device.Emitter, measureDuration time.Duration, opts ...SimOption) (*Sim, error) {
	d := &Sim{
		em:              em,
		measureDuration: measureDuration,
		logger:          logger.GetLogger(),
		clock:           device.SystemClock,
		status:          device.StatusUndefined,
		done:            make(chan struct{}),
	}
	d.Commander = device.NewCommander(d)
	for _, opt := range opts {
		opt(d)
	}

	// The timer stays disarmed until a measurement starts.
	d.measureTimer = d.clock.NewTicker(measureDuration)
	d.measureTimer.Stop()

	d.tasks = device.NewTaskManagerWithClock(context.Background(), d.logger, d.clock)
	d.state.Set(device.OpenedState)
	if err := d.tasks.Start("measure-timer", d.measureLoop); err != nil {
		d.Close()
		return nil, err
	}

	d.mu.Lock()
	d.transition(device.StatusIdle)
	d.mu.Unlock()

	return d, nil
}

// Status returns the current simulated status.
func (d *Sim) Status() device.SpectrometerStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.status
}

// RequestCommand executes one named command against the simulated
// state machine. Commands issued in the wrong state return a
// *device.BackendError with the code the OPUS software would report.
func (d *Sim) RequestCommand(name string) error {
	if !d.state.IsOpened() {
		return device.ErrInstanceClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch name {
	case device.CommandConnect:
		if d.status != device.StatusIdle {
			return errNotIdle
		}
		d.transition(device.StatusConnecting)
		d.transition(device.StatusConnected)
	case device.CommandStart:
		if d.status != device.StatusConnected {
			return errNotConnected
		}
		d.transition(device.StatusMeasuring)
		d.measureTimer.Reset(d.measureDuration)
	case device.CommandStop:
		if d.status != device.StatusMeasuring {
			return errNotRunningOrFinishing
		}
		d.disarmTimer()
		d.finishMeasurement()
	case device.CommandCancel:
		if d.status != device.StatusMeasuring {
			return errNotRunning
		}
		d.disarmTimer()
		d.logger.Info("Cancelling current measurement")
		d.transition(device.StatusCancelling)
		d.transition(device.StatusConnected)
	default:
		return errUnknownCommand
	}

	return nil
}

// Close stops the measurement timer and closes the event channel. It is
// safe to call Close multiple times.
func (d *Sim) Close() error {
	if !d.state.ToClosing() {
		return nil
	}

	close(d.done)
	d.tasks.Stop()
	d.tasks.Wait()
	d.em.Close()
	d.state.ToClosed()

	return nil
}

// measureLoop waits for the measurement timer. One worker runs for the
// lifetime of the simulator; arming and disarming the timer is done by
// the command handlers.
func (d *Sim) measureLoop() bool {
	select {
	case <-d.done:
		return false
	case <-d.measureTimer.Chan():
		d.measureFinished()
		return true
	}
}

// measureFinished handles a timer fire. A tick delivered after the
// measurement was stopped or cancelled is ignored.
func (d *Sim) measureFinished() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status != device.StatusMeasuring {
		return
	}

	d.disarmTimer()
	d.finishMeasurement()
}

// disarmTimer stops the measurement timer and discards a tick that
// already fired. Callers hold d.mu.
func (d *Sim) disarmTimer() {
	d.measureTimer.Stop()
	select {
	case <-d.measureTimer.Chan():
	default:
	}
}

// finishMeasurement walks the measuring state down to connected.
// Callers hold d.mu.
func (d *Sim) finishMeasurement() {
	d.transition(device.StatusFinishing)
	d.transition(device.StatusConnected)
	d.logger.Info("Measurement complete")
}

// transition records a new status and publishes it. Callers hold d.mu.
func (d *Sim) transition(status device.SpectrometerStatus) {
	if status == d.status {
		return
	}

	d.status = status
	d.logger.Debug("Status changed", "status", status.String())
	d.em.Status(status)
}

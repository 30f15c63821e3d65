package device

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/go-instr/logger"
)

// ParsePollInterval converts a poll_interval parameter, in seconds, to a
// duration. NaN and non-positive values select one-shot mode.
func ParsePollInterval(value string) (time.Duration, error) {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: poll_interval=%q", ErrInvalidParameter, value)
	}
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0, nil
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// Poller drives a sensor style device on a recurring schedule. All poll
// requests run on a single worker goroutine so the underlying transport
// never sees concurrent requests; ticks arriving while a poll is still in
// flight are coalesced into at most one pending request.
//
// A non-positive interval selects one-shot mode: StartPolling never arms a
// recurring schedule and the device is polled once when opened.
type Poller struct {
	em       *Emitter
	interval time.Duration
	request  func()

	tasks      *TaskManager
	logger     logger.Logger
	clock      Clock
	closePort  func() error
	trigger    chan struct{}
	done       chan struct{}
	state      AtomicOpState
	workerOnce sync.Once
	workerErr  error
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollerLogger sets the logger used by the poller's tasks.
func WithPollerLogger(l logger.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithPollerClock sets the clock the polling schedule is driven by.
func WithPollerClock(clk Clock) PollerOption {
	return func(p *Poller) { p.clock = clk }
}

// WithPollerCloser registers the transport close function. Close invokes
// it before joining the worker so a request blocked on transport I/O is
// unblocked first.
func WithPollerCloser(closePort func() error) PollerOption {
	return func(p *Poller) { p.closePort = closePort }
}

// NewPoller creates a poller sending readings through em and invoking
// request for every poll. The request function performs the device I/O
// and must call SendReadings with the result.
func NewPoller(em *Emitter, interval time.Duration, request func(), opts ...PollerOption) *Poller {
	p := &Poller{
		em:       em,
		interval: interval,
		request:  request,
		logger:   logger.GetLogger(),
		clock:    SystemClock,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.tasks = NewTaskManagerWithClock(context.Background(), p.logger, p.clock)
	p.state.Set(OpenedState)

	return p
}

// Emitter returns the emitter the poller sends events through.
func (p *Poller) Emitter() *Emitter {
	return p.em
}

// OneShot reports whether the poller is in one-shot mode.
func (p *Poller) OneShot() bool {
	return p.interval <= 0
}

// Interval returns the polling interval, non-positive in one-shot mode.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Closing reports whether Close has been started. Drivers use it to
// suppress error events caused by the transport being torn down.
func (p *Poller) Closing() bool {
	return !p.state.IsOpened()
}

// SendReadings forwards one batch of readings to the consumer channel.
func (p *Poller) SendReadings(readings []Reading) {
	p.em.Readings(readings)
}

// SendError forwards a fatal device error to the consumer channel. Errors
// raised while the poller is closing are dropped.
func (p *Poller) SendError(err error) {
	if p.Closing() {
		return
	}

	p.em.Error(err)
}

// PollOnce schedules a single poll. The request runs asynchronously on
// the worker goroutine; if a poll is already pending the call coalesces
// with it.
func (p *Poller) PollOnce() error {
	if p.Closing() {
		return ErrInstanceClosed
	}
	if err := p.ensureWorker(); err != nil {
		return err
	}

	select {
	case p.trigger <- struct{}{}:
	default:
	}

	return nil
}

// StartPolling arms the recurring polling schedule. In one-shot mode it
// does nothing.
func (p *Poller) StartPolling() error {
	if p.Closing() {
		return ErrInstanceClosed
	}
	if p.OneShot() {
		p.logger.Debug("one-shot mode, polling schedule not armed")
		return nil
	}
	if err := p.ensureWorker(); err != nil {
		return err
	}

	_, err := p.tasks.StartInterval("poll-timer", p.tick, p.interval, false)

	return err
}

// Close tears the poller down: the transport is closed first so a request
// blocked on I/O returns, then the schedule is stopped and the worker is
// joined. After Close returns no further request invocations occur.
func (p *Poller) Close() error {
	if !p.state.ToClosing() {
		return nil
	}

	var err error
	if p.closePort != nil {
		err = p.closePort()
	}

	close(p.done)
	p.tasks.Stop()
	p.tasks.Wait()
	p.em.Close()
	p.state.ToClosed()

	return err
}

func (p *Poller) ensureWorker() error {
	p.workerOnce.Do(func() {
		p.workerErr = p.tasks.Start("poller", p.pollLoop)
	})

	return p.workerErr
}

func (p *Poller) tick() bool {
	select {
	case p.trigger <- struct{}{}:
	default:
		p.logger.Debug("poll still in flight, tick skipped")
	}

	return true
}

func (p *Poller) pollLoop() bool {
	select {
	case <-p.done:
		return false
	case <-p.trigger:
		p.request()
		return true
	}
}

package tec

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/arloliu/go-instr/logger"
	"github.com/arloliu/go-instr/trace"
)

// Transport is the duplex byte stream a Controller drives. ReadUntil
// blocks until the terminator byte arrives or, when max is positive,
// max bytes have been collected. *serial.Port implements Transport.
type Transport interface {
	Write(data []byte) (int, error)
	ReadUntil(terminator byte, max int) ([]byte, error)
	Close() error
}

// Request-level sentinel errors.
var (
	// ErrMaxAttempts reports that every attempt of a request received a
	// malformed frame until the retry budget ran out. It is fatal; the
	// returned error does not match ErrMalformedFrame.
	ErrMaxAttempts = errors.New("tec: maximum number of attempts exceeded")

	// ErrSetPointRange reports a set-point temperature whose encoding
	// does not fit the 4-digit wire format.
	ErrSetPointRange = errors.New("tec: set point temperature out of range")
)

// Command codes understood by the controller. Commands are operation
// codes rendered as zero-padded six-digit hex strings; the set-point
// write carries its value in the lower four digits.
const (
	cmdTemperature = "010000"
	cmdPower       = "020000"
	cmdAlarmStatus = "030000"
	cmdSetPoint    = "500000"

	cmdSetPointWrite = "1c"
)

// Controller implements the checksummed request/response protocol of
// TC-series temperature controllers over a Transport.
//
// A Controller owns its transport exclusively and is not safe for
// concurrent use: at most one request may be in flight per instance.
// Callers that mix polling with writes must serialize access.
type Controller struct {
	transport   Transport
	instance    string
	maxAttempts int
	logger      logger.Logger
	recorder    trace.Recorder
	metrics     ControllerMetrics
}

// NewController creates a Controller over transport. Options are
// applied in order and validated; see the With* functions.
func NewController(transport Transport, opts ...ControllerOption) (*Controller, error) {
	if transport == nil {
		return nil, errors.New("tec: transport must not be nil")
	}

	c := &Controller{
		transport:   transport,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.GetLogger(),
		recorder:    trace.Default(),
	}
	for _, opt := range opts {
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Instance returns the configured instance name.
func (c *Controller) Instance() string { return c.instance }

// MaxAttempts returns the configured retry budget.
func (c *Controller) MaxAttempts() int { return c.maxAttempts }

// Metrics returns the controller's metrics collector.
func (c *Controller) Metrics() *ControllerMetrics { return &c.metrics }

// Close closes the underlying transport.
func (c *Controller) Close() error {
	return c.transport.Close()
}

// Write encodes command into a frame terminated with a carriage return
// and sends it to the device.
func (c *Controller) Write(command string) error {
	frame := EncodeFrame(command, WriteTerminator)
	if _, err := c.transport.Write(frame); err != nil {
		return fmt.Errorf("tec: write command %q: %w", command, err)
	}
	c.record(trace.DirectionTX, frame, "")

	return nil
}

// Read reads one response frame from the device and decodes it.
// Malformed frames are reported with errors matching ErrMalformedFrame;
// transport failures are returned as-is and are not recoverable.
func (c *Controller) Read() (int16, error) {
	frame, err := c.transport.ReadUntil(ReadTerminator, FrameLength)
	if err != nil {
		return 0, fmt.Errorf("tec: read: %w", err)
	}

	value, err := DecodeFrame(frame)
	if err != nil {
		c.record(trace.DirectionRX, frame, err.Error())
		c.metrics.incMalformedFrameCount()
		if errors.Is(err, ErrChecksumMismatch) {
			c.metrics.incChecksumMismatchCount()
		}

		return 0, err
	}
	c.record(trace.DirectionRX, frame, "")

	return value, nil
}

// RequestInt writes command and reads the device's integer reply.
//
// A malformed reply triggers retransmission of the command; each
// attempt is one write/read cycle, bounded by the retry budget. Any
// transport failure is fatal immediately. When every attempt receives
// a malformed frame the returned error matches ErrMaxAttempts.
func (c *Controller) RequestInt(command string) (int, error) {
	c.metrics.incRequestCount()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			c.metrics.incRetryCount()
		}

		if err := c.Write(command); err != nil {
			return 0, err
		}

		value, err := c.Read()
		if err == nil {
			return int(value), nil
		}
		if !errors.Is(err, ErrMalformedFrame) {
			return 0, err
		}

		lastErr = err
		c.logger.Warn("Malformed message; retrying",
			"instance", c.instance, "command", command, "attempt", attempt, "error", err)
	}

	return 0, fmt.Errorf("%w (=%d): %v", ErrMaxAttempts, c.maxAttempts, lastErr)
}

// RequestDecimal writes command and reads the device's reply as a
// decimal value. The wire carries decimals multiplied by ten, keeping
// one fractional digit.
func (c *Controller) RequestDecimal(command string) (float64, error) {
	value, err := c.RequestInt(command)
	if err != nil {
		return 0, err
	}

	return float64(value) / 10.0, nil
}

// Temperature reads the current temperature reported by the device.
func (c *Controller) Temperature() (float64, error) {
	return c.RequestDecimal(cmdTemperature)
}

// Power reads the current power output of the device.
func (c *Controller) Power() (int, error) {
	return c.RequestInt(cmdPower)
}

// AlarmStatus reads the current error status of the device. A value of
// zero indicates that no error has occurred.
func (c *Controller) AlarmStatus() (int, error) {
	return c.RequestInt(cmdAlarmStatus)
}

// SetPoint reads the set point temperature in degrees, the temperature
// the device is aiming towards.
func (c *Controller) SetPoint() (float64, error) {
	return c.RequestDecimal(cmdSetPoint)
}

// SetSetPoint changes the set point to temperature degrees.
//
// The value is transmitted as round(temperature * 10); temperatures
// whose encoding falls outside [0, 0xFFFF] are rejected with
// ErrSetPointRange before any bytes are sent. The device echoes the
// applied value back; an echo differing from the requested value is
// logged as a warning, and the operation still succeeds with the set
// point considered applied as requested.
func (c *Controller) SetSetPoint(temperature float64) error {
	val := int(math.Round(temperature * 10))
	if val < 0 || val > 0xFFFF {
		return fmt.Errorf("%w: %v", ErrSetPointRange, temperature)
	}

	echo, err := c.RequestInt(fmt.Sprintf("%s%04x", cmdSetPointWrite, val))
	if err != nil {
		return err
	}
	if echo != val {
		c.metrics.incSetPointMismatchCount()
		c.logger.Warn("The set point returned by the device differs from the one requested",
			"instance", c.instance, "requested", val, "returned", echo)
	}

	return nil
}

func (c *Controller) record(dir trace.Direction, data []byte, note string) {
	c.recorder.Record(trace.Event{
		Timestamp: time.Now().UTC(),
		Instance:  c.instance,
		Direction: dir,
		Data:      data,
		Note:      note,
	})
}

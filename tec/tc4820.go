package tec

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/serial"
)

// DefaultBaudRate is the factory line speed of TC4820 controllers.
const DefaultBaudRate = 115200

func init() {
	device.Register(device.Variant{
		BaseType:    device.BaseTypeTemperatureController,
		ID:          "tc4820",
		Description: "TC4820",
		Parameters: []device.Parameter{
			{Name: "port", Description: "Serial device path"},
			{Name: "baudrate", Description: "Baud rate of port", Values: serial.BaudRateValues(), Default: strconv.Itoa(DefaultBaudRate)},
			{Name: "poll_interval", Description: "Seconds between readings (0 polls once only)", Default: "1"},
			{Name: "max_attempts", Description: "Maximum number of attempts for requests", Default: strconv.Itoa(DefaultMaxAttempts)},
		},
		New: NewTC4820,
	})
}

// TC4820 is the registered device variant driving TC4820 hardware over
// a serial port.
//
// The polling schedule reads temperature, power, alarm status and set
// point each cycle and publishes them through the instance emitter.
// SetSetPoint may be called while polling runs; a mutex serializes it
// with in-flight polls so the controller never sees concurrent
// requests.
type TC4820 struct {
	*device.Poller

	mu   sync.Mutex
	ctrl *Controller
}

// NewTC4820 opens a TC4820 temperature controller and starts its
// polling schedule. Parameters: "port" (required), "baudrate",
// "poll_interval", "max_attempts".
func NewTC4820(ref device.InstanceRef, params map[string]string, em *device.Emitter) (device.Device, error) {
	baud, err := strconv.Atoi(params["baudrate"])
	if err != nil {
		return nil, fmt.Errorf("%w: baudrate=%q", device.ErrInvalidParameter, params["baudrate"])
	}
	interval, err := device.ParsePollInterval(params["poll_interval"])
	if err != nil {
		return nil, err
	}
	maxAttempts, err := strconv.Atoi(params["max_attempts"])
	if err != nil {
		return nil, fmt.Errorf("%w: max_attempts=%q", device.ErrInvalidParameter, params["max_attempts"])
	}

	port, err := serial.Open(serial.Config{Device: params["port"], BaudRate: baud})
	if err != nil {
		return nil, err
	}

	ctrl, err := NewController(port,
		WithInstance(ref.String()),
		WithMaxAttempts(maxAttempts),
	)
	if err != nil {
		port.Close()
		return nil, err
	}

	return newTC4820(ctrl, em, interval)
}

func newTC4820(ctrl *Controller, em *device.Emitter, interval time.Duration, opts ...device.PollerOption) (*TC4820, error) {
	d := &TC4820{ctrl: ctrl}
	opts = append(opts, device.WithPollerCloser(ctrl.Close))
	d.Poller = device.NewPoller(em, interval, d.requestReadings, opts...)

	if err := d.StartPolling(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.PollOnce(); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

// Controller returns the underlying protocol controller.
func (d *TC4820) Controller() *Controller {
	return d.ctrl
}

// SetSetPoint changes the device set point. Safe to call while the
// polling schedule runs.
func (d *TC4820) SetSetPoint(temperature float64) error {
	if d.Closing() {
		return device.ErrInstanceClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.ctrl.SetSetPoint(temperature)
}

func (d *TC4820) requestReadings() {
	readings, err := d.readProperties()
	if err != nil {
		d.SendError(err)
		return
	}

	d.SendReadings(readings)
}

func (d *TC4820) readProperties() ([]device.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	temperature, err := d.ctrl.Temperature()
	if err != nil {
		return nil, fmt.Errorf("read temperature: %w", err)
	}
	power, err := d.ctrl.Power()
	if err != nil {
		return nil, fmt.Errorf("read power: %w", err)
	}
	alarm, err := d.ctrl.AlarmStatus()
	if err != nil {
		return nil, fmt.Errorf("read alarm status: %w", err)
	}
	setPoint, err := d.ctrl.SetPoint()
	if err != nil {
		return nil, fmt.Errorf("read set point: %w", err)
	}

	return []device.Reading{
		{Name: "temperature", Value: temperature, Unit: "degC"},
		{Name: "power", Value: float64(power)},
		{Name: "alarm_status", Value: float64(alarm)},
		{Name: "set_point", Value: setPoint, Unit: "degC"},
	}, nil
}

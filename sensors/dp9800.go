package sensors

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/serial"
)

// DefaultBaudRate is the factory line speed of DP9800 readers.
const DefaultBaudRate = 38400

func init() {
	device.Register(device.Variant{
		BaseType:    device.BaseTypeTemperatureMonitor,
		ID:          "dp9800",
		Description: "DP9800",
		Parameters: []device.Parameter{
			{Name: "port", Description: "Serial device path"},
			{Name: "baudrate", Description: "Baud rate of port", Values: serial.BaudRateValues(), Default: strconv.Itoa(DefaultBaudRate)},
			{Name: "poll_interval", Description: "Seconds between readings (0 polls once only)", Default: "1"},
		},
		New: NewDP9800,
	})
}

// DP9800 is the registered device variant driving DP9800 temperature
// readers over a serial port.
//
// Each polling cycle reads one record and publishes the eight channel
// temperatures through the instance emitter. A record failing
// validation is a skipped cycle reported as data unavailable; the
// schedule keeps running. Transport failures are fatal.
type DP9800 struct {
	*device.Poller

	mon *Monitor
}

// NewDP9800 opens a DP9800 temperature reader and starts its polling
// schedule. Parameters: "port" (required), "baudrate", "poll_interval".
func NewDP9800(ref device.InstanceRef, params map[string]string, em *device.Emitter) (device.Device, error) {
	baud, err := strconv.Atoi(params["baudrate"])
	if err != nil {
		return nil, fmt.Errorf("%w: baudrate=%q", device.ErrInvalidParameter, params["baudrate"])
	}
	interval, err := device.ParsePollInterval(params["poll_interval"])
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(serial.Config{Device: params["port"], BaudRate: baud})
	if err != nil {
		return nil, err
	}

	mon, err := NewMonitor(port, WithInstance(ref.String()))
	if err != nil {
		port.Close()
		return nil, err
	}

	return newDP9800(mon, em, interval)
}

func newDP9800(mon *Monitor, em *device.Emitter, interval time.Duration, opts ...device.PollerOption) (*DP9800, error) {
	d := &DP9800{mon: mon}
	opts = append(opts, device.WithPollerCloser(mon.Close))
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

// Monitor returns the underlying protocol monitor.
func (d *DP9800) Monitor() *Monitor {
	return d.mon
}

func (d *DP9800) requestReadings() {
	readings, err := d.readTemperatures()
	switch {
	case err == nil:
		d.SendReadings(readings)
	case errors.Is(err, ErrMalformedRecord):
		d.SendError(fmt.Errorf("%w: %w", device.ErrDataUnavailable, err))
	default:
		d.SendError(err)
	}
}

func (d *DP9800) readTemperatures() ([]device.Reading, error) {
	temps, sysflag, err := d.mon.Temperatures()
	if err != nil {
		return nil, fmt.Errorf("read temperatures: %w", err)
	}

	unit := readingUnit(sysflag)
	readings := make([]device.Reading, len(temps))
	for i, temp := range temps {
		readings[i] = device.Reading{Name: fmt.Sprintf("channel%d", i+1), Value: temp, Unit: unit}
	}

	return readings, nil
}

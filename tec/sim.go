package tec

import (
	"sync"
	"time"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/internal/noise"
)

// Noise distributions of the simulated controller. Distinct seeds keep
// the two streams uncorrelated.
var (
	simTemperatureNoise = noise.Params{Mean: 35.0, Stddev: 0.1, Seed: noise.DefaultSeed}
	simPowerNoise       = noise.Params{Mean: 40.0, Stddev: 2.0, Seed: noise.DefaultSeed + 1}
)

const simInitialSetPoint = 70.0

func init() {
	device.Register(device.Variant{
		BaseType:    device.BaseTypeTemperatureController,
		ID:          "dummy",
		Description: "Dummy temperature controller",
		Parameters: []device.Parameter{
			{Name: "poll_interval", Description: "Seconds between readings (0 polls once only)", Default: "1"},
		},
		New: NewSim,
	})
}

// Sim is a simulated temperature controller producing normally
// distributed temperature and power readings. The alarm status is
// always zero and the set point reflects SetSetPoint exactly.
type Sim struct {
	*device.Poller

	mu          sync.Mutex
	temperature *noise.Producer
	power       *noise.Producer
	alarmStatus int
	setPoint    float64
}

// NewSim creates a simulated temperature controller and starts its
// polling schedule. Parameters: "poll_interval".
func NewSim(ref device.InstanceRef, params map[string]string, em *device.Emitter) (device.Device, error) {
	interval, err := device.ParsePollInterval(params["poll_interval"])
	if err != nil {
		return nil, err
	}

	return newSim(em, interval)
}

func newSim(em *device.Emitter, interval time.Duration, opts ...device.PollerOption) (*Sim, error) {
	d := &Sim{
		temperature: noise.FromParams(simTemperatureNoise),
		power:       noise.FromParams(simPowerNoise),
		setPoint:    simInitialSetPoint,
	}
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

// SetSetPoint changes the simulated set point.
func (d *Sim) SetSetPoint(temperature float64) error {
	if d.Closing() {
		return device.ErrInstanceClosed
	}

	d.mu.Lock()
	d.setPoint = temperature
	d.mu.Unlock()

	return nil
}

// SetPoint returns the current simulated set point.
func (d *Sim) SetPoint() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.setPoint
}

func (d *Sim) requestReadings() {
	d.mu.Lock()
	readings := []device.Reading{
		{Name: "temperature", Value: d.temperature.Float64(), Unit: "degC"},
		{Name: "power", Value: float64(d.power.Int())},
		{Name: "alarm_status", Value: float64(d.alarmStatus)},
		{Name: "set_point", Value: d.setPoint, Unit: "degC"},
	}
	d.mu.Unlock()

	d.SendReadings(readings)
}

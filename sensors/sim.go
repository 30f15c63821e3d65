package sensors

import (
	"fmt"
	"time"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/internal/noise"
)

// simBaseTemps are the mean channel temperatures of the simulated
// monitor.
var simBaseTemps = [...]float64{19, 17, 26, 22, 24, 68, 69, 24}

const simTempStddev = 0.1

func init() {
	device.Register(device.Variant{
		BaseType:    device.BaseTypeTemperatureMonitor,
		ID:          "dummy",
		Description: "Dummy temperature monitor",
		Parameters: []device.Parameter{
			{Name: "poll_interval", Description: "Seconds between readings (0 polls once only)", Default: "1"},
		},
		New: NewSim,
	})
}

// Sim is a simulated temperature monitor producing normally distributed
// readings for eight channels. Distinct seeds keep the channels
// uncorrelated.
type Sim struct {
	*device.Poller

	channels []*noise.Producer
}

// NewSim creates a simulated temperature monitor and starts its polling
// schedule. Parameters: "poll_interval".
func NewSim(ref device.InstanceRef, params map[string]string, em *device.Emitter) (device.Device, error) {
	interval, err := device.ParsePollInterval(params["poll_interval"])
	if err != nil {
		return nil, err
	}

	return newSim(em, interval)
}

func newSim(em *device.Emitter, interval time.Duration, opts ...device.PollerOption) (*Sim, error) {
	d := &Sim{channels: make([]*noise.Producer, len(simBaseTemps))}
	for i, mean := range simBaseTemps {
		d.channels[i] = noise.New(mean, simTempStddev, noise.DefaultSeed+uint64(i))
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

func (d *Sim) requestReadings() {
	readings := make([]device.Reading, len(d.channels))
	for i, ch := range d.channels {
		readings[i] = device.Reading{Name: fmt.Sprintf("channel%d", i+1), Value: ch.Float64(), Unit: "degC"}
	}

	d.SendReadings(readings)
}

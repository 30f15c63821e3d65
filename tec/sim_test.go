package tec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-instr/device"
)

func newSimFixture(t *testing.T, interval time.Duration) (*Sim, chan device.Event, *device.ManualClock) {
	t.Helper()

	events := make(chan device.Event, 16)
	clock := device.NewManualClock(time.Now())
	ref := device.InstanceRef{BaseType: device.BaseTypeTemperatureController, Name: "cold_bb"}

	sim, err := newSim(device.NewEmitter(ref, events), interval, device.WithPollerClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sim.Close() })

	return sim, events, clock
}

func readingsByName(t *testing.T, ev device.Event) map[string]device.Reading {
	t.Helper()

	readings, ok := ev.(device.ReadingsEvent)
	require.True(t, ok, "expected readings event, got %T", ev)

	byName := make(map[string]device.Reading, len(readings.Readings))
	for _, r := range readings.Readings {
		byName[r.Name] = r
	}

	return byName
}

func TestSim_Registration(t *testing.T) {
	v, ok := device.DefaultRegistry().Variant(device.BaseTypeTemperatureController, "dummy")
	require.True(t, ok)
	assert.Equal(t, "Dummy temperature controller", v.Description)
}

func TestSim_PublishesReadings(t *testing.T) {
	_, events, clock := newSimFixture(t, time.Second)

	byName := readingsByName(t, waitEvent(t, events))
	require.Len(t, byName, 4)

	assert.InDelta(t, 35.0, byName["temperature"].Value, 1.0)
	assert.Equal(t, "degC", byName["temperature"].Unit)
	assert.InDelta(t, 40.0, byName["power"].Value, 10.0)
	assert.Equal(t, 0.0, byName["alarm_status"].Value)
	assert.Equal(t, 70.0, byName["set_point"].Value)

	clock.Advance(time.Second)
	byName = readingsByName(t, waitEvent(t, events))
	assert.InDelta(t, 35.0, byName["temperature"].Value, 1.0)
}

func TestSim_Deterministic(t *testing.T) {
	_, eventsA, _ := newSimFixture(t, time.Second)
	_, eventsB, _ := newSimFixture(t, time.Second)

	a := readingsByName(t, waitEvent(t, eventsA))
	b := readingsByName(t, waitEvent(t, eventsB))

	// fixed seed: two fresh simulators produce the same sequence
	assert.Equal(t, a["temperature"].Value, b["temperature"].Value)
	assert.Equal(t, a["power"].Value, b["power"].Value)
}

func TestSim_SetSetPoint(t *testing.T) {
	sim, events, clock := newSimFixture(t, time.Second)
	waitEvent(t, events)

	require.NoError(t, sim.SetSetPoint(55.5))
	assert.Equal(t, 55.5, sim.SetPoint())

	clock.Advance(time.Second)
	byName := readingsByName(t, waitEvent(t, events))
	assert.Equal(t, 55.5, byName["set_point"].Value)
}

func TestSim_Close(t *testing.T) {
	sim, events, clock := newSimFixture(t, time.Second)
	waitEvent(t, events)

	require.NoError(t, sim.Close())

	clock.Advance(10 * time.Second)
	assertNoEvent(t, events)

	assert.ErrorIs(t, sim.SetSetPoint(50.0), device.ErrInstanceClosed)
}

func TestNewSim_Factory(t *testing.T) {
	events := make(chan device.Event, 16)
	ref := device.InstanceRef{BaseType: device.BaseTypeTemperatureController, Name: "cold_bb"}
	em := device.NewEmitter(ref, events)

	dev, err := NewSim(ref, map[string]string{"poll_interval": "0"}, em)
	require.NoError(t, err)
	defer dev.Close()

	ev := waitEvent(t, events)
	readings, ok := ev.(device.ReadingsEvent)
	require.True(t, ok)
	assert.Equal(t, ref, readings.Instance)

	_, err = NewSim(ref, map[string]string{"poll_interval": "soon"}, em)
	assert.ErrorIs(t, err, device.ErrInvalidParameter)
}

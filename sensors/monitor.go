package sensors

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-instr/logger"
	"github.com/arloliu/go-instr/trace"
)

// Transport is the duplex byte stream a Monitor drives. ReadUntil
// blocks until the terminator byte arrives or, when max is positive,
// max bytes have been collected. *serial.Port implements Transport.
type Transport interface {
	Write(data []byte) (int, error)
	ReadUntil(terminator byte, max int) ([]byte, error)
	Close() error
}

// MonitorMetrics contains atomic counters for a Monitor. Metrics can be
// used as the value of a prometheus CounterFunc.
type MonitorMetrics struct {
	// RequestCount indicates the total number of read requests.
	RequestCount atomic.Uint64
	// MalformedRecordCount indicates the number of records that failed
	// validation.
	MalformedRecordCount atomic.Uint64
	// BCCErrorCount indicates the number of records rejected by the
	// block check character.
	BCCErrorCount atomic.Uint64
}

func (m *MonitorMetrics) incRequestCount()         { m.RequestCount.Add(1) }
func (m *MonitorMetrics) incMalformedRecordCount() { m.MalformedRecordCount.Add(1) }
func (m *MonitorMetrics) incBCCErrorCount()        { m.BCCErrorCount.Add(1) }

// MonitorOption is a functional option for configuring a Monitor.
type MonitorOption interface {
	apply(*Monitor) error
}

type monitorOptFunc func(*Monitor) error

func (f monitorOptFunc) apply(m *Monitor) error { return f(m) }

// WithInstance sets the instance name used to label log and trace
// records.
func WithInstance(name string) MonitorOption {
	return monitorOptFunc(func(m *Monitor) error {
		m.instance = name
		return nil
	})
}

// WithLogger sets the logger for the monitor.
func WithLogger(l logger.Logger) MonitorOption {
	return monitorOptFunc(func(m *Monitor) error {
		if l == nil {
			return errors.New("sensors: logger must not be nil")
		}
		m.logger = l

		return nil
	})
}

// WithRecorder sets a wire-trace recorder that receives every request
// and record exchanged with the device.
func WithRecorder(rec trace.Recorder) MonitorOption {
	return monitorOptFunc(func(m *Monitor) error {
		if rec == nil {
			return errors.New("sensors: recorder must not be nil")
		}
		m.recorder = rec

		return nil
	})
}

// Monitor implements the record read protocol of DP9800 temperature
// readers over a Transport.
//
// A Monitor owns its transport exclusively and is not safe for
// concurrent use: at most one read cycle may be in flight per instance.
type Monitor struct {
	transport Transport
	instance  string
	logger    logger.Logger
	recorder  trace.Recorder
	metrics   MonitorMetrics
}

// NewMonitor creates a Monitor over transport. Options are applied in
// order and validated; see the With* functions.
func NewMonitor(transport Transport, opts ...MonitorOption) (*Monitor, error) {
	if transport == nil {
		return nil, errors.New("sensors: transport must not be nil")
	}

	m := &Monitor{
		transport: transport,
		logger:    logger.GetLogger(),
		recorder:  trace.Default(),
	}
	for _, opt := range opts {
		if err := opt.apply(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Instance returns the configured instance name.
func (m *Monitor) Instance() string { return m.instance }

// Metrics returns the monitor's metrics collector.
func (m *Monitor) Metrics() *MonitorMetrics { return &m.metrics }

// Close closes the underlying transport.
func (m *Monitor) Close() error {
	return m.transport.Close()
}

// Temperatures performs one read cycle: it requests a record from the
// instrument, reads it and decodes the channel temperatures and the
// system flag. The decoded settings are logged at debug level.
//
// Malformed records are reported with errors matching
// ErrMalformedRecord; transport failures are returned as-is and are
// not recoverable.
func (m *Monitor) Temperatures() ([]float64, byte, error) {
	m.metrics.incRequestCount()

	if _, err := m.transport.Write(readRequest); err != nil {
		return nil, 0, fmt.Errorf("sensors: request read: %w", err)
	}
	m.record(trace.DirectionTX, readRequest, "")

	record, err := m.transport.ReadUntil(RecordTerminator, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("sensors: read: %w", err)
	}

	temps, sysflag, err := DecodeRecord(record)
	if err != nil {
		m.record(trace.DirectionRX, record, err.Error())
		m.metrics.incMalformedRecordCount()
		if errors.Is(err, ErrBCCMismatch) {
			m.metrics.incBCCErrorCount()
		}

		return nil, 0, err
	}
	m.record(trace.DirectionRX, record, "")

	settings := DecodeSettings(sysflag)
	m.logger.Debug("Instrument settings",
		"instance", m.instance,
		"instrument_type", settings.InstrumentType,
		"logging", settings.LoggingState,
		"scanning", settings.ScanningState,
		"audible", settings.AudibleState,
		"unit", settings.TemperatureUnit)

	return temps, sysflag, nil
}

func (m *Monitor) record(dir trace.Direction, data []byte, note string) {
	m.recorder.Record(trace.Event{
		Timestamp: time.Now().UTC(),
		Instance:  m.instance,
		Direction: dir,
		Data:      data,
		Note:      note,
	})
}

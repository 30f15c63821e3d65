package tecintegration

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-instr/logger"
	"github.com/arloliu/go-instr/tec"
	"github.com/arloliu/go-instr/trace"
)

// badChecksumReply is the frame a TC-series device sends when the
// checksum of the command it received did not match.
const badChecksumReply = "*XXXX60^"

// Reply fault modes consumed by the scripted device, one per command.
const (
	faultChecksum = "checksum" // corrupt the checksum field of the reply
	faultReject   = "reject"   // reply with the device's bad-checksum frame
	faultTruncate = "truncate" // reply with a frame shorter than 8 bytes
	faultDrop     = "drop"     // close the connection without replying
)

// pipeTransport adapts one end of a net.Pipe to tec.Transport.
type pipeTransport struct {
	conn net.Conn
}

func (p *pipeTransport) Write(data []byte) (int, error) {
	return p.conn.Write(data)
}

func (p *pipeTransport) ReadUntil(terminator byte, max int) ([]byte, error) {
	buf := make([]byte, 0, max)
	one := make([]byte, 1)
	for {
		if _, err := p.conn.Read(one); err != nil {
			return nil, err
		}
		buf = append(buf, one[0])
		if one[0] == terminator || (max > 0 && len(buf) >= max) {
			return buf, nil
		}
	}
}

func (p *pipeTransport) Close() error {
	return p.conn.Close()
}

// scriptedDevice emulates a TC-series controller on the far end of a
// duplex pipe. It answers property reads from its register values,
// applies set-point writes and can be told to garble upcoming replies.
type scriptedDevice struct {
	conn net.Conn
	done chan struct{}

	mu          sync.Mutex
	temperature int16 // tenths of a degree
	power       int16
	alarm       int16
	setPoint    int16 // tenths of a degree
	maxSetPoint int16 // writes above this are clamped, 0 disables
	faults      []string

	frames atomic.Int64
}

func newScriptedDevice(conn net.Conn) *scriptedDevice {
	return &scriptedDevice{conn: conn, done: make(chan struct{})}
}

func (d *scriptedDevice) run() {
	defer close(d.done)

	reader := bufio.NewReader(d.conn)
	for {
		frame, err := reader.ReadBytes(tec.WriteTerminator)
		if err != nil {
			return
		}
		d.frames.Add(1)

		reply, ok := d.handle(frame)
		if !ok {
			_ = d.conn.Close()
			return
		}
		if _, err := d.conn.Write(reply); err != nil {
			return
		}
	}
}

// handle decodes one command frame and builds the reply. A false
// return drops the connection instead of replying.
func (d *scriptedDevice) handle(frame []byte) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Command frames are '*', 6 payload digits, 2 checksum digits, CR.
	if len(frame) != 10 || frame[0] != '*' {
		return []byte(badChecksumReply), true
	}
	payload := string(frame[1:7])
	if string(frame[7:9]) != tec.Checksum(payload) {
		return []byte(badChecksumReply), true
	}

	value := d.dispatch(payload)
	reply := tec.EncodeFrame(fmt.Sprintf("%04x", uint16(value)), tec.ReadTerminator)

	switch d.nextFault() {
	case faultChecksum:
		if reply[5] == '0' {
			reply[5] = '1'
		} else {
			reply[5] = '0'
		}
		return reply, true
	case faultReject:
		return []byte(badChecksumReply), true
	case faultTruncate:
		return []byte("*00^"), true
	case faultDrop:
		return nil, false
	default:
		return reply, true
	}
}

func (d *scriptedDevice) dispatch(payload string) int16 {
	switch {
	case payload == "010000":
		return d.temperature
	case payload == "020000":
		return d.power
	case payload == "030000":
		return d.alarm
	case payload == "500000":
		return d.setPoint
	case strings.HasPrefix(payload, "1c"):
		raw, err := strconv.ParseUint(payload[2:], 16, 16)
		if err != nil {
			return 0
		}
		value := int16(raw)
		if d.maxSetPoint > 0 && value > d.maxSetPoint {
			value = d.maxSetPoint
		}
		d.setPoint = value

		return value
	default:
		return 0
	}
}

func (d *scriptedDevice) nextFault() string {
	if len(d.faults) == 0 {
		return ""
	}
	fault := d.faults[0]
	d.faults = d.faults[1:]

	return fault
}

func (d *scriptedDevice) injectFaults(modes ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, modes...)
}

func (d *scriptedDevice) setRegisters(temperature, power, alarm, setPoint int16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.temperature = temperature
	d.power = power
	d.alarm = alarm
	d.setPoint = setPoint
}

func (d *scriptedDevice) clampSetPoint(max int16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxSetPoint = max
}

func (d *scriptedDevice) setPointValue() int16 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.setPoint
}

func (d *scriptedDevice) frameCount() int64 {
	return d.frames.Load()
}

func newQuietLogger() *logger.MockLogger {
	mockLogger := logger.NewMockLogger()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Return()
	mockLogger.On("Info", mock.Anything, mock.Anything).Return()
	mockLogger.On("Warn", mock.Anything, mock.Anything).Return()
	mockLogger.On("Error", mock.Anything, mock.Anything).Return()

	return mockLogger
}

// newBench wires a controller to a scripted device over an in-memory
// duplex pipe and arranges teardown of both ends.
func newBench(t *testing.T, opts ...tec.ControllerOption) (*tec.Controller, *scriptedDevice) {
	t.Helper()

	devConn, ctlConn := net.Pipe()
	dev := newScriptedDevice(devConn)
	go dev.run()

	opts = append([]tec.ControllerOption{tec.WithLogger(newQuietLogger())}, opts...)
	ctl, err := tec.NewController(&pipeTransport{conn: ctlConn}, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = ctl.Close()
		_ = devConn.Close()
		select {
		case <-dev.done:
		case <-time.After(time.Second):
			t.Error("scripted device did not exit")
		}
	})

	return ctl, dev
}

func TestTEC_Integration_PropertyExchange(t *testing.T) {
	ctl, dev := newBench(t)
	dev.setRegisters(236, 512, 0, 180)

	temperature, err := ctl.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, 23.6, temperature, 1e-9)

	power, err := ctl.Power()
	require.NoError(t, err)
	assert.Equal(t, 512, power)

	alarm, err := ctl.AlarmStatus()
	require.NoError(t, err)
	assert.Equal(t, 0, alarm)

	setPoint, err := ctl.SetPoint()
	require.NoError(t, err)
	assert.InDelta(t, 18.0, setPoint, 1e-9)

	// Negative temperatures travel as the unsigned cast of their value.
	dev.setRegisters(-45, 512, 0, 180)
	temperature, err = ctl.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, -4.5, temperature, 1e-9)

	assert.Equal(t, uint64(5), ctl.Metrics().RequestCount.Load())
	assert.Equal(t, uint64(0), ctl.Metrics().RetryCount.Load())
	assert.Equal(t, int64(5), dev.frameCount())
}

func TestTEC_Integration_SetPointRoundTrip(t *testing.T) {
	ctl, dev := newBench(t)

	require.NoError(t, ctl.SetSetPoint(21.5))
	assert.Equal(t, int16(215), dev.setPointValue())

	setPoint, err := ctl.SetPoint()
	require.NoError(t, err)
	assert.InDelta(t, 21.5, setPoint, 1e-9)

	assert.Equal(t, uint64(0), ctl.Metrics().SetPointMismatchCount.Load())
}

func TestTEC_Integration_SetPointEchoMismatch(t *testing.T) {
	ctl, dev := newBench(t)
	dev.clampSetPoint(400)

	// The device clamps to 40.0 degrees and echoes the applied value.
	require.NoError(t, ctl.SetSetPoint(55.0))
	assert.Equal(t, int16(400), dev.setPointValue())
	assert.Equal(t, uint64(1), ctl.Metrics().SetPointMismatchCount.Load())

	setPoint, err := ctl.SetPoint()
	require.NoError(t, err)
	assert.InDelta(t, 40.0, setPoint, 1e-9)
}

func TestTEC_Integration_RetryRecoversFromGarbledReplies(t *testing.T) {
	ctl, dev := newBench(t, tec.WithMaxAttempts(3))
	dev.setRegisters(301, 0, 0, 0)
	dev.injectFaults(faultChecksum, faultReject)

	temperature, err := ctl.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, 30.1, temperature, 1e-9)

	assert.Equal(t, int64(3), dev.frameCount())
	assert.Equal(t, uint64(1), ctl.Metrics().RequestCount.Load())
	assert.Equal(t, uint64(2), ctl.Metrics().RetryCount.Load())
	assert.Equal(t, uint64(2), ctl.Metrics().MalformedFrameCount.Load())
	assert.Equal(t, uint64(1), ctl.Metrics().ChecksumMismatchCount.Load())
}

func TestTEC_Integration_RetryRecoversFromTruncatedReply(t *testing.T) {
	ctl, dev := newBench(t, tec.WithMaxAttempts(2))
	dev.setRegisters(0, 77, 0, 0)
	dev.injectFaults(faultTruncate)

	power, err := ctl.Power()
	require.NoError(t, err)
	assert.Equal(t, 77, power)

	assert.Equal(t, int64(2), dev.frameCount())
	assert.Equal(t, uint64(1), ctl.Metrics().RetryCount.Load())
	assert.Equal(t, uint64(1), ctl.Metrics().MalformedFrameCount.Load())
	assert.Equal(t, uint64(0), ctl.Metrics().ChecksumMismatchCount.Load())
}

func TestTEC_Integration_RetryExhaustion(t *testing.T) {
	ctl, dev := newBench(t, tec.WithMaxAttempts(3))
	dev.injectFaults(faultChecksum, faultChecksum, faultChecksum)

	_, err := ctl.Temperature()
	require.Error(t, err)
	assert.ErrorIs(t, err, tec.ErrMaxAttempts)
	assert.NotErrorIs(t, err, tec.ErrMalformedFrame)

	assert.Equal(t, int64(3), dev.frameCount())
	assert.Equal(t, uint64(2), ctl.Metrics().RetryCount.Load())
	assert.Equal(t, uint64(3), ctl.Metrics().MalformedFrameCount.Load())
}

func TestTEC_Integration_DeviceDisconnect(t *testing.T) {
	ctl, dev := newBench(t, tec.WithMaxAttempts(3))
	dev.injectFaults(faultDrop)

	_, err := ctl.Temperature()
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.NotErrorIs(t, err, tec.ErrMaxAttempts)
	assert.NotErrorIs(t, err, tec.ErrMalformedFrame)

	// The transport failure is fatal, no retransmission happens.
	assert.Equal(t, int64(1), dev.frameCount())
	assert.Equal(t, uint64(0), ctl.Metrics().RetryCount.Load())
}

func TestTEC_Integration_TraceRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exchange.cbor")
	rec, err := trace.NewFileRecorder(path)
	require.NoError(t, err)

	ctl, dev := newBench(t,
		tec.WithMaxAttempts(3),
		tec.WithInstance("temperature_controller.hot_bb"),
		tec.WithRecorder(rec),
	)
	dev.setRegisters(250, 0, 0, 0)
	dev.injectFaults(faultChecksum)

	temperature, err := ctl.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, 25.0, temperature, 1e-9)
	require.NoError(t, rec.Close())

	events, err := trace.ReadAll(path, trace.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 4)

	wantDirections := []trace.Direction{
		trace.DirectionTX, trace.DirectionRX,
		trace.DirectionTX, trace.DirectionRX,
	}
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Seq, "event %d", i)
		assert.Equal(t, wantDirections[i], event.Direction, "event %d", i)
		assert.Equal(t, "temperature_controller.hot_bb", event.Instance, "event %d", i)
		require.NotEmpty(t, event.Data, "event %d", i)
		assert.EqualValues(t, '*', event.Data[0], "event %d", i)
		assert.False(t, event.Timestamp.IsZero(), "event %d", i)

		last := event.Data[len(event.Data)-1]
		if event.Direction == trace.DirectionTX {
			assert.EqualValues(t, tec.WriteTerminator, last, "event %d", i)
		} else {
			assert.EqualValues(t, tec.ReadTerminator, last, "event %d", i)
		}
	}

	// The garbled reply carries its decode error, the rest are clean.
	assert.Contains(t, events[1].Note, "checksum")
	assert.Empty(t, events[0].Note)
	assert.Empty(t, events[2].Note)
	assert.Empty(t, events[3].Note)

	// Retransmissions repeat the command frame byte for byte.
	assert.Equal(t, events[0].Data, events[2].Data)
}

func TestTEC_Integration_SequentialSessions(t *testing.T) {
	ctl, dev := newBench(t)
	dev.setRegisters(200, 300, 0, 100)

	for i := 0; i < 20; i++ {
		temperature, err := ctl.Temperature()
		require.NoError(t, err, "round %d", i)
		assert.InDelta(t, 20.0, temperature, 1e-9, "round %d", i)

		want := 10.0 + float64(i)
		require.NoError(t, ctl.SetSetPoint(want), "round %d", i)

		setPoint, err := ctl.SetPoint()
		require.NoError(t, err, "round %d", i)
		assert.InDelta(t, want, setPoint, 1e-9, "round %d", i)
	}

	assert.Equal(t, uint64(60), ctl.Metrics().RequestCount.Load())
	assert.Equal(t, uint64(0), ctl.Metrics().RetryCount.Load())
	assert.Equal(t, int64(60), dev.frameCount())
}

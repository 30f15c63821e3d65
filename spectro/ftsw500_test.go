package spectro

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/trace"
)

// ftswServer serves scripted replies on the far end of a pipe. Each
// received command line consumes one reply verbatim, so a reply must
// carry its own terminator. The received commands are delivered once
// the script is exhausted or the connection drops.
func ftswServer(t *testing.T, conn net.Conn, replies ...string) <-chan []string {
	t.Helper()

	requests := make(chan []string, 1)
	go func() {
		reader := bufio.NewReader(conn)
		var got []string
		for _, reply := range replies {
			line, err := reader.ReadString('\n')
			if err != nil {
				break
			}
			got = append(got, strings.TrimSuffix(line, "\n"))
			if _, err := conn.Write([]byte(reply)); err != nil {
				break
			}
		}
		requests <- got
	}()

	return requests
}

func newPipeClient(t *testing.T, opts ...ClientOption) (*FTSW500Client, net.Conn) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	client, err := NewFTSW500Client(clientConn, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, serverConn
}

func TestParseFTSW500Response(t *testing.T) {
	args, err := parseFTSW500Response("ACK&2")
	require.NoError(t, err)
	assert.Equal(t, "2", args)

	args, err = parseFTSW500Response("ACK")
	require.NoError(t, err)
	assert.Equal(t, "", args)

	_, err = parseFTSW500Response("NAK&Device busy")
	var backendErr *device.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "Device busy", backendErr.Text)
	assert.Equal(t, "Device busy", backendErr.Error())

	_, err = parseFTSW500Response("garbage")
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	_, err = parseFTSW500Response("")
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestNewFTSW500Client_Validation(t *testing.T) {
	_, err := NewFTSW500Client(nil)
	assert.Error(t, err)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	_, err = NewFTSW500Client(clientConn, WithLogger(nil))
	assert.Error(t, err)

	_, err = NewFTSW500Client(clientConn, WithRecorder(nil))
	assert.Error(t, err)

	_, err = NewFTSW500Client(clientConn, WithTimeout(0))
	assert.Error(t, err)
}

func TestFTSW500Client_Request(t *testing.T) {
	rec := &memRecorder{}
	client, serverConn := newPipeClient(t, WithInstance("spectrometer"), WithRecorder(rec))
	requests := ftswServer(t, serverConn, "ACK&5\n")

	args, err := client.Request("getFTSW500State")
	require.NoError(t, err)
	assert.Equal(t, "5", args)
	assert.Equal(t, []string{"getFTSW500State"}, <-requests)
	assert.Equal(t, uint64(1), client.Metrics().RequestCount.Load())
	assert.Equal(t, uint64(0), client.Metrics().BackendErrorCount.Load())

	require.Len(t, rec.events, 2)
	assert.Equal(t, trace.DirectionTX, rec.events[0].Direction)
	assert.Equal(t, []byte("getFTSW500State\n"), rec.events[0].Data)
	assert.Equal(t, "spectrometer", rec.events[0].Instance)
	assert.Equal(t, trace.DirectionRX, rec.events[1].Direction)
	assert.Equal(t, []byte("ACK&5\n"), rec.events[1].Data)
	assert.Empty(t, rec.events[1].Note)
}

func TestFTSW500Client_NAK(t *testing.T) {
	rec := &memRecorder{}
	client, serverConn := newPipeClient(t, WithRecorder(rec))
	ftswServer(t, serverConn, "NAK&Scan already running\n")

	_, err := client.Request("clickStartAcquisitionButton")
	var backendErr *device.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "Scan already running", backendErr.Text)
	assert.Equal(t, uint64(1), client.Metrics().BackendErrorCount.Load())

	require.Len(t, rec.events, 2)
	assert.NotEmpty(t, rec.events[1].Note)
}

func TestFTSW500Client_ConnectionTerminated(t *testing.T) {
	client, serverConn := newPipeClient(t)
	go func() {
		reader := bufio.NewReader(serverConn)
		_, _ = reader.ReadString('\n')
		serverConn.Close()
	}()

	_, err := client.Request("getFTSW500State")
	assert.ErrorIs(t, err, ErrConnectionTerminated)
}

func TestFTSW500Client_MissingTerminator(t *testing.T) {
	client, serverConn := newPipeClient(t)
	go func() {
		reader := bufio.NewReader(serverConn)
		_, _ = reader.ReadString('\n')
		_, _ = serverConn.Write([]byte("ACK&5"))
		serverConn.Close()
	}()

	_, err := client.Request("getFTSW500State")
	assert.ErrorIs(t, err, ErrResponseTerminator)
}

func TestFTSW500Client_Timeout(t *testing.T) {
	client, serverConn := newPipeClient(t, WithTimeout(50*time.Millisecond))
	go func() {
		reader := bufio.NewReader(serverConn)
		// swallow the request and never reply
		_, _ = reader.ReadString('\n')
	}()
	defer serverConn.Close()

	_, err := client.Request("getFTSW500State")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read response")
}

func TestFTSW500Client_Status(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		status  device.SpectrometerStatus
		ok      bool
		invalid bool
	}{
		{name: "idle", reply: "ACK&0\n", status: device.StatusIdle, ok: true},
		{name: "connected", reply: "ACK&2\n", status: device.StatusConnected, ok: true},
		{name: "measuring", reply: "ACK&3\n", status: device.StatusMeasuring, ok: true},
		{name: "intermediate", reply: "ACK&-1\n", ok: false},
		{name: "out of range", reply: "ACK&4\n", invalid: true},
		{name: "not a number", reply: "ACK&soon\n", invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, serverConn := newPipeClient(t)
			ftswServer(t, serverConn, tt.reply)

			status, ok, err := client.Status()
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.status, status)
			}
		})
	}
}

func TestFTSW500Client_LogDialogMessages(t *testing.T) {
	mockLogger := newTestMockLogger()
	client, serverConn := newPipeClient(t, WithLogger(mockLogger))
	requests := ftswServer(t, serverConn,
		"ACK&true\n",
		"ACK&Scan aborted by user\n",
		"ACK\n",
		"ACK&false\n",
	)

	require.NoError(t, client.LogDialogMessages())
	assert.Equal(t, []string{
		"isNonModalMessageDisplayed",
		"getLastNonModalMessageDisplayed",
		"closeNonModalDialogMessage",
		"isModalMessageDisplayed",
	}, <-requests)
	mockLogger.AssertCalled(t, "Info", "FTSW500 dialog", mock.Anything)
}

type ftswFixture struct {
	drv      *FTSW500
	events   chan device.Event
	clock    *device.ManualClock
	requests <-chan []string
}

// newFTSWFixture builds a driver over a pipe served by the scripted
// replies. The first reply always answers the initial status request.
func newFTSWFixture(t *testing.T, interval time.Duration, replies ...string) *ftswFixture {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	requests := ftswServer(t, serverConn, replies...)

	client, err := NewFTSW500Client(clientConn, WithInstance("spectrometer"), WithLogger(newTestMockLogger()))
	require.NoError(t, err)

	f := &ftswFixture{
		events:   make(chan device.Event, 16),
		clock:    device.NewManualClock(time.Now()),
		requests: requests,
	}
	ref := device.InstanceRef{BaseType: device.BaseTypeSpectrometer}
	drv, err := newFTSW500(client, device.NewEmitter(ref, f.events), interval,
		WithBackendClock(f.clock), WithBackendLogger(newTestMockLogger()))
	require.NoError(t, err)
	f.drv = drv
	t.Cleanup(func() { _ = f.drv.Close() })

	return f
}

func TestFTSW500_Registration(t *testing.T) {
	v, ok := device.DefaultRegistry().Variant(device.BaseTypeSpectrometer, "ftsw500")
	require.True(t, ok)
	assert.Equal(t, "FTSW500 spectrometer", v.Description)

	names := make([]string, 0, len(v.Parameters))
	var port device.Parameter
	for _, p := range v.Parameters {
		names = append(names, p.Name)
		if p.Name == "port" {
			port = p
		}
	}
	assert.ElementsMatch(t, []string{"host", "port", "poll_interval"}, names)
	assert.Equal(t, "7778", port.Default)
}

func TestFTSW500_Connect(t *testing.T) {
	f := newFTSWFixture(t, 0,
		"ACK&0\n",     // initial getFTSW500State
		"ACK\n",       // clickConnectButton
		"ACK&2\n",     // getFTSW500State
		"ACK&false\n", // isNonModalMessageDisplayed
		"ACK&false\n", // isModalMessageDisplayed
	)
	assert.Equal(t, device.StatusIdle, waitStatus(t, f.events))

	require.NoError(t, f.drv.Connect())
	assert.Equal(t, device.StatusConnected, waitStatus(t, f.events))
	assert.Equal(t, device.StatusConnected, f.drv.Status())

	require.NoError(t, f.drv.Close())
	assert.Equal(t, []string{
		"getFTSW500State",
		"clickConnectButton",
		"getFTSW500State",
		"isNonModalMessageDisplayed",
		"isModalMessageDisplayed",
	}, <-f.requests)
}

func TestFTSW500_CommandRefused(t *testing.T) {
	f := newFTSWFixture(t, 0,
		"ACK&0\n",
		"NAK&Not connected\n",
	)
	waitEvent(t, f.events) // initial status

	err := f.drv.StartMeasuring()
	var backendErr *device.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "Not connected", backendErr.Text)

	// a refusal leaves the driver open and emits nothing
	assertNoEvent(t, f.events)
	assert.False(t, f.drv.Closing())
}

func TestFTSW500_IntermediateStatusAfterCommand(t *testing.T) {
	f := newFTSWFixture(t, 0,
		"ACK&0\n",
		"ACK\n",
		"ACK&-1\n", // software between states
		"ACK&false\n",
		"ACK&false\n",
	)
	waitEvent(t, f.events) // initial status

	require.NoError(t, f.drv.Connect())
	assertNoEvent(t, f.events)
	assert.Equal(t, device.StatusIdle, f.drv.Status())
}

func TestFTSW500_StatusPoll(t *testing.T) {
	f := newFTSWFixture(t, time.Second,
		"ACK&0\n",
		"ACK&2\n",
	)
	assert.Equal(t, device.StatusIdle, waitStatus(t, f.events))

	f.clock.Advance(time.Second)
	assert.Equal(t, device.StatusConnected, waitStatus(t, f.events))
}

func TestFTSW500_UnknownCommand(t *testing.T) {
	f := newFTSWFixture(t, 0, "ACK&0\n")
	waitEvent(t, f.events)

	err := f.drv.RequestCommand("calibrate")
	assert.ErrorIs(t, err, device.ErrInvalidParameter)

	require.NoError(t, f.drv.Close())
	assert.Equal(t, []string{"getFTSW500State"}, <-f.requests)
}

func TestNewFTSW500(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadString('\n'); err != nil {
			return
		}
		_, _ = conn.Write([]byte("ACK&0\n"))
		// hold the connection until the driver closes it
		_, _ = reader.ReadString('\n')
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	events := make(chan device.Event, 16)
	ref := device.InstanceRef{BaseType: device.BaseTypeSpectrometer, Name: "lab"}
	params := map[string]string{"host": host, "port": port, "poll_interval": "0"}
	dev, err := NewFTSW500(ref, params, device.NewEmitter(ref, events))
	require.NoError(t, err)
	defer dev.Close()

	ev := waitEvent(t, events)
	statusEv, ok := ev.(device.StatusEvent)
	require.True(t, ok)
	assert.Equal(t, device.StatusIdle, statusEv.Status)
	assert.Equal(t, "spectrometer.lab", statusEv.Instance.String())
}

func TestNewFTSW500_ParameterValidation(t *testing.T) {
	ref := device.InstanceRef{BaseType: device.BaseTypeSpectrometer}
	em := device.NewEmitter(ref, make(chan device.Event, 1))

	params := map[string]string{"host": "127.0.0.1", "port": "0", "poll_interval": "soon"}
	_, err := NewFTSW500(ref, params, em)
	assert.ErrorIs(t, err, device.ErrInvalidParameter)

	params["poll_interval"] = "1"
	_, err = NewFTSW500(ref, params, em)
	assert.ErrorContains(t, err, "connect")
}

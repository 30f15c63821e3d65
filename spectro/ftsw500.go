package spectro

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/trace"
)

// DefaultDialTimeout bounds the TCP dial to the FTSW500 software.
const DefaultDialTimeout = 5 * time.Second

// ftsw500StatusCommand requests the acquisition state of the software.
const ftsw500StatusCommand = "getFTSW500State"

// ftsw500Commands maps device commands to the buttons they click in the
// FTSW500 user interface. Stop and cancel are the same button; the
// software does not distinguish them.
var ftsw500Commands = map[string]string{
	device.CommandConnect: "clickConnectButton",
	device.CommandStart:   "clickStartAcquisitionButton",
	device.CommandStop:    "clickStopAcquisitionButton",
	device.CommandCancel:  "clickStopAcquisitionButton",
}

var (
	// ErrConnectionTerminated reports that the software closed the
	// connection before sending a response.
	ErrConnectionTerminated = errors.New("spectro: connection terminated unexpectedly")
	// ErrResponseTerminator reports a response missing its trailing
	// newline.
	ErrResponseTerminator = errors.New("spectro: response not terminated with newline")
	// ErrUnexpectedResponse reports a response that is neither an ACK
	// nor a NAK.
	ErrUnexpectedResponse = errors.New("spectro: unexpected response")
)

// parseFTSW500Response splits a response line into its tag and
// arguments. An ACK yields the arguments, a NAK becomes a backend
// error carrying the instrument's message.
func parseFTSW500Response(response string) (string, error) {
	tag, args, _ := strings.Cut(response, "&")
	switch tag {
	case "ACK":
		return args, nil
	case "NAK":
		return "", &device.BackendError{Text: args}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnexpectedResponse, response)
	}
}

// FTSW500Metrics counts protocol events. Each counter can be used as
// the value of a prometheus CounterFunc.
type FTSW500Metrics struct {
	// RequestCount indicates the number of requests issued.
	RequestCount atomic.Uint64
	// BackendErrorCount indicates the number of NAK responses received.
	BackendErrorCount atomic.Uint64
}

func (m *FTSW500Metrics) incRequestCount()      { m.RequestCount.Add(1) }
func (m *FTSW500Metrics) incBackendErrorCount() { m.BackendErrorCount.Add(1) }

// FTSW500Client speaks the line protocol of the FTSW500 spectrometer
// control software over a TCP connection.
//
// A client owns its connection exclusively and is not safe for
// concurrent use: at most one request may be in flight.
type FTSW500Client struct {
	conn   net.Conn
	reader *bufio.Reader

	clientConfig
	metrics FTSW500Metrics
	closed  atomic.Bool
}

// NewFTSW500Client creates a client over an established connection.
// Options are applied in order and validated; see the With* functions.
func NewFTSW500Client(conn net.Conn, opts ...ClientOption) (*FTSW500Client, error) {
	if conn == nil {
		return nil, errors.New("spectro: connection must not be nil")
	}

	c := &FTSW500Client{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		clientConfig: defaultClientConfig(),
	}
	for _, opt := range opts {
		if err := opt.apply(&c.clientConfig); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Metrics returns the client's metrics collector.
func (c *FTSW500Client) Metrics() *FTSW500Metrics { return &c.metrics }

// Request performs one round trip: it sends command and returns the
// arguments of the ACK response. A NAK is returned as a
// *device.BackendError carrying the instrument's message.
func (c *FTSW500Client) Request(command string) (string, error) {
	c.metrics.incRequestCount()

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("spectro: set deadline: %w", err)
	}

	line := []byte(command + "\n")
	if _, err := c.conn.Write(line); err != nil {
		return "", fmt.Errorf("spectro: send command: %w", err)
	}
	c.record(trace.DirectionTX, line, "")

	response, err := c.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if response == "" {
				return "", ErrConnectionTerminated
			}

			c.record(trace.DirectionRX, []byte(response), ErrResponseTerminator.Error())

			return "", ErrResponseTerminator
		}

		return "", fmt.Errorf("spectro: read response: %w", err)
	}

	args, err := parseFTSW500Response(strings.TrimSuffix(response, "\n"))
	if err != nil {
		var backendErr *device.BackendError
		if errors.As(err, &backendErr) {
			c.metrics.incBackendErrorCount()
		}
		c.record(trace.DirectionRX, []byte(response), err.Error())

		return "", err
	}
	c.record(trace.DirectionRX, []byte(response), "")

	return args, nil
}

// Status requests the acquisition state. The software reports -1 while
// it is between states; such replies yield ok false and are retried on
// the next poll.
func (c *FTSW500Client) Status() (device.SpectrometerStatus, bool, error) {
	args, err := c.Request(ftsw500StatusCommand)
	if err != nil {
		return 0, false, err
	}

	num, err := strconv.Atoi(args)
	if err != nil || num < -1 || num > int(device.StatusMeasuring) {
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidStatus, args)
	}
	if num == -1 {
		return 0, false, nil
	}

	return device.SpectrometerStatus(num), true, nil
}

// LogDialogMessages logs and closes any dialog boxes the software has
// put up. Dialogs block further commands until closed, so drivers drain
// them after every command.
func (c *FTSW500Client) LogDialogMessages() error {
	if err := c.logDialog("NonModal"); err != nil {
		return err
	}

	return c.logDialog("Modal")
}

func (c *FTSW500Client) logDialog(kind string) error {
	displayed, err := c.Request("is" + kind + "MessageDisplayed")
	if err != nil {
		return err
	}
	if displayed != "true" {
		return nil
	}

	message, err := c.Request("getLast" + kind + "MessageDisplayed")
	if err != nil {
		return err
	}
	c.logger.Info("FTSW500 dialog", "instance", c.instance, "message", message)

	_, err = c.Request("close" + kind + "DialogMessage")

	return err
}

// Close closes the connection. It is safe to call Close multiple times.
func (c *FTSW500Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	return c.conn.Close()
}

func (c *FTSW500Client) record(dir trace.Direction, data []byte, note string) {
	c.recorder.Record(trace.Event{
		Timestamp: time.Now().UTC(),
		Instance:  c.instance,
		Direction: dir,
		Data:      data,
		Note:      note,
	})
}

func init() {
	device.Register(device.Variant{
		BaseType:    device.BaseTypeSpectrometer,
		ID:          "ftsw500",
		Description: "FTSW500 spectrometer",
		Parameters: []device.Parameter{
			{Name: "host", Description: "Host running the FTSW500 software"},
			{Name: "port", Description: "Port the FTSW500 remote interface listens on", Default: "7778"},
			{Name: "poll_interval", Description: "Seconds between status requests", Default: "1"},
		},
		New: NewFTSW500,
	})
}

// FTSW500 is the registered device variant driving an FTSW500
// spectrometer through its control software's remote interface.
type FTSW500 struct {
	*Backend

	client *FTSW500Client
}

// NewFTSW500 connects to the FTSW500 software and starts the status
// poll. Parameters: "host" (required), "port", "poll_interval".
func NewFTSW500(ref device.InstanceRef, params map[string]string, em *device.Emitter) (device.Device, error) {
	interval, err := device.ParsePollInterval(params["poll_interval"])
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultDialTimeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(params["host"], params["port"]))
	if err != nil {
		return nil, fmt.Errorf("spectro: connect: %w", err)
	}

	client, err := NewFTSW500Client(conn, WithInstance(ref.String()))
	if err != nil {
		conn.Close()
		return nil, err
	}

	return newFTSW500(client, em, interval)
}

func newFTSW500(client *FTSW500Client, em *device.Emitter, interval time.Duration, opts ...BackendOption) (*FTSW500, error) {
	d := &FTSW500{client: client}
	b, err := NewBackend(BackendOps{
		Command: d.runCommand,
		Status:  client.Status,
		Close:   client.Close,
	}, em, interval, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	d.Backend = b

	return d, nil
}

// Client returns the underlying protocol client.
func (d *FTSW500) Client() *FTSW500Client {
	return d.client
}

// runCommand clicks the button bound to name, refreshes the status and
// drains any dialogs the command put up.
func (d *FTSW500) runCommand(name string) error {
	action, ok := ftsw500Commands[name]
	if !ok {
		return fmt.Errorf("%w: command %q", device.ErrInvalidParameter, name)
	}

	if _, err := d.client.Request(action); err != nil {
		return err
	}

	status, ok, err := d.client.Status()
	if err != nil {
		return err
	}
	if ok {
		d.setStatusLocked(status)
	}

	return d.client.LogDialogMessages()
}

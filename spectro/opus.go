package spectro

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/trace"
)

const (
	opusStatusPage  = "stat.htm"
	opusCommandPage = "cmd.htm"
)

// ErrRequiredTags reports a response page missing the STATUS or TEXT
// cell.
var ErrRequiredTags = errors.New("spectro: required tags not found")

// opusFieldPattern extracts the id attribute and cell text of the table
// cells an OPUS response page is made of.
var opusFieldPattern = regexp.MustCompile(`(?is)<td[^>]*\bid="([^"]+)"[^>]*>(.*?)</td>`)

// OPUSClient speaks to the OPUS spectrometer control software through
// its remote HTTP interface.
//
// A client owns its HTTP session exclusively and is not safe for
// concurrent use: at most one request may be in flight.
type OPUSClient struct {
	url    string
	client *http.Client

	clientConfig
	ctx    context.Context
	cancel context.CancelFunc
}

// NewOPUSClient creates a client for the OPUS software at host:port.
// Options are applied in order and validated; see the With* functions.
func NewOPUSClient(host, port string, opts ...ClientOption) (*OPUSClient, error) {
	c := &OPUSClient{
		url:          fmt.Sprintf("http://%s/opusrs", net.JoinHostPort(host, port)),
		clientConfig: defaultClientConfig(),
	}
	for _, opt := range opts {
		if err := opt.apply(&c.clientConfig); err != nil {
			return nil, err
		}
	}
	c.client = &http.Client{Timeout: c.timeout}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	return c, nil
}

// Status requests the current acquisition status.
func (c *OPUSClient) Status() (device.SpectrometerStatus, bool, error) {
	status, err := c.request(opusStatusPage)
	if err != nil {
		return 0, false, err
	}

	return status, true, nil
}

// Command submits the named command and returns the status reported in
// the response. Command names are passed to the software unchanged.
func (c *OPUSClient) Command(name string) (device.SpectrometerStatus, error) {
	return c.request(opusCommandPage + "?opusrs" + name)
}

// Close aborts any in-flight request and releases the HTTP session. It
// is safe to call Close multiple times.
func (c *OPUSClient) Close() error {
	c.cancel()
	if c.client != nil {
		c.client.CloseIdleConnections()
	}

	return nil
}

func (c *OPUSClient) request(page string) (device.SpectrometerStatus, error) {
	url := c.url + "/" + page
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("spectro: network error: %w", err)
	}
	c.record(trace.DirectionTX, []byte(url), "")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("spectro: network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("spectro: network error: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("spectro: network error: %w", err)
	}

	status, text, err := c.parseResponse(body)
	if err != nil {
		c.record(trace.DirectionRX, body, err.Error())
		return 0, err
	}
	c.record(trace.DirectionRX, body, "")
	c.logger.Debug("OPUS response", "instance", c.instance, "text", text)

	return status, nil
}

// parseResponse extracts the status and text fields from a response
// page. An ERRCODE cell turns the response into a backend error
// carrying the software's error code and text.
func (c *OPUSClient) parseResponse(body []byte) (device.SpectrometerStatus, string, error) {
	var status device.SpectrometerStatus
	var text, errtext string
	var errcode int
	var gotStatus, gotText, gotErrcode bool

	for _, match := range opusFieldPattern.FindAllSubmatch(body, -1) {
		id := string(match[1])
		value := strings.TrimSpace(string(match[2]))
		switch id {
		case "STATUS":
			num, err := strconv.Atoi(value)
			if err != nil || num < 0 || num > int(device.StatusUndefined) {
				return 0, "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
			}
			status = device.SpectrometerStatus(num)
			gotStatus = true
		case "TEXT":
			text = value
			gotText = true
		case "ERRCODE":
			num, err := strconv.Atoi(value)
			if err != nil {
				return 0, "", fmt.Errorf("spectro: error code %q: %w", value, err)
			}
			errcode = num
			gotErrcode = true
		case "ERRTEXT":
			errtext = value
		default:
			c.logger.Warn("Received unknown ID", "instance", c.instance, "id", id)
		}
	}

	if !gotStatus || !gotText {
		return 0, "", ErrRequiredTags
	}
	if gotErrcode {
		return 0, "", &device.BackendError{Code: errcode, Text: errtext}
	}

	return status, text, nil
}

func (c *OPUSClient) record(dir trace.Direction, data []byte, note string) {
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
		ID:          "opus",
		Description: "OPUS spectrometer",
		Parameters: []device.Parameter{
			{Name: "host", Description: "Host running the OPUS software"},
			{Name: "port", Description: "Port the OPUS remote interface listens on", Default: "80"},
			{Name: "poll_interval", Description: "Seconds between status requests (OPUS rate limits to about one request every two seconds)", Default: "2"},
		},
		New: NewOPUS,
	})
}

// OPUS is the registered device variant driving an OPUS spectrometer
// through its control software's remote HTTP interface.
type OPUS struct {
	*Backend

	client *OPUSClient
}

// NewOPUS creates an OPUS driver and starts the status poll.
// Parameters: "host" (required), "port", "poll_interval".
func NewOPUS(ref device.InstanceRef, params map[string]string, em *device.Emitter) (device.Device, error) {
	interval, err := device.ParsePollInterval(params["poll_interval"])
	if err != nil {
		return nil, err
	}

	client, err := NewOPUSClient(params["host"], params["port"], WithInstance(ref.String()))
	if err != nil {
		return nil, err
	}

	return newOPUS(client, em, interval)
}

func newOPUS(client *OPUSClient, em *device.Emitter, interval time.Duration, opts ...BackendOption) (*OPUS, error) {
	d := &OPUS{client: client}
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
func (d *OPUS) Client() *OPUSClient {
	return d.client
}

// runCommand submits the command and records the status its response
// reports.
func (d *OPUS) runCommand(name string) error {
	status, err := d.client.Command(name)
	if err != nil {
		return err
	}
	d.setStatusLocked(status)

	return nil
}

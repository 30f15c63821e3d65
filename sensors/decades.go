package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/arloliu/go-instr/device"
	"github.com/arloliu/go-instr/logger"
)

// DECADES server endpoints, relative to the instrument host.
const (
	decadesURL              = "http://%s"
	decadesAvailabilityPath = "/params/availability"
	decadesLiveDataPath     = "/livedata"
)

func init() {
	device.Register(device.Variant{
		BaseType:    device.BaseTypeSensors,
		ID:          "decades",
		Description: "DECADES sensors",
		Parameters: []device.Parameter{
			{Name: "host", Description: "The IP address or hostname of the DECADES server"},
			{Name: "poll_interval", Description: "How often to poll the sensor device (seconds)", Default: "5"},
		},
		New: NewDecades,
	})
}

// DecadesParameter describes one parameter served by a DECADES server.
type DecadesParameter struct {
	// Name is the short name used to query the parameter.
	Name string `json:"ParameterName"`
	// ReadableName is the human readable name attached to readings.
	ReadableName string `json:"DisplayText"`
	// Unit is the unit for the value.
	Unit string `json:"DisplayUnits"`
	// Available reports whether the server currently serves the
	// parameter.
	Available bool `json:"available"`
}

// DecadesClient fetches aircraft sensor data from a DECADES server. It
// implements Fetcher; the parameter list must be loaded before the
// first fetch.
type DecadesClient struct {
	base   string
	client *http.Client
	logger logger.Logger
	params []DecadesParameter
	now    func() time.Time
}

// NewDecadesClient creates a client for the DECADES server at host.
func NewDecadesClient(host string) *DecadesClient {
	return &DecadesClient{
		base:   fmt.Sprintf(decadesURL, host),
		client: &http.Client{Timeout: DefaultFetchTimeout},
		logger: logger.GetLogger(),
		now:    time.Now,
	}
}

// LoadParameters requests the parameter list from the server and keeps
// the available ones for subsequent fetches.
func (c *DecadesClient) LoadParameters(ctx context.Context) error {
	body, err := httpGet(ctx, c.client, c.base+decadesAvailabilityPath)
	if err != nil {
		return err
	}

	var all []DecadesParameter
	if err := json.Unmarshal(body, &all); err != nil {
		return fmt.Errorf("sensors: parameter list: %w", err)
	}

	c.params = c.params[:0]
	for _, param := range all {
		if param.Available {
			c.params = append(c.params, param)
		}
	}

	return nil
}

// Parameters returns the available parameters loaded from the server.
func (c *DecadesClient) Parameters() []DecadesParameter {
	return c.params
}

// Fetch queries the live data endpoint for the current value of every
// loaded parameter, keeping the latest value of each. Parameters the
// server returns no data for are logged and skipped.
func (c *DecadesClient) Fetch(ctx context.Context) ([]device.Reading, error) {
	epoch := strconv.FormatInt(c.now().Unix(), 10)
	query := url.Values{"frm": {epoch}, "to": {epoch}}
	for _, param := range c.params {
		query.Add("para", param.Name)
	}

	body, err := httpGet(ctx, c.client, c.base+decadesLiveDataPath+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var content map[string][]float64
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("sensors: live data: %w", err)
	}

	readings := make([]device.Reading, 0, len(c.params))
	for _, param := range c.params {
		values, ok := content[param.Name]
		if !ok {
			c.logger.Warn("Server did not return data for parameter", "parameter", param.Name)
			continue
		}
		if len(values) == 0 {
			continue
		}
		readings = append(readings, device.Reading{Name: param.ReadableName, Value: values[len(values)-1], Unit: param.Unit})
	}

	return readings, nil
}

// NewDecades creates a remote sensor driver querying a DECADES server
// and starts its polling schedule once the parameter list is loaded.
// Parameters: "host" (required), "poll_interval".
func NewDecades(ref device.InstanceRef, params map[string]string, em *device.Emitter) (device.Device, error) {
	interval, err := device.ParsePollInterval(params["poll_interval"])
	if err != nil {
		return nil, err
	}

	client := NewDecadesClient(params["host"])
	ctx, cancel := context.WithTimeout(context.Background(), DefaultFetchTimeout)
	defer cancel()
	if err := client.LoadParameters(ctx); err != nil {
		return nil, fmt.Errorf("load parameter list: %w", err)
	}

	return NewRemote(client, em, interval)
}

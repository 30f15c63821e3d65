package sensors

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/go-instr/device"
)

// em27SensorsURL is the diagnostics page carrying the PSF27Sensor
// table.
const em27SensorsURL = "http://%s/diag_autom.htm"

// em27TableHeader is the header row identifying the PSF27Sensor table
// within the diagnostics page.
const em27TableHeader = "<TR><TH>No</TH><TH>Name</TH><TH>Description</TH>" +
	"<TH>Status</TH><TH>Value</TH><TH>Meas. Unit</TH></TR>"

// EM27 table errors.
var (
	ErrTableNotFound  = errors.New("sensors: PSF27Sensor table not found")
	ErrMalformedTable = errors.New("sensors: malformed sensor table")
)

func init() {
	device.Register(device.Variant{
		BaseType:    device.BaseTypeSensors,
		ID:          "em27",
		Description: "EM27 sensors",
		Parameters: []device.Parameter{
			{Name: "host", Description: "The IP address or hostname of the EM27 device"},
			{Name: "poll_interval", Description: "How often to poll the sensor device (seconds)", Default: "60"},
		},
		New: NewEM27,
	})
}

// NewEM27 creates a remote sensor driver scraping the PSF27Sensor table
// off an EM27 device and starts its polling schedule. Parameters:
// "host" (required), "poll_interval".
func NewEM27(ref device.InstanceRef, params map[string]string, em *device.Emitter) (device.Device, error) {
	interval, err := device.ParsePollInterval(params["poll_interval"])
	if err != nil {
		return nil, err
	}

	fetcher := NewHTTPFetcher(fmt.Sprintf(em27SensorsURL, params["host"]), ParseEM27Table)

	return NewRemote(fetcher, em, interval)
}

// ParseEM27Table extracts the PSF27Sensor data table from the
// diagnostics page of an EM27 device. Each table row yields one reading
// carrying the sensor name, value and measurement unit.
func ParseEM27Table(body []byte) ([]device.Reading, error) {
	content := string(body)
	start := strings.Index(content, em27TableHeader)
	if start < 0 {
		return nil, ErrTableNotFound
	}
	length := strings.Index(content[start:], "</TABLE>")
	if length < 0 {
		return nil, ErrTableNotFound
	}

	var readings []device.Reading
	rows := strings.Split(content[start:start+length], "\n")
	for _, row := range rows[1:] {
		if strings.TrimSpace(row) == "" {
			continue
		}
		cells := strings.Split(row, "<TD>")
		if len(cells) < 7 {
			return nil, fmt.Errorf("%w: row %q", ErrMalformedTable, row)
		}
		name := cellText(cells[2])
		value, err := strconv.ParseFloat(cellText(cells[5]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value of %q: %v", ErrMalformedTable, name, err)
		}
		readings = append(readings, device.Reading{Name: name, Value: value, Unit: cellText(cells[6])})
	}

	return readings, nil
}

// cellText strips the closing markup from one table cell.
func cellText(cell string) string {
	text, _, _ := strings.Cut(cell, "</TD>")
	return strings.TrimSpace(text)
}

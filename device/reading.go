package device

import "fmt"

// Reading is a single measured quantity from a sensor style device.
type Reading struct {
	// Name identifies the measured channel, e.g. "temperature" or "CH1".
	Name string
	// Value is the measured value.
	Value float64
	// Unit is the unit of measurement, e.g. "degrees" or "kelvin".
	Unit string
}

// String renders the reading as "name = value unit" with six decimal
// places. The unit is omitted when empty.
func (r Reading) String() string {
	if r.Unit == "" {
		return fmt.Sprintf("%s = %.6f", r.Name, r.Value)
	}

	return fmt.Sprintf("%s = %.6f %s", r.Name, r.Value, r.Unit)
}

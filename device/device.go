package device

import "strings"

// Device is the minimal contract every concrete driver satisfies.
//
// Close releases the driver's transport and stops its goroutines and
// timers. It must be safe to call once per instance; after it returns the
// driver emits no further events.
type Device interface {
	// Close shuts the device instance down and releases its transport.
	Close() error
}

// SetPointWriter is implemented by controller devices whose set point
// can be changed while they run.
type SetPointWriter interface {
	SetSetPoint(temperature float64) error
}

// InstanceRef identifies one logical device instance as a base type plus
// an optional instance name, e.g. "temperature_controller.hot_bb" or plain
// "sensors" for base types with a single anonymous instance.
type InstanceRef struct {
	// BaseType is the registered base type identifier.
	BaseType string
	// Name is the instance name within the base type, empty when the base
	// type allows a single unnamed instance.
	Name string
}

// ParseInstanceRef splits a "base" or "base.name" string into an
// InstanceRef. Only the first dot separates the two parts.
func ParseInstanceRef(s string) InstanceRef {
	base, name, _ := strings.Cut(s, ".")
	return InstanceRef{BaseType: base, Name: name}
}

// String returns the canonical "base" or "base.name" form.
func (r InstanceRef) String() string {
	if r.Name == "" {
		return r.BaseType
	}
	return r.BaseType + "." + r.Name
}

// InstanceInfo pairs an instance reference with its human readable
// description, for building user facing pickers.
type InstanceInfo struct {
	Ref         InstanceRef
	Description string
}

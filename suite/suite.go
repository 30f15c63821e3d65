package suite

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-instr/device"
)

// Sentinel errors for suite documents.
var (
	// ErrNoName reports a suite document without a name.
	ErrNoName = errors.New("suite: suite has no name")
	// ErrNoVariant reports a device entry without a variant ID.
	ErrNoVariant = errors.New("suite: device has no variant")
)

// Device configures one device instance of a suite.
type Device struct {
	// Variant is the ID of a variant registered for the instance's base
	// type.
	Variant string `yaml:"variant"`
	// Params holds the open parameters passed to the variant factory.
	// Parameters with defaults may be omitted.
	Params map[string]string `yaml:"params,omitempty"`
}

// Suite is a named collection of device instances that are opened
// together. The Devices map is keyed by instance reference in the
// "base" or "base.name" form.
type Suite struct {
	Name    string            `yaml:"name"`
	Devices map[string]Device `yaml:"devices"`
}

// Load parses a suite document and validates it against reg.
func Load(data []byte, reg *device.Registry) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("suite: parse: %w", err)
	}

	if err := s.Validate(reg); err != nil {
		return nil, err
	}

	return &s, nil
}

// LoadFile reads the suite document at path and parses it with Load.
func LoadFile(path string, reg *device.Registry) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Load(data, reg)
}

// Validate checks the suite against the registry. Every device entry
// must reference a registered base type and variant, use an allowed
// instance name, and supply valid values for all required parameters.
// The returned error names the first offending instance.
func (s *Suite) Validate(reg *device.Registry) error {
	if s.Name == "" {
		return ErrNoName
	}

	for _, name := range s.Instances() {
		if err := s.validateDevice(reg, name); err != nil {
			return err
		}
	}

	return nil
}

func (s *Suite) validateDevice(reg *device.Registry, name string) error {
	dev := s.Devices[name]
	ref := device.ParseInstanceRef(name)

	bt, ok := reg.BaseType(ref.BaseType)
	if !ok {
		return fmt.Errorf("instance %s: %w: %s", name, device.ErrUnknownBaseType, ref.BaseType)
	}

	if err := bt.ValidateName(ref.Name); err != nil {
		return fmt.Errorf("instance %s: %w", name, err)
	}

	if dev.Variant == "" {
		return fmt.Errorf("instance %s: %w", name, ErrNoVariant)
	}

	variant, ok := reg.Variant(ref.BaseType, dev.Variant)
	if !ok {
		return fmt.Errorf("instance %s: %w: %s/%s", name, device.ErrUnknownVariant, ref.BaseType, dev.Variant)
	}

	declared := make(map[string]device.Parameter, len(variant.Parameters))
	for _, p := range variant.Parameters {
		declared[p.Name] = p
	}

	for _, pname := range sortedKeys(dev.Params) {
		p, ok := declared[pname]
		if !ok {
			return fmt.Errorf("instance %s: %w: unknown parameter %q", name, device.ErrInvalidParameter, pname)
		}

		if err := p.Validate(dev.Params[pname]); err != nil {
			return fmt.Errorf("instance %s: %w", name, err)
		}
	}

	for _, p := range variant.Parameters {
		if p.Default != "" {
			continue
		}

		if _, ok := dev.Params[p.Name]; !ok {
			return fmt.Errorf("instance %s: %w: %s", name, device.ErrMissingParameter, p.Name)
		}
	}

	return nil
}

// Instances returns the instance references of the suite in sorted
// order. Open opens devices in this order.
func (s *Suite) Instances() []string {
	return sortedKeys(s.Devices)
}

// Open opens every device of the suite through mgr. When one fails, the
// instances already opened are closed again and the returned error
// names the failed instance.
func (s *Suite) Open(mgr *device.Manager) error {
	var opened []device.InstanceRef
	for _, name := range s.Instances() {
		dev := s.Devices[name]
		ref := device.ParseInstanceRef(name)

		if _, err := mgr.Open(ref, dev.Variant, dev.Params); err != nil {
			for i := len(opened) - 1; i >= 0; i-- {
				_ = mgr.Close(opened[i])
			}

			return fmt.Errorf("instance %s: %w", name, err)
		}

		opened = append(opened, ref)
	}

	return nil
}

// Save marshals the suite back to YAML. Device entries are written in
// sorted instance order.
func (s *Suite) Save() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("suite: marshal: %w", err)
	}

	return data, nil
}

// SaveFile writes the suite document to path, replacing any existing
// file.
func (s *Suite) SaveFile(path string) error {
	data, err := s.Save()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

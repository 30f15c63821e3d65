package device

import (
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-instr/internal/util"
)

// Standard base type identifiers. Variant packages register against these
// from init.
const (
	BaseTypeTemperatureController = "temperature_controller"
	BaseTypeTemperatureMonitor    = "temperature_monitor"
	BaseTypeSensors               = "sensors"
	BaseTypeSpectrometer          = "spectrometer"
)

// Parameter describes a single constructor parameter of a device variant.
type Parameter struct {
	// Name is the parameter key as passed to the factory.
	Name string
	// Description is the human readable label.
	Description string
	// Values lists the allowed values in display order. A nil or empty
	// slice means the parameter accepts free form values.
	Values []string
	// Default is the value used when the parameter is omitted. Empty
	// means the parameter is required. A non-empty Default must be a
	// member of Values when Values is set.
	Default string
}

// Validate checks value against the allowed set.
func (p Parameter) Validate(value string) error {
	if len(p.Values) == 0 {
		return nil
	}

	for _, v := range p.Values {
		if v == value {
			return nil
		}
	}

	return fmt.Errorf("%w: %s=%q", ErrInvalidParameter, p.Name, value)
}

// BaseType describes one family of devices, e.g. temperature controllers.
type BaseType struct {
	// Name is the base type identifier used in instance references.
	Name string
	// Description is the human readable family name.
	Description string
	// NamesShort lists the allowed instance names. Empty means the base
	// type has a single unnamed instance.
	NamesShort []string
	// NamesLong holds display names matching NamesShort by index.
	NamesLong []string
}

// Instances returns one InstanceInfo per allowed instance of the base
// type, with descriptions suitable for user facing pickers.
func (bt BaseType) Instances() []InstanceInfo {
	if len(bt.NamesShort) == 0 {
		return []InstanceInfo{{
			Ref:         InstanceRef{BaseType: bt.Name},
			Description: bt.Description,
		}}
	}

	infos := make([]InstanceInfo, 0, len(bt.NamesShort))
	for i, short := range bt.NamesShort {
		desc := bt.Description
		if i < len(bt.NamesLong) {
			desc = fmt.Sprintf("%s (%s)", bt.Description, bt.NamesLong[i])
		}
		infos = append(infos, InstanceInfo{
			Ref:         InstanceRef{BaseType: bt.Name, Name: short},
			Description: desc,
		})
	}

	return infos
}

// ValidateName checks that name is an allowed instance name for the base
// type.
func (bt BaseType) ValidateName(name string) error {
	if len(bt.NamesShort) == 0 {
		if name != "" {
			return fmt.Errorf("%w: %q (base type %s has a single unnamed instance)", ErrInvalidInstanceName, name, bt.Name)
		}

		return nil
	}

	for _, short := range bt.NamesShort {
		if short == name {
			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrInvalidInstanceName, name)
}

// Factory constructs a device instance. Implementations must not retain
// params; the map is owned by the caller.
type Factory func(ref InstanceRef, params map[string]string, em *Emitter) (Device, error)

// Variant describes one concrete device implementation of a base type.
type Variant struct {
	// BaseType is the identifier of the base type the variant implements.
	BaseType string
	// ID is the variant identifier, unique within the base type.
	ID string
	// Description is the human readable variant name.
	Description string
	// Parameters lists the constructor parameters.
	Parameters []Parameter
	// New constructs an instance of the variant.
	New Factory
}

// resolveParams merges params over the variant defaults and validates the
// result. The returned map is a fresh copy.
func (v *Variant) resolveParams(params map[string]string) (map[string]string, error) {
	known := make(map[string]Parameter, len(v.Parameters))
	resolved := make(map[string]string, len(v.Parameters))
	for _, p := range v.Parameters {
		known[p.Name] = p
		if p.Default != "" {
			resolved[p.Name] = p.Default
		}
	}

	for name, value := range params {
		p, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidParameter, name)
		}
		if err := p.Validate(value); err != nil {
			return nil, err
		}
		resolved[name] = value
	}

	for _, p := range v.Parameters {
		if _, ok := resolved[p.Name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingParameter, p.Name)
		}
	}

	return resolved, nil
}

// VariantInfo is the catalog entry describing one registered variant.
type VariantInfo struct {
	ID          string
	Description string
	Parameters  []Parameter
}

// Catalog maps a base type description to its registered variants, sorted
// by variant ID. It is an immutable snapshot.
type Catalog map[string][]VariantInfo

// Registry holds the registered base types and variants. Registration is
// explicit: each variant package registers its constructors from init, and
// what is registered is exactly what was linked into the binary.
type Registry struct {
	baseTypes *xsync.MapOf[string, BaseType]
	variants  *xsync.MapOf[string, *Variant]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		baseTypes: xsync.NewMapOf[string, BaseType](),
		variants:  xsync.NewMapOf[string, *Variant](),
	}
}

// RegisterBaseType adds a base type to the registry. It panics if the name
// is empty or already registered; registration happens at init time and a
// duplicate is a programming error.
func (r *Registry) RegisterBaseType(bt BaseType) {
	if bt.Name == "" {
		panic("device: base type name is empty")
	}

	if _, loaded := r.baseTypes.LoadOrStore(bt.Name, bt); loaded {
		panic(fmt.Sprintf("device: base type %s already registered", bt.Name))
	}
}

// Register adds a variant to the registry. It panics if the base type is
// unknown, the variant ID is empty or duplicated within the base type, or
// a parameter default is not one of its allowed values.
func (r *Registry) Register(v Variant) {
	if v.ID == "" {
		panic("device: variant ID is empty")
	}
	if v.New == nil {
		panic(fmt.Sprintf("device: variant %s has no factory", v.ID))
	}
	if _, ok := r.baseTypes.Load(v.BaseType); !ok {
		panic(fmt.Sprintf("device: variant %s registered against unknown base type %s", v.ID, v.BaseType))
	}
	for _, p := range v.Parameters {
		if p.Default != "" {
			if err := p.Validate(p.Default); err != nil {
				panic(fmt.Sprintf("device: variant %s parameter %s: default %q not in allowed values", v.ID, p.Name, p.Default))
			}
		}
	}

	key := variantKey(v.BaseType, v.ID)
	if _, loaded := r.variants.LoadOrStore(key, &v); loaded {
		panic(fmt.Sprintf("device: variant %s already registered", key))
	}
}

// BaseType looks up a base type by name.
func (r *Registry) BaseType(name string) (BaseType, bool) {
	return r.baseTypes.Load(name)
}

// BaseTypes returns all registered base types sorted by description.
func (r *Registry) BaseTypes() []BaseType {
	types := make([]BaseType, 0, r.baseTypes.Size())
	r.baseTypes.Range(func(_ string, bt BaseType) bool {
		types = append(types, bt)
		return true
	})
	sort.Slice(types, func(i, j int) bool { return types[i].Description < types[j].Description })

	return types
}

// Variant looks up a variant by base type and ID.
func (r *Registry) Variant(baseType, id string) (*Variant, bool) {
	return r.variants.Load(variantKey(baseType, id))
}

// Variants returns the variants registered for a base type, sorted by ID.
func (r *Registry) Variants(baseType string) []*Variant {
	var variants []*Variant
	r.variants.Range(func(_ string, v *Variant) bool {
		if v.BaseType == baseType {
			variants = append(variants, v)
		}

		return true
	})
	sort.Slice(variants, func(i, j int) bool { return variants[i].ID < variants[j].ID })

	return variants
}

// Catalog builds a snapshot of the registered variants grouped by base
// type description. Base types without variants are included with an
// empty entry so consumers can present the full family list.
func (r *Registry) Catalog() Catalog {
	catalog := make(Catalog)
	for _, bt := range r.BaseTypes() {
		variants := r.Variants(bt.Name)
		infos := make([]VariantInfo, 0, len(variants))
		for _, v := range variants {
			infos = append(infos, VariantInfo{
				ID:          v.ID,
				Description: v.Description,
				Parameters:  util.CloneSlice(v.Parameters),
			})
		}
		catalog[bt.Description] = infos
	}

	return catalog
}

func variantKey(baseType, id string) string {
	return baseType + "/" + id
}

// defaultRegistry carries the standard base types and every variant
// registered through the package level Register.
var defaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterBaseType(BaseType{
		Name:        BaseTypeTemperatureController,
		Description: "Temperature controller",
		NamesShort:  []string{"hot_bb", "cold_bb"},
		NamesLong:   []string{"hot black body", "cold black body"},
	})
	r.RegisterBaseType(BaseType{
		Name:        BaseTypeTemperatureMonitor,
		Description: "Temperature monitor",
	})
	r.RegisterBaseType(BaseType{
		Name:        BaseTypeSensors,
		Description: "Sensor devices",
	})
	r.RegisterBaseType(BaseType{
		Name:        BaseTypeSpectrometer,
		Description: "Spectrometer",
	})

	return r
}

// DefaultRegistry returns the registry used by the package level
// registration functions.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a variant to the default registry.
func Register(v Variant) {
	defaultRegistry.Register(v)
}

// RegisterBaseType adds a base type to the default registry.
func RegisterBaseType(bt BaseType) {
	defaultRegistry.RegisterBaseType(bt)
}

package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-instr/logger"
)

// ManagerMetrics contains atomic counters for a device Manager.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ManagerMetrics struct {
	// OpenCount indicates the number of successful instance opens.
	OpenCount atomic.Uint64
	// CloseCount indicates the number of instance closes.
	CloseCount atomic.Uint64
	// ReplaceCount indicates the number of opens that replaced a live instance.
	ReplaceCount atomic.Uint64
	// DeviceErrCount indicates the number of fatal device errors.
	DeviceErrCount atomic.Uint64
	// DataUnavailableCount indicates the number of skipped poll cycles
	// reported by open instances.
	DataUnavailableCount atomic.Uint64
	// OpenErrCount indicates the number of failed open attempts.
	OpenErrCount atomic.Uint64
}

func (m *ManagerMetrics) incOpenCount()            { m.OpenCount.Add(1) }
func (m *ManagerMetrics) incCloseCount()           { m.CloseCount.Add(1) }
func (m *ManagerMetrics) incReplaceCount()         { m.ReplaceCount.Add(1) }
func (m *ManagerMetrics) incDeviceErrCount()       { m.DeviceErrCount.Add(1) }
func (m *ManagerMetrics) incDataUnavailableCount() { m.DataUnavailableCount.Add(1) }
func (m *ManagerMetrics) incOpenErrCount()         { m.OpenErrCount.Add(1) }

// Instance is one open device tracked by a Manager.
type Instance struct {
	// ID is a unique identifier minted for this open. Reopening the same
	// instance reference yields a new ID.
	ID string
	// Ref is the instance reference the device was opened as.
	Ref InstanceRef
	// VariantID identifies the variant the device was built from.
	VariantID string

	dev   Device
	em    *Emitter
	state AtomicOpState
}

// Device returns the underlying driver. Callers type assert it to the
// concrete driver type for variant specific operations.
func (i *Instance) Device() Device {
	return i.dev
}

// Manager opens, tracks, and closes device instances against a registry,
// and forwards their events to a single consumer channel.
//
// A fatal error reported by a device is forwarded to the consumer and the
// instance is closed and forgotten; the consumer decides whether to
// reopen. Opening an instance reference that is already open replaces the
// previous instance.
type Manager struct {
	registry  *Registry
	events    chan<- Event
	logger    logger.Logger
	tasks     *TaskManager
	instances *xsync.MapOf[string, *Instance]
	metrics   ManagerMetrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger used by the manager.
func WithManagerLogger(l logger.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager resolving variants from reg and sending
// all device events to events. The channel is owned by the caller and is
// never closed by the manager.
func NewManager(reg *Registry, events chan<- Event, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:  reg,
		events:    events,
		logger:    logger.GetLogger(),
		instances: xsync.NewMapOf[string, *Instance](),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.tasks = NewTaskManager(context.Background(), m.logger)

	return m
}

// Registry returns the registry the manager resolves variants from.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Metrics returns the manager metrics.
func (m *Manager) Metrics() *ManagerMetrics {
	return &m.metrics
}

// PublishCatalog sends one catalog snapshot to the consumer channel.
func (m *Manager) PublishCatalog() {
	m.events <- CatalogEvent{Catalog: m.registry.Catalog()}
}

// Open creates a device instance of the given variant and starts tracking
// it. If the instance reference is already open the previous instance is
// closed and replaced.
func (m *Manager) Open(ref InstanceRef, variantID string, params map[string]string) (*Instance, error) {
	bt, ok := m.registry.BaseType(ref.BaseType)
	if !ok {
		m.metrics.incOpenErrCount()
		return nil, fmt.Errorf("%w: %s", ErrUnknownBaseType, ref.BaseType)
	}
	if err := bt.ValidateName(ref.Name); err != nil {
		m.metrics.incOpenErrCount()
		return nil, err
	}

	variant, ok := m.registry.Variant(ref.BaseType, variantID)
	if !ok {
		m.metrics.incOpenErrCount()
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownVariant, ref.BaseType, variantID)
	}

	resolved, err := variant.resolveParams(params)
	if err != nil {
		m.metrics.incOpenErrCount()
		return nil, err
	}

	if prev, loaded := m.instances.LoadAndDelete(ref.String()); loaded {
		m.logger.Warn("Replacing existing instance of device", "instance", ref.String(), "variant", prev.VariantID)
		m.metrics.incReplaceCount()
		m.closeInstance(prev)
	}

	em := NewEmitter(ref, m.events)
	em.setErrorHook(m.handleDeviceError)

	dev, err := variant.New(ref, resolved, em)
	if err != nil {
		em.Close()
		m.metrics.incOpenErrCount()

		return nil, fmt.Errorf("open %s (%s): %w", ref.String(), variantID, err)
	}

	inst := &Instance{
		ID:        uuid.New().String(),
		Ref:       ref,
		VariantID: variantID,
		dev:       dev,
		em:        em,
	}
	inst.state.Set(OpenedState)
	m.instances.Store(ref.String(), inst)
	m.metrics.incOpenCount()
	m.logger.Info("Device instance opened", "instance", ref.String(), "variant", variantID, "id", inst.ID)

	return inst, nil
}

// Get returns the open instance for ref, if any.
func (m *Manager) Get(ref InstanceRef) (*Instance, bool) {
	return m.instances.Load(ref.String())
}

// Instances returns a snapshot of the open instances sorted by reference.
func (m *Manager) Instances() []*Instance {
	var instances []*Instance
	m.instances.Range(func(_ string, inst *Instance) bool {
		instances = append(instances, inst)
		return true
	})
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Ref.String() < instances[j].Ref.String()
	})

	return instances
}

// Close closes the open instance for ref and stops tracking it.
func (m *Manager) Close(ref InstanceRef) error {
	inst, loaded := m.instances.LoadAndDelete(ref.String())
	if !loaded {
		return fmt.Errorf("%w: %s", ErrInstanceNotOpen, ref.String())
	}

	return m.closeInstance(inst)
}

// CloseAll closes every open instance and joins the manager's background
// tasks. Close errors are logged and otherwise ignored.
func (m *Manager) CloseAll() {
	m.instances.Range(func(key string, _ *Instance) bool {
		if inst, loaded := m.instances.LoadAndDelete(key); loaded {
			if err := m.closeInstance(inst); err != nil {
				m.logger.Warn("Device close failed", "instance", inst.Ref.String(), "error", err)
			}
		}

		return true
	})

	m.tasks.Stop()
	m.tasks.Wait()
}

// handleDeviceError is installed as the emitter error hook of every
// instance. The error event has already been forwarded to the consumer;
// the hook's job is to close and forget the failed instance. The close
// runs on a manager task because the hook is invoked from a driver
// goroutine that the close would otherwise wait for.
//
// Errors wrapping ErrDataUnavailable mark a skipped poll cycle, not a
// dead device; the instance stays open and keeps polling.
func (m *Manager) handleDeviceError(ref InstanceRef, err error) {
	if errors.Is(err, ErrDataUnavailable) {
		m.logger.Warn("Device data unavailable", "instance", ref.String(), "error", err)
		m.metrics.incDataUnavailableCount()

		return
	}

	m.logger.Error("Device error", "instance", ref.String(), "error", err)
	m.metrics.incDeviceErrCount()

	name := fmt.Sprintf("close-%s-%s", ref.String(), uuid.New().String()[:8])
	startErr := m.tasks.Start(name, func() bool {
		if inst, loaded := m.instances.LoadAndDelete(ref.String()); loaded {
			if cerr := m.closeInstance(inst); cerr != nil {
				m.logger.Warn("Device close failed", "instance", ref.String(), "error", cerr)
			}
		}

		return false
	})
	if startErr != nil {
		m.logger.Warn("Close task not started", "instance", ref.String(), "error", startErr)
	}
}

// closeInstance shuts one instance down. Driver panics during Close are
// contained so one misbehaving driver cannot take the manager down.
func (m *Manager) closeInstance(inst *Instance) error {
	if !inst.state.ToClosing() {
		return nil
	}

	var err error
	m.tasks.callWithRecover("close-"+inst.Ref.String(), func() {
		err = inst.dev.Close()
	})
	inst.em.Close()
	inst.state.ToClosed()
	m.metrics.incCloseCount()
	m.logger.Info("Device instance closed", "instance", inst.Ref.String(), "id", inst.ID)

	return err
}

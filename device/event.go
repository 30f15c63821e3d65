package device

import "sync"

// Event is a message from the device layer to the consumer. The concrete
// types are CatalogEvent, ReadingsEvent, StatusEvent, and ErrorEvent;
// consumers dispatch with a type switch. The interface is sealed so the
// set of variants is closed.
type Event interface {
	event()
}

// CatalogEvent carries a snapshot of the registered device catalog. It is
// published once, after all variant packages have registered.
type CatalogEvent struct {
	Catalog Catalog
}

// ReadingsEvent carries one batch of sensor readings from an open
// instance. Tag is always "data".
type ReadingsEvent struct {
	Instance InstanceRef
	Readings []Reading
}

// Tag returns the message tag identifying readings batches on the wire.
func (ReadingsEvent) Tag() string { return "data" }

// StatusEvent carries a spectrometer status change from an open instance.
type StatusEvent struct {
	Instance InstanceRef
	Status   SpectrometerStatus
}

// ErrorEvent carries a device error. Errors wrapping ErrDataUnavailable
// mark one skipped poll cycle; any other error is fatal and the Manager
// closes the instance after forwarding the event.
type ErrorEvent struct {
	Instance InstanceRef
	Err      error
}

func (CatalogEvent) event()  {}
func (ReadingsEvent) event() {}
func (StatusEvent) event()   {}
func (ErrorEvent) event()    {}

// Emitter forwards events from one device instance to the consumer
// channel. Sends are abandoned once the emitter is closed so a departed
// consumer cannot block driver goroutines forever.
type Emitter struct {
	ref       InstanceRef
	ch        chan<- Event
	done      chan struct{}
	closeOnce sync.Once
	onError   func(ref InstanceRef, err error)
}

// NewEmitter creates an emitter that tags events with ref and sends them
// to ch. The Manager installs its own error hook with setErrorHook; an
// emitter created directly forwards errors to the channel only.
func NewEmitter(ref InstanceRef, ch chan<- Event) *Emitter {
	return &Emitter{
		ref:  ref,
		ch:   ch,
		done: make(chan struct{}),
	}
}

// Ref returns the instance reference the emitter is bound to.
func (e *Emitter) Ref() InstanceRef {
	return e.ref
}

// Readings sends a batch of readings tagged "data".
func (e *Emitter) Readings(readings []Reading) {
	e.send(ReadingsEvent{Instance: e.ref, Readings: readings})
}

// Status sends a spectrometer status change.
func (e *Emitter) Status(status SpectrometerStatus) {
	e.send(StatusEvent{Instance: e.ref, Status: status})
}

// Error sends a fatal device error and then invokes the error hook, if
// any. The hook runs after the event is on the channel so consumers see
// the error before the instance disappears. Errors raised after Close are
// dropped without invoking the hook.
func (e *Emitter) Error(err error) {
	select {
	case <-e.done:
		return
	default:
	}

	e.send(ErrorEvent{Instance: e.ref, Err: err})

	if e.onError != nil {
		e.onError(e.ref, err)
	}
}

// Close detaches the emitter. Pending and future sends return without
// delivering. Safe to call more than once.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

func (e *Emitter) setErrorHook(hook func(ref InstanceRef, err error)) {
	e.onError = hook
}

func (e *Emitter) send(ev Event) {
	select {
	case e.ch <- ev:
	case <-e.done:
	}
}

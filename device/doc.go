// Package device provides the shared abstractions of the go-instr device
// layer: the Device interface and instance naming, the variant registry and
// catalog, the typed event channel toward the consumer, the polling and
// command driver bases, the task manager that owns driver goroutines and
// timers, and the Manager that opens, tracks, and closes device instances.
//
// # Drivers
//
// Concrete drivers live in their own packages (tec, sensors, spectro) and
// register their variants with the package-level registry from init. A
// consumer builds a catalog snapshot, opens a variant through a Manager,
// and receives readings, status changes, and errors on a single typed
// event channel.
//
// # Registration
//
// Discovery is an explicit, deterministic iteration over registered
// constructors. There is no reflection and no import scanning: a variant is
// visible exactly when its package is linked into the binary and its init
// function has called Register.
//
// # Lifecycle
//
// A device instance is created when a consumer opens it and destroyed when
// the consumer closes it or the Manager shuts down. Instances never outlive
// their Manager. Each driver owns exactly one transport and one task
// manager; callers must not issue concurrent requests on one instance.
package device

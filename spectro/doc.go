// Package spectro drives spectrometer instruments through their control
// programs: FTSW500 over a TCP line protocol and OPUS over HTTP.
//
// Both backends share the same shape. Commands run synchronously and
// report instrument refusals as *device.BackendError without retrying;
// a recurring poll tracks the acquisition status and publishes changes
// as status events through the instance emitter. Backend wires that
// shape around a protocol client; FTSW500 and OPUS supply the concrete
// protocols and Sim provides a state-machine variant for running
// without an instrument.
package spectro

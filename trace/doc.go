// Package trace records raw instrument wire traffic to CBOR files.
//
// Drivers hand every frame they put on or take off the wire to a
// Recorder. The binary format uses integer map keys for compactness and
// can be replayed later to diagnose protocol faults without the
// instrument attached.
//
// A FileRecorder appends events to a file and is safe for concurrent use;
// Reader streams a recorded file back, optionally filtered by instance,
// direction, or time range.
package trace

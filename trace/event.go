package trace

import "time"

// Event is one recorded wire exchange.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Seq is assigned by the recorder and increases by one per recorded
	// event. Sequence numbers start at 1 for each recording session.
	Seq uint64 `cbor:"1,keyasint"`

	// Timestamp when the bytes crossed the wire (nanosecond precision).
	Timestamp time.Time `cbor:"2,keyasint"`

	// Instance is the device instance reference, e.g.
	// "temperature_controller.hot_bb".
	Instance string `cbor:"3,keyasint"`

	// Direction indicates whether the bytes were sent or received.
	Direction Direction `cbor:"4,keyasint"`

	// Data is the raw frame as it appeared on the wire.
	Data []byte `cbor:"5,keyasint"`

	// Note carries optional context, e.g. the decode error a received
	// frame produced.
	Note string `cbor:"6,keyasint,omitempty"`
}

// Direction indicates the direction of a recorded frame.
type Direction uint8

const (
	// DirectionTX indicates bytes sent to the instrument.
	DirectionTX Direction = 0
	// DirectionRX indicates bytes received from the instrument.
	DirectionRX Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionTX:
		return "TX"
	case DirectionRX:
		return "RX"
	default:
		return "UNKNOWN"
	}
}

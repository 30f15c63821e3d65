package device

// SpectrometerStatus represents the measurement state reported by a
// spectrometer backend.
type SpectrometerStatus uint32

// Spectrometer states as reported by the measurement backends. The numeric
// values match the status codes on the wire.
const (
	// StatusIdle indicates that the backend is idle and not connected.
	StatusIdle SpectrometerStatus = iota
	// StatusConnecting indicates that a connection attempt is in progress.
	StatusConnecting
	// StatusConnected indicates that the backend is connected and ready.
	StatusConnected
	// StatusMeasuring indicates that a measurement is running.
	StatusMeasuring
	// StatusFinishing indicates that a measurement is being finalized.
	StatusFinishing
	// StatusCancelling indicates that a measurement is being cancelled.
	StatusCancelling
	// StatusUndefined indicates that the state could not be determined.
	StatusUndefined
)

// IsConnected reports whether the backend has an established connection to
// the instrument, including the transient measuring states.
func (s SpectrometerStatus) IsConnected() bool {
	return s >= StatusConnected && s <= StatusCancelling
}

// String returns the string representation of the status.
func (s SpectrometerStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusMeasuring:
		return "measuring"
	case StatusFinishing:
		return "finishing"
	case StatusCancelling:
		return "cancelling"
	default:
		return "undefined"
	}
}

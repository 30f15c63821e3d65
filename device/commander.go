package device

// Command names sent to measurement backends.
const (
	CommandConnect = "connect"
	CommandStart   = "start"
	CommandStop    = "stop"
	CommandCancel  = "cancel"
)

// CommandRunner executes a named command against a measurement backend.
// Implementations translate the abstract name into the backend's own
// request format and surface backend reported errors as *BackendError
// without retrying.
type CommandRunner interface {
	RequestCommand(name string) error
}

// Commander exposes the measurement lifecycle operations of a
// spectrometer style device by delegating to a CommandRunner. Concrete
// drivers embed it and provide the runner.
type Commander struct {
	runner CommandRunner
}

// NewCommander creates a commander delegating to r.
func NewCommander(r CommandRunner) *Commander {
	return &Commander{runner: r}
}

// Connect asks the backend to establish its instrument connection.
func (c *Commander) Connect() error {
	return c.runner.RequestCommand(CommandConnect)
}

// StartMeasuring asks the backend to begin a measurement.
func (c *Commander) StartMeasuring() error {
	return c.runner.RequestCommand(CommandStart)
}

// StopMeasuring asks the backend to cancel the measurement in progress.
func (c *Commander) StopMeasuring() error {
	return c.runner.RequestCommand(CommandCancel)
}

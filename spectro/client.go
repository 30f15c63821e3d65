package spectro

import (
	"errors"
	"time"

	"github.com/arloliu/go-instr/logger"
	"github.com/arloliu/go-instr/trace"
)

// DefaultRequestTimeout bounds a single request round trip when no
// timeout option is given.
const DefaultRequestTimeout = 5 * time.Second

// clientConfig holds the settings shared by the protocol clients.
type clientConfig struct {
	instance string
	logger   logger.Logger
	recorder trace.Recorder
	timeout  time.Duration
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		logger:   logger.GetLogger(),
		recorder: trace.Default(),
		timeout:  DefaultRequestTimeout,
	}
}

// ClientOption configures a protocol client.
type ClientOption interface {
	apply(*clientConfig) error
}

type clientOptFunc func(*clientConfig) error

func (f clientOptFunc) apply(cfg *clientConfig) error {
	return f(cfg)
}

// WithInstance sets the instance label attached to recorded wire
// traffic.
func WithInstance(name string) ClientOption {
	return clientOptFunc(func(cfg *clientConfig) error {
		cfg.instance = name
		return nil
	})
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) ClientOption {
	return clientOptFunc(func(cfg *clientConfig) error {
		if l == nil {
			return errors.New("spectro: logger is nil")
		}

		cfg.logger = l

		return nil
	})
}

// WithRecorder sets the trace recorder receiving wire traffic.
func WithRecorder(rec trace.Recorder) ClientOption {
	return clientOptFunc(func(cfg *clientConfig) error {
		if rec == nil {
			return errors.New("spectro: recorder is nil")
		}

		cfg.recorder = rec

		return nil
	})
}

// WithTimeout bounds a single request round trip.
func WithTimeout(d time.Duration) ClientOption {
	return clientOptFunc(func(cfg *clientConfig) error {
		if d <= 0 {
			return errors.New("spectro: timeout must be positive")
		}

		cfg.timeout = d

		return nil
	})
}

package tec

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-instr/logger"
	"github.com/arloliu/go-instr/trace"
)

// Default values for a Controller.
const (
	DefaultMaxAttempts = 3
	MinMaxAttempts     = 1
)

// ControllerOption is a functional option for configuring a Controller.
type ControllerOption interface {
	apply(*Controller) error
}

type ctrlOptFunc func(*Controller) error

func (f ctrlOptFunc) apply(c *Controller) error { return f(c) }

// WithMaxAttempts sets the retry budget: the maximum number of
// write/read cycles a request performs before giving up.
func WithMaxAttempts(n int) ControllerOption {
	return ctrlOptFunc(func(c *Controller) error {
		if n < MinMaxAttempts {
			return fmt.Errorf("tec: max attempts %d must be at least %d", n, MinMaxAttempts)
		}
		c.maxAttempts = n

		return nil
	})
}

// WithInstance sets the instance name used to label log and trace
// records.
func WithInstance(name string) ControllerOption {
	return ctrlOptFunc(func(c *Controller) error {
		c.instance = name
		return nil
	})
}

// WithLogger sets the logger for the controller.
func WithLogger(l logger.Logger) ControllerOption {
	return ctrlOptFunc(func(c *Controller) error {
		if l == nil {
			return errors.New("tec: logger must not be nil")
		}
		c.logger = l

		return nil
	})
}

// WithRecorder sets a wire-trace recorder that receives every frame
// exchanged with the device.
func WithRecorder(rec trace.Recorder) ControllerOption {
	return ctrlOptFunc(func(c *Controller) error {
		if rec == nil {
			return errors.New("tec: recorder must not be nil")
		}
		c.recorder = rec

		return nil
	})
}

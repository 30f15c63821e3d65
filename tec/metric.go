package tec

import (
	"sync/atomic"
)

// ControllerMetrics contains atomic metrics for a Controller.
// Metrics can be used as the value of a prometheus CounterFunc.
type ControllerMetrics struct {
	// RequestCount indicates the number of requests issued.
	RequestCount atomic.Uint64
	// RetryCount indicates the total number of command retransmissions.
	RetryCount atomic.Uint64

	// MalformedFrameCount indicates the number of malformed frames received.
	MalformedFrameCount atomic.Uint64
	// ChecksumMismatchCount indicates the number of received frames whose
	// checksum field did not match the payload.
	ChecksumMismatchCount atomic.Uint64

	// SetPointMismatchCount indicates the number of set-point writes the
	// device echoed back with a different value.
	SetPointMismatchCount atomic.Uint64
}

func (m *ControllerMetrics) incRequestCount() {
	m.RequestCount.Add(1)
}

func (m *ControllerMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *ControllerMetrics) incMalformedFrameCount() {
	m.MalformedFrameCount.Add(1)
}

func (m *ControllerMetrics) incChecksumMismatchCount() {
	m.ChecksumMismatchCount.Add(1)
}

func (m *ControllerMetrics) incSetPointMismatchCount() {
	m.SetPointMismatchCount.Add(1)
}

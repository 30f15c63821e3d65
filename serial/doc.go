// Package serial provides raw, low-latency access to Linux serial ports
// for instrument drivers.
//
// The port is configured in raw mode with VMIN=1 and VTIME=0: reads block
// until at least one byte arrives and there is no inter-character timeout.
// Device protocols in this module are terminator framed, so reads are
// expressed as ReadUntil with a terminator byte and an optional size cap
// rather than line oriented helpers.
//
// A blocked ReadUntil has no read timeout. Close uses a self-pipe to wake
// the poll so a blocked read returns promptly with ErrPortClosed instead
// of waiting for instrument bytes that will never come.
//
// A Port is not safe for concurrent use. Drivers own exactly one port and
// serialize their requests on it.
package serial

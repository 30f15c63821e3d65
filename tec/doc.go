// Package tec drives TC-series thermoelectric temperature controllers
// that speak a checksum-framed ASCII protocol over a serial line.
//
// Device responses are fixed 8-byte frames: a `*` start marker, a
// 4-hex-digit payload, a 2-hex-digit checksum and a `^` terminator.
// Commands use the same construction terminated with a carriage return.
// The checksum catches line-noise corruption; a corrupted frame in
// either direction is a transient fault handled by retransmitting the
// request, bounded by a per-controller retry budget. Transport failures
// and an exhausted budget are fatal and surface to the caller.
//
// Controller implements the request/response protocol over any
// Transport. TC4820 wraps a Controller into a registered polling device
// variant; Sim provides a noise-backed variant for running without
// hardware.
package tec

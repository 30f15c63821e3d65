package tec

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Frame layout. Every frame on the wire is exactly FrameLength bytes:
// the start marker, 4 payload hex digits, 2 checksum hex digits and a
// terminator.
const (
	FrameLength = 8

	frameStart      = '*'
	ReadTerminator  = '^'
	WriteTerminator = '\r'
)

// checksumRejectedFrame is the literal frame the device sends when the
// checksum of the last command it received did not match.
const checksumRejectedFrame = "*XXXX60^"

// ErrMalformedFrame classifies every frame validation failure. Errors
// returned by DecodeFrame match ErrMalformedFrame and exactly one of
// the cause sentinels below under errors.Is.
var (
	ErrMalformedFrame = errors.New("tec: malformed frame")

	// Causes, always wrapped in ErrMalformedFrame.
	ErrFrameLength      = errors.New("length is not 8 bytes")
	ErrFrameMarkers     = errors.New("start or end marker missing")
	ErrChecksumRejected = errors.New("device reported bad checksum received")
	ErrPayloadNotHex    = errors.New("payload is not hexadecimal")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Checksum computes the checksum of message: the sum of its ASCII byte
// values modulo 256, rendered as exactly two lowercase hex digits.
func Checksum(message string) string {
	var sum uint8
	for i := 0; i < len(message); i++ {
		sum += message[i]
	}

	return fmt.Sprintf("%02x", sum)
}

// EncodeFrame builds a wire frame around payload: the start marker,
// the payload, its checksum and the terminator byte. Commands are
// terminated with WriteTerminator, device responses with
// ReadTerminator.
func EncodeFrame(payload string, terminator byte) []byte {
	frame := make([]byte, 0, len(payload)+4)
	frame = append(frame, frameStart)
	frame = append(frame, payload...)
	frame = append(frame, Checksum(payload)...)
	frame = append(frame, terminator)

	return frame
}

// DecodeFrame validates a device response frame and decodes its payload
// as a signed 16-bit big-endian integer. Negative values arrive encoded
// as if cast to an unsigned integer, so a payload of "ffff" decodes
// to -1.
//
// Validation fails fast in a fixed order: frame length, start and end
// markers, the device's bad-checksum sentinel frame, payload hex
// digits, checksum field. Any violation returns an error matching
// ErrMalformedFrame and the corresponding cause sentinel.
func DecodeFrame(frame []byte) (int16, error) {
	if len(frame) != FrameLength {
		return 0, fmt.Errorf("%w: %w: %q", ErrMalformedFrame, ErrFrameLength, frame)
	}
	if frame[0] != frameStart || frame[7] != ReadTerminator {
		return 0, fmt.Errorf("%w: %w: %q", ErrMalformedFrame, ErrFrameMarkers, frame)
	}
	if string(frame) == checksumRejectedFrame {
		return 0, fmt.Errorf("%w: %w", ErrMalformedFrame, ErrChecksumRejected)
	}

	payload := string(frame[1:5])
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %w: %q", ErrMalformedFrame, ErrPayloadNotHex, payload)
	}
	if got, want := string(frame[5:7]), Checksum(payload); got != want {
		return 0, fmt.Errorf("%w: %w: got %q, want %q", ErrMalformedFrame, ErrChecksumMismatch, got, want)
	}

	return int16(binary.BigEndian.Uint16(raw)), nil
}

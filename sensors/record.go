package sensors

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Record layout. The instrument answers a read request with one ASCII
// record:
//
//	STX 'T' (SP temperature)*9 sysflag ETX BCC NUL
//
// Each temperature is rendered %4.2f, the system flag is two hex digits
// and the BCC is the XOR of every byte after STX up to and including
// ETX. Nine temperatures arrive on the wire while the instrument
// displays eight; the first value is dropped.
const (
	recordSTX = 0x02
	recordETX = 0x03

	// RecordTerminator ends every temperature record on the wire.
	RecordTerminator byte = 0x00

	minRecordLength  = 4
	recordFieldCount = 9
)

// readRequest prepares the instrument for a read operation: EOT 'T' ENQ.
var readRequest = []byte{0x04, 'T', 0x05}

// ErrMalformedRecord classifies every record validation failure. Errors
// returned by DecodeRecord match ErrMalformedRecord and, for structural
// violations, one of the cause sentinels below under errors.Is.
var (
	ErrMalformedRecord = errors.New("sensors: malformed record")

	// Causes, always wrapped in ErrMalformedRecord.
	ErrInsufficientData = errors.New("insufficient data read from device")
	ErrStartMarker      = errors.New("start transmission character not detected")
	ErrEndMarker        = errors.New("end transmission character not detected")
	ErrNullTerminator   = errors.New("null terminator not detected")
	ErrBCCMismatch      = errors.New("BCC check failed")
	ErrRecordNotASCII   = errors.New("record is not ASCII")
	ErrFieldCount       = errors.New("wrong number of temperature fields")
	ErrSystemFlag       = errors.New("system flag is not hexadecimal")
)

// BCC computes the block check character of a record: consecutive XOR
// of every byte between the start marker and the BCC field. Records too
// short to carry a BCC yield zero.
func BCC(record []byte) byte {
	if len(record) < 3 {
		return 0
	}

	var bcc byte
	for _, b := range record[1 : len(record)-2] {
		bcc ^= b
	}

	return bcc
}

// DecodeRecord validates one temperature record and extracts the eight
// channel temperatures and the system flag byte.
//
// Validation fails fast in a fixed order: minimum length, start marker,
// end marker, null terminator, BCC, ASCII content, temperature fields,
// system flag. Any violation returns an error matching
// ErrMalformedRecord.
func DecodeRecord(record []byte) ([]float64, byte, error) {
	if len(record) < minRecordLength {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedRecord, ErrInsufficientData)
	}
	if record[0] != recordSTX {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedRecord, ErrStartMarker)
	}
	etx := bytes.IndexByte(record, recordETX)
	if etx < 0 {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedRecord, ErrEndMarker)
	}
	if record[len(record)-1] != RecordTerminator {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedRecord, ErrNullTerminator)
	}
	if got, want := record[len(record)-2], BCC(record); got != want {
		return nil, 0, fmt.Errorf("%w: %w: calculated %#02x, received %#02x", ErrMalformedRecord, ErrBCCMismatch, want, got)
	}
	for _, b := range record {
		if b > unicode.MaxASCII {
			return nil, 0, fmt.Errorf("%w: %w", ErrMalformedRecord, ErrRecordNotASCII)
		}
	}

	// body runs from the tag character to the system flag, ETX excluded
	body := string(record[1:etx])
	if len(body) < 3 {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedRecord, ErrInsufficientData)
	}

	fields := strings.Fields(body[1 : len(body)-2])
	if len(fields) != recordFieldCount {
		return nil, 0, fmt.Errorf("%w: %w: got %d", ErrMalformedRecord, ErrFieldCount, len(fields))
	}
	vals := make([]float64, len(fields))
	for i, field := range fields {
		val, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: temperature field %q: %w", ErrMalformedRecord, field, err)
		}
		vals[i] = val
	}

	sysflagHex := body[len(body)-2:]
	sysflag, err := strconv.ParseUint(sysflagHex, 16, 8)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w: %q", ErrMalformedRecord, ErrSystemFlag, sysflagHex)
	}

	return vals[1:], byte(sysflag), nil
}

// Settings are the instrument settings carried in the system flag of
// every record. The flag is a bit mask in the format TxxLxSAF: bit 7
// selects the instrument type, bit 4 logging, bit 2 autoscan, bit 1
// the audible button and bit 0 the temperature unit.
type Settings struct {
	InstrumentType  string
	LoggingState    string
	ScanningState   string
	AudibleState    string
	TemperatureUnit string
}

// DecodeSettings expands a system flag byte into the instrument
// settings it encodes.
func DecodeSettings(sysflag byte) Settings {
	s := Settings{
		InstrumentType:  "TC",
		LoggingState:    "no logging",
		ScanningState:   "no scan",
		AudibleState:    "silence",
		TemperatureUnit: "deg C",
	}
	if sysflag&0x80 != 0 {
		s.InstrumentType = "PT"
	}
	if sysflag&0x10 != 0 {
		s.LoggingState = "logging active"
	}
	if sysflag&0x04 != 0 {
		s.ScanningState = "autoscan active"
	}
	if sysflag&0x02 != 0 {
		s.AudibleState = "audible"
	}
	if sysflag&0x01 != 0 {
		s.TemperatureUnit = "deg F"
	}

	return s
}

// readingUnit maps the temperature unit bit of a system flag to the
// unit attached to readings.
func readingUnit(sysflag byte) string {
	if sysflag&0x01 != 0 {
		return "degF"
	}

	return "degC"
}

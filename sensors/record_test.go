package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceRecord is a complete record as sent by a DP9800 with a PT
// instrument in autoscan mode, system flag 0x86.
var referenceRecord = []byte("\x02T   27.16   19.13   17.61   26.49  850.00   24.35   68.65   69.92   24.1986\x03M\x00")

// referenceTemps are the channel temperatures carried by
// referenceRecord, the leading duplicate value already dropped.
var referenceTemps = []float64{19.13, 17.61, 26.49, 850.00, 24.35, 68.65, 69.92, 24.19}

// buildRecord frames body into a record with a valid BCC.
func buildRecord(body []byte) []byte {
	record := make([]byte, 0, len(body)+4)
	record = append(record, recordSTX)
	record = append(record, body...)
	record = append(record, recordETX, 0, RecordTerminator)
	record[len(record)-2] = BCC(record)

	return record
}

func TestBCC(t *testing.T) {
	assert.Equal(t, byte('M'), BCC(referenceRecord))
	assert.Equal(t, byte('B'), BCC([]byte("\x02A\x03?\x00")))

	// too short to carry a BCC
	assert.Equal(t, byte(0), BCC(nil))
	assert.Equal(t, byte(0), BCC([]byte{recordSTX, 0}))
}

func TestDecodeRecord(t *testing.T) {
	temps, sysflag, err := DecodeRecord(referenceRecord)
	require.NoError(t, err)
	assert.Equal(t, referenceTemps, temps)
	assert.Equal(t, byte(0x86), sysflag)

	// a freshly framed record in Fahrenheit mode
	record := buildRecord([]byte("T   20.00   21.00   22.00   23.00   24.00   25.00   26.00   27.00   28.0087"))
	temps, sysflag, err = DecodeRecord(record)
	require.NoError(t, err)
	assert.Equal(t, []float64{21, 22, 23, 24, 25, 26, 27, 28}, temps)
	assert.Equal(t, byte(0x87), sysflag)
}

func TestDecodeRecord_Malformed(t *testing.T) {
	noSTX := append([]byte(nil), referenceRecord...)
	noSTX[0] = 'x'

	noNUL := referenceRecord[:len(referenceRecord)-1]

	badBCC := append([]byte(nil), referenceRecord...)
	badBCC[len(badBCC)-2] = 'N'

	// non-ASCII byte inside a record whose BCC still matches
	notASCII := buildRecord([]byte("T   27.16   19.13   17.61   26.49  850.00   24.35   68.65   69.92   24.19\xff86"))

	// BCC is checked before content, so corruption wins over encoding
	badBCCAndASCII := append([]byte(nil), notASCII...)
	badBCCAndASCII[len(badBCCAndASCII)-2] ^= 0xff

	eightFields := buildRecord([]byte("T   20.00   21.00   22.00   23.00   24.00   25.00   26.00   27.0086"))
	badSysflag := buildRecord([]byte("T   20.00   21.00   22.00   23.00   24.00   25.00   26.00   27.00   28.00ZZ"))

	tests := []struct {
		name   string
		record []byte
		cause  error
	}{
		{"empty", nil, ErrInsufficientData},
		{"below minimum length", []byte("\x02\x03\x00"), ErrInsufficientData},
		{"body too short", []byte("\x02T\x03W\x00"), ErrInsufficientData},
		{"missing start marker", noSTX, ErrStartMarker},
		{"missing end marker", []byte("\x02T 20.00\x00"), ErrEndMarker},
		{"missing null terminator", noNUL, ErrNullTerminator},
		{"bad BCC", badBCC, ErrBCCMismatch},
		{"not ASCII", notASCII, ErrRecordNotASCII},
		{"bad BCC wins over encoding", badBCCAndASCII, ErrBCCMismatch},
		{"eight fields", eightFields, ErrFieldCount},
		{"bad system flag", badSysflag, ErrSystemFlag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeRecord(tt.record)
			assert.ErrorIs(t, err, ErrMalformedRecord)
			assert.ErrorIs(t, err, tt.cause)
		})
	}

	t.Run("field not a decimal", func(t *testing.T) {
		record := buildRecord([]byte("T   20.00   2x.00   22.00   23.00   24.00   25.00   26.00   27.00   28.0086"))
		_, _, err := DecodeRecord(record)
		assert.ErrorIs(t, err, ErrMalformedRecord)
		assert.ErrorContains(t, err, "temperature field")
	})
}

func TestDecodeSettings(t *testing.T) {
	assert.Equal(t, Settings{
		InstrumentType:  "PT",
		LoggingState:    "no logging",
		ScanningState:   "autoscan active",
		AudibleState:    "audible",
		TemperatureUnit: "deg C",
	}, DecodeSettings(0x86))

	assert.Equal(t, Settings{
		InstrumentType:  "TC",
		LoggingState:    "no logging",
		ScanningState:   "no scan",
		AudibleState:    "silence",
		TemperatureUnit: "deg C",
	}, DecodeSettings(0x00))

	assert.Equal(t, Settings{
		InstrumentType:  "TC",
		LoggingState:    "logging active",
		ScanningState:   "no scan",
		AudibleState:    "audible",
		TemperatureUnit: "deg F",
	}, DecodeSettings(0x13))
}

func TestReadingUnit(t *testing.T) {
	assert.Equal(t, "degC", readingUnit(0x86))
	assert.Equal(t, "degF", readingUnit(0x87))
}

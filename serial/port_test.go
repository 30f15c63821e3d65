package serial

import (
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestPort creates a pty pair and opens the slave end as a Port. The
// returned master file plays the instrument side.
func openTestPort(t *testing.T) (master *os.File, port *Port) {
	t.Helper()

	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err = Open(Config{Device: slave.Name(), BaudRate: 115200})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	return master, port
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "valid",
			cfg:  Config{Device: "/dev/ttyUSB0", BaudRate: 115200},
		},
		{
			name:    "empty device",
			cfg:     Config{BaudRate: 115200},
			wantErr: ErrDeviceEmpty,
		},
		{
			name:    "unsupported baud rate",
			cfg:     Config{Device: "/dev/ttyUSB0", BaudRate: 12345},
			wantErr: ErrUnsupportedBaudRate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSupportedBaudRate(t *testing.T) {
	assert.True(t, SupportedBaudRate(38400))
	assert.True(t, SupportedBaudRate(115200))
	assert.False(t, SupportedBaudRate(0))
	assert.False(t, SupportedBaudRate(12345))
}

func TestPort_ReadUntilTerminator(t *testing.T) {
	master, port := openTestPort(t)

	_, err := master.Write([]byte("*012345^"))
	require.NoError(t, err)

	got := readUntilAsync(t, port, '^', 8)
	assert.Equal(t, "*012345^", string(got))
}

func TestPort_ReadUntilKeepsResidue(t *testing.T) {
	master, port := openTestPort(t)

	// two responses may arrive in a single chunk
	_, err := master.Write([]byte("*012345^*0123f8^"))
	require.NoError(t, err)

	first := readUntilAsync(t, port, '^', 8)
	assert.Equal(t, "*012345^", string(first))

	second := readUntilAsync(t, port, '^', 8)
	assert.Equal(t, "*0123f8^", string(second))
}

func TestPort_ReadUntilSizeCap(t *testing.T) {
	master, port := openTestPort(t)

	// no terminator in the first max bytes
	_, err := master.Write([]byte("abcdefgh^"))
	require.NoError(t, err)

	got := readUntilAsync(t, port, '^', 4)
	assert.Equal(t, "abcd", string(got))

	rest := readUntilAsync(t, port, '^', 8)
	assert.Equal(t, "efgh^", string(rest))
}

func TestPort_ReadUntilAcrossWrites(t *testing.T) {
	master, port := openTestPort(t)

	done := make(chan []byte, 1)
	go func() {
		data, err := port.ReadUntil(0x00, 0)
		if err != nil {
			done <- nil
			return
		}
		done <- data
	}()

	_, err := master.Write([]byte{0x02, 'T', ' ', '2', '1', '.', '3', '5'})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = master.Write([]byte{0x03, 0x1f, 0x00})
	require.NoError(t, err)

	select {
	case data := <-done:
		require.NotNil(t, data)
		assert.Equal(t, byte(0x02), data[0])
		assert.Equal(t, byte(0x00), data[len(data)-1])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for terminator-framed read")
	}
}

func TestPort_Write(t *testing.T) {
	master, port := openTestPort(t)

	n, err := port.Write([]byte("*013f43\r"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	buf := make([]byte, 8)
	_, err = master.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "*013f43\r", string(buf))
}

func TestPort_CloseUnblocksRead(t *testing.T) {
	_, port := openTestPort(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := port.ReadUntil('^', 8)
		errCh <- err
	}()

	// give the reader a chance to block
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, port.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPortClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked read did not return after Close")
	}

	// Close is idempotent
	assert.NoError(t, port.Close())
}

func TestPort_UseAfterClose(t *testing.T) {
	_, port := openTestPort(t)
	require.NoError(t, port.Close())

	_, err := port.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrPortClosed)

	_, err = port.ReadUntil('^', 8)
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open(Config{Device: "/dev/does-not-exist-12345", BaudRate: 115200})
	assert.Error(t, err)
}

// readUntilAsync runs ReadUntil on a goroutine with a timeout so a framing
// bug cannot hang the test suite.
func readUntilAsync(t *testing.T, port *Port, terminator byte, max int) []byte {
	t.Helper()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := port.ReadUntil(terminator, max)
		ch <- result{data: data, err: err}
	}()

	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.data
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for read")
		return nil
	}
}

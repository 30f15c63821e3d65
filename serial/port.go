package serial

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Sentinel errors for serial port access.
var (
	ErrPortClosed          = errors.New("serial: port closed")
	ErrUnsupportedBaudRate = errors.New("serial: unsupported baud rate")
	ErrDeviceEmpty         = errors.New("serial: device path is empty")
)

// baudRates maps numeric baud rates to their termios constants.
var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// SupportedBaudRate reports whether baud can be configured on a Port.
func SupportedBaudRate(baud int) bool {
	_, ok := baudRates[baud]
	return ok
}

// BaudRates returns the supported baud rates in ascending order.
func BaudRates() []int {
	rates := make([]int, 0, len(baudRates))
	for rate := range baudRates {
		rates = append(rates, rate)
	}
	sort.Ints(rates)

	return rates
}

// BaudRateValues returns the supported baud rates in ascending order as
// decimal strings, suitable for parameter choice lists.
func BaudRateValues() []string {
	rates := BaudRates()
	values := make([]string, len(rates))
	for i, rate := range rates {
		values[i] = strconv.Itoa(rate)
	}

	return values
}

// Config holds the parameters for opening a serial port.
type Config struct {
	// Device is the serial device path, e.g. "/dev/ttyUSB0".
	Device string
	// BaudRate is the line speed. It must be one of the supported rates.
	BaudRate int
}

// Validate checks the config before opening.
func (cfg *Config) Validate() error {
	if cfg.Device == "" {
		return ErrDeviceEmpty
	}
	if !SupportedBaudRate(cfg.BaudRate) {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaudRate, cfg.BaudRate)
	}

	return nil
}

// Port is a raw serial port.
type Port struct {
	fd        int
	file      *os.File
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
	done      chan struct{}
	closeOnce sync.Once
	cfg       Config

	// residue holds bytes read past the previous terminator.
	residue []byte
	readBuf []byte
}

// Open opens the serial device in raw 8N1 mode at the configured baud
// rate, with VMIN=1 and VTIME=0.
func Open(cfg Config) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baud := baudRates[cfg.BaudRate]

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0o666)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	// Raw mode: no input translation, no output processing, no echo, 8N1.
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud
	termios.Ispeed = baud
	termios.Ospeed = baud

	// VMIN=1, VTIME=0: block until at least one byte, no read timer.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	// Back to blocking mode now that configuration is done.
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	// Self-pipe lets Close wake a blocked poll.
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("serial: pipe: %w", err)
	}

	return &Port{
		fd:      fd,
		file:    os.NewFile(uintptr(fd), cfg.Device),
		pipeR:   pipeFds[0],
		pipeW:   pipeFds[1],
		done:    make(chan struct{}),
		cfg:     cfg,
		readBuf: make([]byte, 4096),
	}, nil
}

// Name returns the device path the port was opened with.
func (p *Port) Name() string {
	return p.cfg.Device
}

// Write writes data to the port.
func (p *Port) Write(data []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ErrPortClosed
	default:
	}

	return p.file.Write(data)
}

// ReadUntil reads from the port until the terminator byte is received or,
// when max is positive, max bytes have been collected. The returned slice
// includes the terminator when one was read. Bytes received past the
// terminator are kept for the next call.
//
// The call blocks without timeout until data arrives or the port is
// closed, in which case it returns ErrPortClosed.
func (p *Port) ReadUntil(terminator byte, max int) ([]byte, error) {
	for {
		if out, ok := p.takeBuffered(terminator, max); ok {
			return out, nil
		}

		if err := p.waitReadable(); err != nil {
			return nil, err
		}

		n, err := p.file.Read(p.readBuf)
		if err != nil {
			return nil, fmt.Errorf("serial: read %s: %w", p.cfg.Device, err)
		}
		p.residue = append(p.residue, p.readBuf[:n]...)
	}
}

// takeBuffered extracts a complete response from the residue buffer.
func (p *Port) takeBuffered(terminator byte, max int) ([]byte, bool) {
	end := -1
	if idx := bytes.IndexByte(p.residue, terminator); idx >= 0 {
		end = idx + 1
	}
	if max > 0 && (end < 0 || end > max) && len(p.residue) >= max {
		end = max
	}
	if end < 0 {
		return nil, false
	}

	out := append([]byte(nil), p.residue[:end]...)
	p.residue = p.residue[end:]
	if len(p.residue) == 0 {
		p.residue = nil
	}

	return out, true
}

// waitReadable polls until the port has data or the port is closed.
func (p *Port) waitReadable() error {
	for {
		pfd := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.pipeR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pfd, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return fmt.Errorf("serial: poll: %w", err)
		}

		select {
		case <-p.done:
			return ErrPortClosed
		default:
		}

		if pfd[1].Revents&unix.POLLIN != 0 {
			var b [1]byte
			unix.Read(p.pipeR, b[:])

			return ErrPortClosed
		}

		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return nil
		}
	}
}

// Close closes the port and unblocks any in-flight ReadUntil. Safe to
// call more than once.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		// wake up poll through the self-pipe
		unix.Write(p.pipeW, []byte{1})

		err = p.file.Close()
		unix.Close(p.pipeR)
		unix.Close(p.pipeW)
	})

	return err
}

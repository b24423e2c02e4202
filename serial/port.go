package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrReadTimeout is returned when the port produced no data within its read timeout
var ErrReadTimeout = errors.New("serial read timed out")

// Port is a serial connection to a board console
type Port interface {
	io.ReadWriteCloser
	Device() string
}

// RealPort implements Port using go.bug.st/serial
type RealPort struct {
	device      string
	port        serial.Port
	baudRate    int
	readTimeout time.Duration
	isOpen      bool
	mu          sync.Mutex
}

// OpenPort opens device at baudRate, 8N1
func OpenPort(device string, baudRate int, readTimeout time.Duration) (*RealPort, error) {
	p := &RealPort{
		device:      device,
		baudRate:    baudRate,
		readTimeout: readTimeout,
	}

	if err := p.open(); err != nil {
		return nil, err
	}

	return p, nil
}

// open opens the serial port with current configuration
func (p *RealPort) open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isOpen {
		return fmt.Errorf("port already open")
	}

	mode := &serial.Mode{
		BaudRate: p.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(p.device, mode)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p.device, err)
	}

	if err := port.SetReadTimeout(p.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	p.port = port
	p.isOpen = true

	return nil
}

// Read implements io.Reader. A timeout with no data returns ErrReadTimeout.
func (p *RealPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()

	if port == nil {
		return 0, fmt.Errorf("port not open")
	}

	n, err := port.Read(b)
	if n == 0 && err == nil {
		return 0, ErrReadTimeout
	}
	return n, err
}

// Write implements io.Writer
func (p *RealPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()

	if port == nil {
		return 0, fmt.Errorf("port not open")
	}

	return port.Write(b)
}

// Close implements io.Closer
func (p *RealPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isOpen || p.port == nil {
		return nil
	}

	err := p.port.Close()
	p.port = nil
	p.isOpen = false

	return err
}

// Device returns the device path
func (p *RealPort) Device() string {
	return p.device
}

// IsOpen returns true if the port is open
func (p *RealPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isOpen
}

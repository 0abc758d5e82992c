package transport

import (
	"context"
	"sync"
	"time"

	"go.bug.st/serial"
)

// port is the subset of serial.Port used by serialConn.
type port interface {
	SetReadTimeout(timeout time.Duration) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// openPort is replaced in tests.
var openPort = func(name string, mode *serial.Mode) (port, error) {
	return serial.Open(name, mode)
}

type serialConn struct {
	spec Spec
	mode *serial.Mode

	mu   sync.RWMutex
	port port
}

func newSerialConn(spec Spec) *serialConn {
	return &serialConn{
		spec: spec,
		mode: &serial.Mode{
			BaudRate: spec.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
}

func (c *serialConn) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := openPort(c.spec.SerialPort, c.mode)
	if err != nil {
		return err
	}
	if err := p.SetReadTimeout(c.spec.ReadTimeout); err != nil {
		_ = p.Close()
		return err
	}
	// stale bytes from a previous session would desynchronize the decoder
	_ = p.ResetInputBuffer()

	c.mu.Lock()
	old := c.port
	c.port = p
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	return nil
}

func (c *serialConn) Disconnect() error {
	c.mu.Lock()
	p := c.port
	c.port = nil
	c.mu.Unlock()

	if p == nil {
		return nil
	}

	return p.Close()
}

func (c *serialConn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.port != nil
}

func (c *serialConn) Send(b []byte) error {
	p := c.get()
	if p == nil {
		return ErrNotConnected
	}

	for written := 0; written < len(b); {
		n, err := p.Write(b[written:])
		written += n
		if err != nil {
			return err
		}
	}

	return nil
}

// Receive maps the (0, nil) result go.bug.st/serial returns on a read timeout to ErrTimeout.
func (c *serialConn) Receive(b []byte) (int, error) {
	p := c.get()
	if p == nil {
		return 0, ErrNotConnected
	}

	n, err := p.Read(b)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, ErrTimeout
	}

	return n, nil
}

func (c *serialConn) String() string {
	return "serial://" + c.spec.SerialPort
}

func (c *serialConn) get() port {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.port
}

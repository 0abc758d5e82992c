package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

type tcpConn struct {
	spec Spec

	mu   sync.RWMutex
	conn net.Conn
}

func newTCPConn(spec Spec) *tcpConn {
	return &tcpConn{spec: spec}
}

func (c *tcpConn) Connect(ctx context.Context) error {
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}

	dialCtx, cancel := context.WithTimeout(ctx, c.spec.ConnectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", c.spec.Address())
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	return nil
}

func (c *tcpConn) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

func (c *tcpConn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn != nil
}

func (c *tcpConn) Send(p []byte) error {
	conn := c.get()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.SetWriteDeadline(time.Now().Add(c.spec.WriteTimeout)); err != nil {
		return err
	}

	for written := 0; written < len(p); {
		n, err := conn.Write(p[written:])
		written += n
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *tcpConn) Receive(p []byte) (int, error) {
	conn := c.get()
	if conn == nil {
		return 0, ErrNotConnected
	}
	if err := conn.SetReadDeadline(time.Now().Add(c.spec.ReadTimeout)); err != nil {
		return 0, err
	}

	n, err := conn.Read(p)
	if err != nil && n == 0 {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, ErrTimeout
		}

		return 0, err
	}

	return n, nil
}

func (c *tcpConn) String() string {
	return "tcp://" + c.spec.Address()
}

func (c *tcpConn) get() net.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn
}

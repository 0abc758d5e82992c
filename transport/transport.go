// Package transport provides the byte-level connection to the coordinator.
//
// The transport mode strings accepted by ParseKind are the ones printed on the coordinator
// hardware variants: USB, DIN and PI boards (and their V2 revisions) are serial devices, Wifi
// boards are TCP endpoints. Both kinds implement Conn; New picks the implementation from
// Spec.Kind.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind is the transport variant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSerial
	KindTCP
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownMode is returned for an unrecognized transport mode.
	ErrUnknownMode = errors.New("transport: unknown transport mode")
	// ErrInvalidAddress is returned for a malformed serial path or TCP address.
	ErrInvalidAddress = errors.New("transport: invalid address")
	// ErrNotConnected is returned by Send and Receive on a disconnected Conn.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrTimeout is returned by Receive when no byte arrived within the read timeout.
	ErrTimeout = errors.New("transport: read timeout")
)

// ParseKind maps a transport mode string to a Kind.
func ParseKind(mode string) (Kind, error) {
	switch strings.TrimSpace(mode) {
	case "USB", "DIN", "PI", "V2-USB", "V2-DIN", "V2-PI":
		return KindSerial, nil
	case "Wifi", "V2-Wifi":
		return KindTCP, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

const (
	DefaultBaudRate       = 115200
	DefaultConnectTimeout = 3 * time.Second
	DefaultReadTimeout    = 200 * time.Millisecond
	DefaultWriteTimeout   = 2 * time.Second
)

// Spec describes how to reach the coordinator.
type Spec struct {
	Kind Kind

	// serial
	SerialPort string
	BaudRate   int

	// tcp
	Host string
	Port int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Validate checks the address fields relevant to Kind.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindSerial:
		if !strings.Contains(s.SerialPort, "/dev/") && !strings.Contains(s.SerialPort, "COM") {
			return fmt.Errorf("%w: serial port %q", ErrInvalidAddress, s.SerialPort)
		}
		if s.BaudRate < 0 {
			return fmt.Errorf("%w: baud rate %d", ErrInvalidAddress, s.BaudRate)
		}
	case KindTCP:
		if strings.TrimSpace(s.Host) == "" {
			return fmt.Errorf("%w: empty host", ErrInvalidAddress)
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidAddress, s.Port)
		}
	default:
		return fmt.Errorf("%w: kind %s", ErrUnknownMode, s.Kind)
	}

	return nil
}

// Address returns the serial path or host:port.
func (s Spec) Address() string {
	if s.Kind == KindTCP {
		return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
	}

	return s.SerialPort
}

func (s Spec) withDefaults() Spec {
	if s.BaudRate == 0 {
		s.BaudRate = DefaultBaudRate
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = DefaultConnectTimeout
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}

	return s
}

// Conn is the capability set shared by all transports.
//
// Send and Receive may be called concurrently from different goroutines; Connect and
// Disconnect must not race each other.
type Conn interface {
	// Connect opens the underlying device or socket.
	Connect(ctx context.Context) error
	// Disconnect closes the underlying device or socket. It is idempotent.
	Disconnect() error
	// IsConnected reports whether Connect succeeded and Disconnect was not called since.
	IsConnected() bool
	// Send writes all of p.
	Send(p []byte) error
	// Receive reads available bytes into p. It returns ErrTimeout when nothing arrived
	// within the read timeout.
	Receive(p []byte) (int, error)
	// String describes the endpoint for logging.
	String() string
}

// Factory creates an unconnected Conn for a validated Spec.
type Factory func(spec Spec) (Conn, error)

// New is the default Factory.
func New(spec Spec) (Conn, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec = spec.withDefaults()

	switch spec.Kind {
	case KindSerial:
		return newSerialConn(spec), nil
	case KindTCP:
		return newTCPConn(spec), nil
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrUnknownMode, spec.Kind)
	}
}

// IsTimeout reports whether err is a read timeout rather than a transport fault.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

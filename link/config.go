package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-coordlink/dispatch"
	"github.com/arloliu/go-coordlink/frame"
	"github.com/arloliu/go-coordlink/logger"
	"github.com/arloliu/go-coordlink/transport"
)

// Default values of a Config.
const (
	DefaultMaxSimultaneousCommands = dispatch.DefaultMaxSimultaneousCommands
	DefaultQueueSize               = dispatch.DefaultQueueSize
	DefaultForwarderQueueSize      = 512
	DefaultAckTimeout              = 8 * time.Second
	DefaultSettleDelay             = time.Second
	DefaultCloseTimeout            = 3 * time.Second
	DefaultReadTimeout             = transport.DefaultReadTimeout
	DefaultConnectTimeout          = transport.DefaultConnectTimeout
	DefaultConnectRetries          = 3
	DefaultMaxConsecutiveTimeouts  = 3

	MaxSimultaneousCommandsLimit = 64
)

// ConfigError reports a configuration problem detected by Link.Open. It is never retried.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("link: invalid configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config holds the configuration of a Link.
type Config struct {
	mode string

	serialPort string
	baudRate   int
	host       string
	port       int

	maxSimultaneousCommands int
	queueSize               int
	forwarderQueueSize      int

	ackTimeout             time.Duration
	maxConsecutiveTimeouts int
	settleDelay            time.Duration
	closeTimeout           time.Duration
	readTimeout            time.Duration
	connectTimeout         time.Duration
	connectRetries         int

	verboseErrors bool

	factory transport.Factory
	codec   frame.Codec
	logger  logger.Logger
}

// NewConfig creates a Config for the transport mode, e.g. "USB", "PI" or "Wifi".
//
// The mode and the address are validated by Link.Open, which reports a *ConfigError.
// Option values are validated here.
func NewConfig(mode string, opts ...ConnOption) (*Config, error) {
	cfg := &Config{
		mode:                    mode,
		baudRate:                transport.DefaultBaudRate,
		maxSimultaneousCommands: DefaultMaxSimultaneousCommands,
		queueSize:               DefaultQueueSize,
		forwarderQueueSize:      DefaultForwarderQueueSize,
		ackTimeout:              DefaultAckTimeout,
		maxConsecutiveTimeouts:  DefaultMaxConsecutiveTimeouts,
		settleDelay:             DefaultSettleDelay,
		closeTimeout:            DefaultCloseTimeout,
		readTimeout:             DefaultReadTimeout,
		connectTimeout:          DefaultConnectTimeout,
		connectRetries:          DefaultConnectRetries,
		factory:                 transport.New,
		codec:                   frame.DefaultCodec{},
		logger:                  logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// transportSpec resolves the transport mode and address.
func (cfg *Config) transportSpec() (transport.Spec, error) {
	kind, err := transport.ParseKind(cfg.mode)
	if err != nil {
		return transport.Spec{}, &ConfigError{Field: "mode", Err: err}
	}

	spec := transport.Spec{
		Kind:           kind,
		SerialPort:     cfg.serialPort,
		BaudRate:       cfg.baudRate,
		Host:           cfg.host,
		Port:           cfg.port,
		ConnectTimeout: cfg.connectTimeout,
		ReadTimeout:    cfg.readTimeout,
	}
	if err := spec.Validate(); err != nil {
		return transport.Spec{}, &ConfigError{Field: "address", Err: err}
	}

	return spec, nil
}

// Mode returns the configured transport mode.
func (cfg *Config) Mode() string { return cfg.mode }

// SerialPort returns the serial device path.
func (cfg *Config) SerialPort() string { return cfg.serialPort }

// BaudRate returns the serial baud rate.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// Addr returns "host:port" of a TCP coordinator.
func (cfg *Config) Addr() string { return fmt.Sprintf("%s:%d", cfg.host, cfg.port) }

// MaxSimultaneousCommands returns the number of commands allowed in flight.
func (cfg *Config) MaxSimultaneousCommands() int { return cfg.maxSimultaneousCommands }

// QueueSize returns the command queue capacity.
func (cfg *Config) QueueSize() int { return cfg.queueSize }

// ForwarderQueueSize returns the inbound frame queue capacity.
func (cfg *Config) ForwarderQueueSize() int { return cfg.forwarderQueueSize }

// AckTimeout returns how long a written command may wait for its ack.
func (cfg *Config) AckTimeout() time.Duration { return cfg.ackTimeout }

// SettleDelay returns the pause between teardown and reopening on reconnect.
func (cfg *Config) SettleDelay() time.Duration { return cfg.settleDelay }

// CloseTimeout returns the bound on waiting for units to terminate.
func (cfg *Config) CloseTimeout() time.Duration { return cfg.closeTimeout }

// VerboseErrors returns whether diagnostics include sequence counters and the receive buffer.
func (cfg *Config) VerboseErrors() bool { return cfg.verboseErrors }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- ConnOption ---

// ConnOption is a functional option for configuring a Config.
type ConnOption interface {
	apply(*Config) error
}

type connOptFunc func(*Config) error

func (f connOptFunc) apply(cfg *Config) error { return f(cfg) }

// WithMode overrides the transport mode given to NewConfig.
func WithMode(mode string) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.mode = mode
		return nil
	})
}

// WithSerialPort sets the serial device path, e.g. "/dev/ttyUSB0" or "COM3".
func WithSerialPort(path string) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.serialPort = path
		return nil
	})
}

// WithBaudRate sets the serial baud rate. The coordinator default is 115200.
func WithBaudRate(rate int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if rate <= 0 {
			return errors.New("link: baud rate must be positive")
		}
		cfg.baudRate = rate

		return nil
	})
}

// WithTCPAddress sets the address of a TCP coordinator.
func WithTCPAddress(host string, port int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.host = host
		cfg.port = port

		return nil
	})
}

// WithMaxSimultaneousCommands sets how many commands may await an ack at once.
func WithMaxSimultaneousCommands(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 1 || n > MaxSimultaneousCommandsLimit {
			return fmt.Errorf("link: max simultaneous commands %d out of range [1, %d]", n, MaxSimultaneousCommandsLimit)
		}
		cfg.maxSimultaneousCommands = n

		return nil
	})
}

// WithQueueSize sets the command queue capacity.
func WithQueueSize(size int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if size < 1 {
			return errors.New("link: queue size must be >= 1")
		}
		cfg.queueSize = size

		return nil
	})
}

// WithForwarderQueueSize sets the inbound frame queue capacity.
func WithForwarderQueueSize(size int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if size < 1 {
			return errors.New("link: forwarder queue size must be >= 1")
		}
		cfg.forwarderQueueSize = size

		return nil
	})
}

// WithAckTimeout sets how long a written command may wait for its ack before it is
// expired and its permit returned.
func WithAckTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("link: ack timeout must be positive")
		}
		cfg.ackTimeout = d

		return nil
	})
}

// WithMaxConsecutiveTimeouts sets how many ack timeouts in a row, without any ack in
// between, are treated as a transport fault. Zero disables the check.
func WithMaxConsecutiveTimeouts(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 0 {
			return errors.New("link: max consecutive timeouts must be >= 0")
		}
		cfg.maxConsecutiveTimeouts = n

		return nil
	})
}

// WithSettleDelay sets the pause between tearing down a faulty connection and reopening.
func WithSettleDelay(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("link: settle delay must be >= 0")
		}
		cfg.settleDelay = d

		return nil
	})
}

// WithCloseTimeout bounds how long Close and Reconnect wait for the units to terminate.
func WithCloseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("link: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithReadTimeout sets the receive poll interval of the reader.
func WithReadTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("link: read timeout must be positive")
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithConnectTimeout sets the timeout of a single connect attempt.
func WithConnectTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("link: connect timeout must be positive")
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithConnectRetries sets how many connect attempts Open makes before failing.
// Reconnects retry until they succeed or the link is closed.
func WithConnectRetries(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 1 {
			return errors.New("link: connect retries must be >= 1")
		}
		cfg.connectRetries = n

		return nil
	})
}

// WithVerboseErrors adds the sequence counters and the partial receive buffer to the
// diagnostics attached to error records.
func WithVerboseErrors(enabled bool) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.verboseErrors = enabled
		return nil
	})
}

// WithLogger sets the logger for the link.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("link: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithTransportFactory replaces the constructor of connection handles.
func WithTransportFactory(factory transport.Factory) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if factory == nil {
			return errors.New("link: transport factory must not be nil")
		}
		cfg.factory = factory

		return nil
	})
}

// WithCodec replaces the frame codec.
func WithCodec(codec frame.Codec) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if codec == nil {
			return errors.New("link: codec must not be nil")
		}
		cfg.codec = codec

		return nil
	})
}

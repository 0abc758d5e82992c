// Package config loads link settings from a TOML file and COORDLINK_* environment variables.
//
// Values are resolved in order: built-in defaults, the file, then the environment.
//
//	mode = "Wifi"
//	host = "192.168.1.40"
//	port = 9999
//	ack_timeout = "8s"
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/arloliu/go-coordlink/link"
	"github.com/arloliu/go-coordlink/logger"
	"github.com/arloliu/go-coordlink/transport"
)

// EnvPrefix is the prefix of the environment variables read by Load.
const EnvPrefix = "COORDLINK_"

// Settings is the resolved link configuration.
type Settings struct {
	Mode       string
	SerialPort string
	BaudRate   int
	Host       string
	Port       int

	MaxSimultaneousCommands int
	QueueSize               int
	ForwarderQueueSize      int

	AckTimeout             time.Duration
	MaxConsecutiveTimeouts int
	SettleDelay            time.Duration
	CloseTimeout           time.Duration
	ReadTimeout            time.Duration
	ConnectTimeout         time.Duration
	ConnectRetries         int

	VerboseErrors bool
	LogLevel      string
}

// Default returns the settings used when neither the file nor the environment set a value.
func Default() Settings {
	return Settings{
		BaudRate:                transport.DefaultBaudRate,
		MaxSimultaneousCommands: link.DefaultMaxSimultaneousCommands,
		QueueSize:               link.DefaultQueueSize,
		ForwarderQueueSize:      link.DefaultForwarderQueueSize,
		AckTimeout:              link.DefaultAckTimeout,
		MaxConsecutiveTimeouts:  link.DefaultMaxConsecutiveTimeouts,
		SettleDelay:             link.DefaultSettleDelay,
		CloseTimeout:            link.DefaultCloseTimeout,
		ReadTimeout:             link.DefaultReadTimeout,
		ConnectTimeout:          link.DefaultConnectTimeout,
		ConnectRetries:          link.DefaultConnectRetries,
		LogLevel:                "info",
	}
}

type fileConfig struct {
	Mode                    string `toml:"mode"`
	SerialPort              string `toml:"serial_port"`
	BaudRate                int    `toml:"baud_rate"`
	Host                    string `toml:"host"`
	Port                    int    `toml:"port"`
	MaxSimultaneousCommands int    `toml:"max_simultaneous_commands"`
	QueueSize               int    `toml:"queue_size"`
	ForwarderQueueSize      int    `toml:"forwarder_queue_size"`
	AckTimeout              string `toml:"ack_timeout"`
	MaxConsecutiveTimeouts  int    `toml:"max_consecutive_timeouts"`
	SettleDelay             string `toml:"settle_delay"`
	CloseTimeout            string `toml:"close_timeout"`
	ReadTimeout             string `toml:"read_timeout"`
	ConnectTimeout          string `toml:"connect_timeout"`
	ConnectRetries          int    `toml:"connect_retries"`
	VerboseErrors           bool   `toml:"verbose_errors"`
	LogLevel                string `toml:"log_level"`
}

// envConfig holds the overrides; nil fields were not set in the environment.
type envConfig struct {
	Mode                    *string        `env:"MODE"`
	SerialPort              *string        `env:"SERIAL_PORT"`
	BaudRate                *int           `env:"BAUD_RATE"`
	Host                    *string        `env:"HOST"`
	Port                    *int           `env:"PORT"`
	MaxSimultaneousCommands *int           `env:"MAX_SIMULTANEOUS_COMMANDS"`
	QueueSize               *int           `env:"QUEUE_SIZE"`
	ForwarderQueueSize      *int           `env:"FORWARDER_QUEUE_SIZE"`
	AckTimeout              *time.Duration `env:"ACK_TIMEOUT"`
	MaxConsecutiveTimeouts  *int           `env:"MAX_CONSECUTIVE_TIMEOUTS"`
	SettleDelay             *time.Duration `env:"SETTLE_DELAY"`
	CloseTimeout            *time.Duration `env:"CLOSE_TIMEOUT"`
	ReadTimeout             *time.Duration `env:"READ_TIMEOUT"`
	ConnectTimeout          *time.Duration `env:"CONNECT_TIMEOUT"`
	ConnectRetries          *int           `env:"CONNECT_RETRIES"`
	VerboseErrors           *bool          `env:"VERBOSE_ERRORS"`
	LogLevel                *string        `env:"LOG_LEVEL"`
}

// Load resolves the settings from the file at path and the process environment.
// An empty path skips the file.
func Load(path string) (Settings, error) {
	return LoadWithEnv(path, envMap(os.Environ()))
}

// LoadWithEnv is Load with an explicit environment. A nil environ reads no variables.
func LoadWithEnv(path string, environ map[string]string) (Settings, error) {
	s := Default()

	if path != "" {
		if err := s.applyFile(path); err != nil {
			return Settings{}, err
		}
	}

	if err := s.applyEnv(environ); err != nil {
		return Settings{}, err
	}

	return s, nil
}

func (s *Settings) applyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load link config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		logger.Warn("unknown link config keys ignored", "path", path, "keys", fmt.Sprint(undecoded))
	}

	if meta.IsDefined("mode") {
		s.Mode = strings.TrimSpace(raw.Mode)
	}
	if meta.IsDefined("serial_port") {
		s.SerialPort = strings.TrimSpace(raw.SerialPort)
	}
	if meta.IsDefined("baud_rate") {
		s.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("host") {
		s.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		s.Port = raw.Port
	}
	if meta.IsDefined("max_simultaneous_commands") {
		s.MaxSimultaneousCommands = raw.MaxSimultaneousCommands
	}
	if meta.IsDefined("queue_size") {
		s.QueueSize = raw.QueueSize
	}
	if meta.IsDefined("forwarder_queue_size") {
		s.ForwarderQueueSize = raw.ForwarderQueueSize
	}
	if meta.IsDefined("max_consecutive_timeouts") {
		s.MaxConsecutiveTimeouts = raw.MaxConsecutiveTimeouts
	}
	if meta.IsDefined("connect_retries") {
		s.ConnectRetries = raw.ConnectRetries
	}
	if meta.IsDefined("verbose_errors") {
		s.VerboseErrors = raw.VerboseErrors
	}
	if meta.IsDefined("log_level") {
		s.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ack_timeout", raw.AckTimeout, &s.AckTimeout},
		{"settle_delay", raw.SettleDelay, &s.SettleDelay},
		{"close_timeout", raw.CloseTimeout, &s.CloseTimeout},
		{"read_timeout", raw.ReadTimeout, &s.ReadTimeout},
		{"connect_timeout", raw.ConnectTimeout, &s.ConnectTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return nil
}

func (s *Settings) applyEnv(environ map[string]string) error {
	if environ == nil {
		// env falls back to the process environment for a nil map
		environ = map[string]string{}
	}

	var ov envConfig
	if err := env.ParseWithOptions(&ov, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setIf(&s.Mode, ov.Mode)
	setIf(&s.SerialPort, ov.SerialPort)
	setIf(&s.BaudRate, ov.BaudRate)
	setIf(&s.Host, ov.Host)
	setIf(&s.Port, ov.Port)
	setIf(&s.MaxSimultaneousCommands, ov.MaxSimultaneousCommands)
	setIf(&s.QueueSize, ov.QueueSize)
	setIf(&s.ForwarderQueueSize, ov.ForwarderQueueSize)
	setIf(&s.AckTimeout, ov.AckTimeout)
	setIf(&s.MaxConsecutiveTimeouts, ov.MaxConsecutiveTimeouts)
	setIf(&s.SettleDelay, ov.SettleDelay)
	setIf(&s.CloseTimeout, ov.CloseTimeout)
	setIf(&s.ReadTimeout, ov.ReadTimeout)
	setIf(&s.ConnectTimeout, ov.ConnectTimeout)
	setIf(&s.ConnectRetries, ov.ConnectRetries)
	setIf(&s.VerboseErrors, ov.VerboseErrors)
	setIf(&s.LogLevel, ov.LogLevel)

	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Options converts the settings to link options. Address options are only produced for the
// transport the mode selects; the mode itself is checked when the link opens.
func (s Settings) Options() []link.ConnOption {
	opts := []link.ConnOption{
		link.WithMaxSimultaneousCommands(s.MaxSimultaneousCommands),
		link.WithQueueSize(s.QueueSize),
		link.WithForwarderQueueSize(s.ForwarderQueueSize),
		link.WithAckTimeout(s.AckTimeout),
		link.WithMaxConsecutiveTimeouts(s.MaxConsecutiveTimeouts),
		link.WithSettleDelay(s.SettleDelay),
		link.WithCloseTimeout(s.CloseTimeout),
		link.WithReadTimeout(s.ReadTimeout),
		link.WithConnectTimeout(s.ConnectTimeout),
		link.WithConnectRetries(s.ConnectRetries),
		link.WithVerboseErrors(s.VerboseErrors),
	}

	if s.SerialPort != "" {
		opts = append(opts, link.WithSerialPort(s.SerialPort), link.WithBaudRate(s.BaudRate))
	}
	if s.Host != "" || s.Port != 0 {
		opts = append(opts, link.WithTCPAddress(s.Host, s.Port))
	}

	return opts
}

// Level returns the parsed log level.
func (s Settings) Level() (logger.Level, error) {
	return logger.ParseLevel(s.LogLevel)
}

// NewConfig builds a link configuration from the settings followed by extra options.
func (s Settings) NewConfig(extra ...link.ConnOption) (*link.Config, error) {
	return link.NewConfig(s.Mode, append(s.Options(), extra...)...)
}

func envMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) {
			out[k] = v
		}
	}

	return out
}

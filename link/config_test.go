package link

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-coordlink/transport"
)

func TestNewConfig_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig("USB", WithSerialPort("/dev/ttyUSB0"))
	require.NoError(err)

	require.Equal("USB", cfg.Mode())
	require.Equal("/dev/ttyUSB0", cfg.SerialPort())
	require.Equal(transport.DefaultBaudRate, cfg.BaudRate())
	require.Equal(DefaultMaxSimultaneousCommands, cfg.MaxSimultaneousCommands())
	require.Equal(DefaultQueueSize, cfg.QueueSize())
	require.Equal(DefaultForwarderQueueSize, cfg.ForwarderQueueSize())
	require.Equal(DefaultAckTimeout, cfg.AckTimeout())
	require.Equal(DefaultSettleDelay, cfg.SettleDelay())
	require.Equal(DefaultCloseTimeout, cfg.CloseTimeout())
	require.False(cfg.VerboseErrors())
	require.NotNil(cfg.GetLogger())

	spec, err := cfg.transportSpec()
	require.NoError(err)
	require.Equal(transport.KindSerial, spec.Kind)
	require.Equal("/dev/ttyUSB0", spec.SerialPort)
}

func TestNewConfig_TCP(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig("V2-Wifi",
		WithTCPAddress("192.168.1.40", 9999),
		WithMaxSimultaneousCommands(8),
		WithAckTimeout(2*time.Second),
		WithVerboseErrors(true),
	)
	require.NoError(err)
	require.Equal("192.168.1.40:9999", cfg.Addr())
	require.Equal(8, cfg.MaxSimultaneousCommands())
	require.Equal(2*time.Second, cfg.AckTimeout())
	require.True(cfg.VerboseErrors())

	spec, err := cfg.transportSpec()
	require.NoError(err)
	require.Equal(transport.KindTCP, spec.Kind)
	require.Equal("192.168.1.40:9999", spec.Address())
}

func TestNewConfig_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  ConnOption
	}{
		{"zero baud rate", WithBaudRate(0)},
		{"zero gate", WithMaxSimultaneousCommands(0)},
		{"gate above limit", WithMaxSimultaneousCommands(MaxSimultaneousCommandsLimit + 1)},
		{"zero queue", WithQueueSize(0)},
		{"zero forwarder queue", WithForwarderQueueSize(0)},
		{"zero ack timeout", WithAckTimeout(0)},
		{"negative timeouts", WithMaxConsecutiveTimeouts(-1)},
		{"negative settle", WithSettleDelay(-time.Second)},
		{"nil logger", WithLogger(nil)},
		{"nil factory", WithTransportFactory(nil)},
		{"nil codec", WithCodec(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig("USB", tt.opt)
			require.Error(t, err)
		})
	}
}

func TestConfig_TransportSpecErrors(t *testing.T) {
	tests := []struct {
		name  string
		mode  string
		opts  []ConnOption
		field string
		err   error
	}{
		{"unknown mode", "ZiGate+", nil, "mode", transport.ErrUnknownMode},
		{"empty mode", "", nil, "mode", transport.ErrUnknownMode},
		{"serial path", "PI", []ConnOption{WithSerialPort("ttyAMA0")}, "address", transport.ErrInvalidAddress},
		{"tcp host", "Wifi", []ConnOption{WithTCPAddress("", 9999)}, "address", transport.ErrInvalidAddress},
		{"tcp port", "Wifi", []ConnOption{WithTCPAddress("10.0.0.1", 0)}, "address", transport.ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			cfg, err := NewConfig(tt.mode, tt.opts...)
			require.NoError(err)

			_, err = cfg.transportSpec()
			var cfgErr *ConfigError
			require.True(errors.As(err, &cfgErr))
			require.Equal(tt.field, cfgErr.Field)
			require.ErrorIs(err, tt.err)
			require.Contains(err.Error(), tt.field)
		})
	}
}

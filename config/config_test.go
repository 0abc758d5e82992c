package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-coordlink/link"
	"github.com/arloliu/go-coordlink/logger"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "coordlink.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	require := require.New(t)

	s, err := LoadWithEnv("", nil)
	require.NoError(err)
	require.Equal(Default(), s)
	require.Equal(link.DefaultAckTimeout, s.AckTimeout)
	require.Equal(link.DefaultMaxSimultaneousCommands, s.MaxSimultaneousCommands)
}

func TestLoad_File(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, `
mode = "Wifi"
host = " 192.168.1.40 "
port = 9999
max_simultaneous_commands = 8
ack_timeout = "2s"
settle_delay = "500ms"
verbose_errors = true
log_level = "debug"
`)

	s, err := LoadWithEnv(path, nil)
	require.NoError(err)
	require.Equal("Wifi", s.Mode)
	require.Equal("192.168.1.40", s.Host)
	require.Equal(9999, s.Port)
	require.Equal(8, s.MaxSimultaneousCommands)
	require.Equal(2*time.Second, s.AckTimeout)
	require.Equal(500*time.Millisecond, s.SettleDelay)
	require.True(s.VerboseErrors)
	// untouched keys keep their defaults
	require.Equal(link.DefaultCloseTimeout, s.CloseTimeout)
	require.Equal(link.DefaultQueueSize, s.QueueSize)

	level, err := s.Level()
	require.NoError(err)
	require.Equal(logger.DebugLevel, level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, `
mode = "USB"
serial_port = "/dev/ttyUSB0"
ack_timeout = "2s"
`)

	s, err := LoadWithEnv(path, map[string]string{
		"COORDLINK_SERIAL_PORT":               "/dev/ttyACM0",
		"COORDLINK_ACK_TIMEOUT":               "5s",
		"COORDLINK_MAX_SIMULTANEOUS_COMMANDS": "3",
		"COORDLINK_VERBOSE_ERRORS":            "true",
	})
	require.NoError(err)
	require.Equal("USB", s.Mode)
	require.Equal("/dev/ttyACM0", s.SerialPort)
	require.Equal(5*time.Second, s.AckTimeout)
	require.Equal(3, s.MaxSimultaneousCommands)
	require.True(s.VerboseErrors)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.toml"), nil)
		require.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeFile(t, `ack_timeout = "soon"`)
		_, err := LoadWithEnv(path, nil)
		require.ErrorContains(t, err, "ack_timeout")
	})

	t.Run("bad env value", func(t *testing.T) {
		_, err := LoadWithEnv("", map[string]string{"COORDLINK_PORT": "nine"})
		require.Error(t, err)
	})
}

func TestSettings_NewConfig(t *testing.T) {
	t.Run("tcp", func(t *testing.T) {
		require := require.New(t)

		s := Default()
		s.Mode = "V2-Wifi"
		s.Host = "10.0.0.7"
		s.Port = 9999
		s.AckTimeout = 3 * time.Second

		cfg, err := s.NewConfig()
		require.NoError(err)
		require.Equal("V2-Wifi", cfg.Mode())
		require.Equal("10.0.0.7:9999", cfg.Addr())
		require.Equal(3*time.Second, cfg.AckTimeout())
	})

	t.Run("serial", func(t *testing.T) {
		require := require.New(t)

		s := Default()
		s.Mode = "PI"
		s.SerialPort = "/dev/ttyAMA0"
		s.BaudRate = 38400

		cfg, err := s.NewConfig(link.WithVerboseErrors(true))
		require.NoError(err)
		require.Equal("/dev/ttyAMA0", cfg.SerialPort())
		require.Equal(38400, cfg.BaudRate())
		require.True(cfg.VerboseErrors())
	})

	t.Run("invalid value", func(t *testing.T) {
		s := Default()
		s.Mode = "Wifi"
		s.MaxSimultaneousCommands = 0

		_, err := s.NewConfig()
		require.Error(t, err)
	})
}

func TestEnvMap(t *testing.T) {
	m := envMap([]string{"COORDLINK_MODE=Wifi", "HOME=/root", "COORDLINK_HOST=a=b", "BROKEN"})
	require.Equal(t, map[string]string{"COORDLINK_MODE": "Wifi", "COORDLINK_HOST": "a=b"}, m)
}

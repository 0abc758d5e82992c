package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLogger(t *testing.T) {
	require := require.New(t)
	t.Setenv("ENV", "")

	var buf bytes.Buffer
	l := NewSlogWithWriter(&buf, InfoLevel, false)

	l.Debug("hidden")
	require.Zero(buf.Len())

	l.With("channel", "tx").Info("sent", "cmd", 0x0049)

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("sent", rec["msg"])
	require.Equal("tx", rec["channel"])
	require.EqualValues(0x0049, rec["cmd"])
	require.Contains(rec, "ts")

	buf.Reset()
	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, l.Level())
	l.Debug("visible")
	require.NotZero(buf.Len())
}

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	for name, want := range map[string]Level{
		"debug": DebugLevel,
		"INFO":  InfoLevel,
		"":      InfoLevel,
		"warn":  WarnLevel,
		"error": ErrorLevel,
		"fatal": FatalLevel,
	} {
		lv, err := ParseLevel(name)
		require.NoError(err, name)
		require.Equal(want, lv, name)
	}

	_, err := ParseLevel("verbose")
	require.Error(err)
}

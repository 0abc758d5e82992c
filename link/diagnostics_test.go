package link

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-coordlink/dispatch"
	"github.com/arloliu/go-coordlink/frame"
	"github.com/arloliu/go-coordlink/logger"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of the link units.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestDiagnostics_Snapshot(t *testing.T) {
	require := require.New(t)
	fc := newFakeCoordinator()
	l := newTestLink(t, fc, nil, WithMaxSimultaneousCommands(3))

	_, err := l.Submit(0x0049, []byte{0xFF, 0xFC})
	require.NoError(err)
	_, err = l.Submit(0x0011, nil, dispatch.WithHighPriority())
	require.NoError(err)
	l.Firmware().UpdateFirmwareVersion("0321", "03")

	diag := l.Diagnostics()
	require.Equal("closed", diag.State)
	require.Len(diag.Ledger, 2)
	require.Len(diag.WriteQueue, 2)
	require.Contains(diag.WriteQueue[0], "cmd=0x0011")
	require.Empty(diag.InFlight)
	require.Equal(2, diag.WriterQueueLen)
	require.Equal(3, diag.GateMax)
	require.Zero(diag.GateInUse)
	require.Equal("0321", diag.Firmware.Version)
	require.Nil(diag.Sequence)
	require.Nil(diag.Pending)

	data, err := json.Marshal(diag)
	require.NoError(err)
	require.Contains(string(data), `"write_queue"`)
}

func TestDiagnostics_Verbose(t *testing.T) {
	require := require.New(t)
	fc := newFakeCoordinator()
	l := newTestLink(t, fc, nil, WithVerboseErrors(true))

	raw, err := frame.Encode(0x8002, []byte{0x01, 0x02, 0x03})
	require.NoError(err)
	l.OnInboundMessage(raw[:4])

	diag := l.Diagnostics()
	require.NotNil(diag.Sequence)
	require.Equal(raw[:4], diag.Pending)
}

func TestDiagnostics_AttachedToErrors(t *testing.T) {
	require := require.New(t)
	fc := newFakeCoordinator()
	t.Setenv("ENV", "")
	buf := &syncBuffer{}
	log := logger.NewSlogWithWriter(buf, logger.InfoLevel, false)
	l := newTestLink(t, fc, nil, WithQueueSize(1), WithLogger(log), WithVerboseErrors(true))

	_, err := l.Submit(0x0049, []byte{0x01})
	require.NoError(err)
	_, err = l.Submit(0x0049, []byte{0x02})
	require.ErrorIs(err, dispatch.ErrQueueFull)

	out := buf.String()
	require.Contains(out, "command queue full")
	require.Contains(out, `"channel":"tx"`)
	require.Contains(out, `"queues"`)
	require.Contains(out, "cmd=0x0049")
	require.Contains(out, `"sequence"`)

	// the queued command survives the rejected one
	require.Equal(1, l.WriterQueueLen())
	require.NoError(l.Open(context.Background()))
}

func TestRenderEnvelopes_Bounded(t *testing.T) {
	require := require.New(t)

	items := make([]*dispatch.Envelope, maxRenderedItems+5)
	for i := range items {
		items[i] = &dispatch.Envelope{Command: uint16(i)}
	}

	out := renderEnvelopes(items)
	require.Len(out, maxRenderedItems+1)
	require.Equal("... 5 more", out[maxRenderedItems])
}

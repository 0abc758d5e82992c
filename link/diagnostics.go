package link

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/arloliu/go-coordlink/dispatch"
	"github.com/arloliu/go-coordlink/frame"
	"github.com/arloliu/go-coordlink/sqn"
)

// maxRenderedItems bounds the number of queue entries rendered into a snapshot.
const maxRenderedItems = 32

// Diagnostics is the context attached to error records of a Link.
type Diagnostics struct {
	State             string                 `json:"state"`
	Ledger            []dispatch.LedgerEntry `json:"ledger"`
	WriteQueue        []string               `json:"write_queue"`
	InFlight          []string               `json:"in_flight"`
	ForwardQueue      []string               `json:"forward_queue"`
	WriterQueueLen    int                    `json:"writer_queue_len"`
	ForwarderQueueLen int                    `json:"forwarder_queue_len"`
	GateInUse         int                    `json:"gate_in_use"`
	GateMax           int                    `json:"gate_max"`
	AckTimeout        string                 `json:"ack_timeout"`
	Firmware          FirmwareInfo           `json:"firmware"`

	// set only with verbose errors
	Sequence *sqn.Snapshot `json:"sequence,omitempty"`
	Pending  []byte        `json:"pending,omitempty"`
}

// LogValue implements slog.LogValuer.
func (d *Diagnostics) LogValue() slog.Value {
	ledger := make([]string, 0, len(d.Ledger))
	for _, e := range d.Ledger {
		ledger = append(ledger, fmt.Sprintf("seq=%d cmd=0x%04X data=%X", e.Seq, e.Command, e.Payload))
	}

	attrs := []slog.Attr{
		slog.String("state", d.State),
		slog.Group("queues",
			slog.Any("ledger", ledger),
			slog.Any("write_queue", d.WriteQueue),
			slog.Any("in_flight", d.InFlight),
			slog.Any("forward_queue", d.ForwardQueue),
			slog.Int("writer_queue_len", d.WriterQueueLen),
			slog.Int("forwarder_queue_len", d.ForwarderQueueLen),
			slog.Int("gate_in_use", d.GateInUse),
			slog.Int("gate_max", d.GateMax),
		),
		slog.Group("firmware",
			slog.String("ack_timeout", d.AckTimeout),
			slog.String("version", d.Firmware.Version),
			slog.String("major_version", d.Firmware.MajorVersion),
			slog.String("hw_version", d.Firmware.HardwareVersion),
			slog.Bool("compatibility_mode", d.Firmware.Flags.CompatibilityMode),
			slog.Bool("with_aps_sqn", d.Firmware.Flags.WithAPSSqn),
			slog.Bool("with_8012", d.Firmware.Flags.With8012),
			slog.Bool("no_sqn", d.Firmware.Flags.NoSQN),
			slog.Bool("pdm_command_only", d.Firmware.PDMCommandOnly),
		),
	}

	if d.Sequence != nil {
		seq := []any{
			slog.Uint64("internal", uint64(d.Sequence.Internal)),
			slog.Int("zcl", int(d.Sequence.ZCL)),
			slog.Int("zdp", int(d.Sequence.ZDP)),
			slog.Int("aps", int(d.Sequence.APS)),
		}
		if d.Sequence.Current != nil {
			seq = append(seq, slog.Int("current", int(*d.Sequence.Current)))
		}
		attrs = append(attrs,
			slog.Group("sequence", seq...),
			slog.String("pending", hex.EncodeToString(d.Pending)),
		)
	}

	return slog.GroupValue(attrs...)
}

// Diagnostics assembles a snapshot of the link state.
//
// It only takes short-lived locks and never fails; a panic during assembly yields a
// partial snapshot.
func (l *Link) Diagnostics() (diag *Diagnostics) {
	diag = &Diagnostics{State: l.state.State().String()}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("diagnostics assembly failed", "panic", r)
		}
	}()

	gate := l.dispatcher.Gate()
	diag.GateInUse = gate.InUse()
	diag.GateMax = gate.Max()
	diag.AckTimeout = l.cfg.ackTimeout.String()
	diag.Ledger = l.dispatcher.Ledger().Entries()
	diag.WriteQueue = renderEnvelopes(l.dispatcher.Queued())
	diag.InFlight = renderEnvelopes(l.dispatcher.InFlight())
	diag.ForwardQueue = renderFrames(l.forwardQ.Items())
	diag.WriterQueueLen = l.dispatcher.QueueLen()
	diag.ForwarderQueueLen = l.forwardQ.Len()
	diag.Firmware = l.firmware.Info()

	if l.cfg.verboseErrors {
		snap := l.seq.Snapshot()
		diag.Sequence = &snap
		diag.Pending = l.pendingBytes()
	}

	return diag
}

// errorContext appends the diagnostics snapshot to keyvals.
func (l *Link) errorContext(keyvals ...any) []any {
	return append(keyvals, "context", l.Diagnostics())
}

func renderEnvelopes(items []*dispatch.Envelope) []string {
	out := make([]string, 0, min(len(items), maxRenderedItems+1))
	for i, env := range items {
		if i == maxRenderedItems {
			out = append(out, fmt.Sprintf("... %d more", len(items)-i))
			break
		}
		out = append(out, env.String())
	}

	return out
}

func renderFrames(items []*frame.Frame) []string {
	out := make([]string, 0, min(len(items), maxRenderedItems+1))
	for i, f := range items {
		if i == maxRenderedItems {
			out = append(out, fmt.Sprintf("... %d more", len(items)-i))
			break
		}
		out = append(out, f.String())
	}

	return out
}

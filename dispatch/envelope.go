package dispatch

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-coordlink/internal/util"
	"github.com/arloliu/go-coordlink/sqn"
)

// Class is the first level of a PriorityKey. Lower classes are dequeued first.
type Class uint8

const (
	ClassHigh Class = iota
	ClassNormal
)

// String returns the class name.
func (c Class) String() string {
	if c == ClassHigh {
		return "high"
	}

	return "normal"
}

// PriorityKey orders envelopes in the command queue.
type PriorityKey struct {
	Class Class
	// Order is the burst counter for ClassHigh and the sequence number for ClassNormal.
	Order uint64
}

// Less reports whether k sorts before o.
func (k PriorityKey) Less(o PriorityKey) bool {
	if k.Class != o.Class {
		return k.Class < o.Class
	}

	return k.Order < o.Order
}

// String renders the key as "class/order".
func (k PriorityKey) String() string {
	return fmt.Sprintf("%s/%d", k.Class, k.Order)
}

// Envelope is one outbound command with its dispatch metadata.
//
// Command, Payload, AckDisabled, WaitResponse, TargetNode, HighPriority, Seq and SubmittedAt
// are immutable once Submit returns. Key is assigned when the envelope is enqueued.
type Envelope struct {
	Command      uint16
	Payload      []byte
	AckDisabled  bool
	HighPriority bool
	// WaitResponse is the message type that completes the command, 0 when the status
	// frame alone completes it.
	WaitResponse uint16
	TargetNode   *uint16
	Seq          sqn.Number
	SubmittedAt  time.Time
	Key          PriorityKey

	sentAt     atomic.Int64
	statusSeen atomic.Bool
}

// SentAt returns when the envelope was last written, or the zero time.
func (e *Envelope) SentAt() time.Time {
	ns := e.sentAt.Load()
	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, ns)
}

// MarkSent records the write time.
func (e *Envelope) MarkSent(t time.Time) {
	e.sentAt.Store(t.UnixNano())
}

// StatusSeen reports whether a successful status frame arrived for an envelope that still
// waits for its response.
func (e *Envelope) StatusSeen() bool {
	return e.statusSeen.Load()
}

const renderPayloadLimit = 32

// String renders the envelope for diagnostics.
func (e *Envelope) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "seq=%d cmd=0x%04X key=%s", e.Seq, e.Command, e.Key)
	if e.TargetNode != nil {
		fmt.Fprintf(&sb, " node=0x%04X", *e.TargetNode)
	}
	if e.AckDisabled {
		sb.WriteString(" ack=off")
	}
	if e.WaitResponse != 0 {
		fmt.Fprintf(&sb, " wait=0x%04X", e.WaitResponse)
	}

	data, truncated := util.TruncateBytes(e.Payload, renderPayloadLimit)
	sb.WriteString(" data=")
	sb.WriteString(hex.EncodeToString(data))
	if truncated {
		sb.WriteString("...")
	}

	return sb.String()
}

// LogValue implements slog.LogValuer.
func (e *Envelope) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Uint64("seq", uint64(e.Seq)),
		slog.String("cmd", fmt.Sprintf("0x%04X", e.Command)),
		slog.String("key", e.Key.String()),
	}
	if e.TargetNode != nil {
		attrs = append(attrs, slog.String("node", fmt.Sprintf("0x%04X", *e.TargetNode)))
	}

	return slog.GroupValue(attrs...)
}

// SubmitOption customizes a single submission.
type SubmitOption interface {
	apply(*Envelope)
}

type submitOptFunc func(*Envelope)

func (f submitOptFunc) apply(e *Envelope) { f(e) }

// WithHighPriority queues the command ahead of all normal priority commands.
func WithHighPriority() SubmitOption {
	return submitOptFunc(func(e *Envelope) { e.HighPriority = true })
}

// WithAckDisabled marks a command the coordinator will not acknowledge. Its permit is
// returned right after the write.
func WithAckDisabled() SubmitOption {
	return submitOptFunc(func(e *Envelope) { e.AckDisabled = true })
}

// WithWaitForResponse keeps the command in flight until a frame of msgType arrives.
func WithWaitForResponse(msgType uint16) SubmitOption {
	return submitOptFunc(func(e *Envelope) { e.WaitResponse = msgType })
}

// WithTargetNode records the short address of the node the command is addressed to.
func WithTargetNode(nwk uint16) SubmitOption {
	return submitOptFunc(func(e *Envelope) {
		node := nwk
		e.TargetNode = &node
	})
}

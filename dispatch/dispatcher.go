package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-coordlink/frame"
	"github.com/arloliu/go-coordlink/internal/queue"
	"github.com/arloliu/go-coordlink/internal/util"
	"github.com/arloliu/go-coordlink/logger"
	"github.com/arloliu/go-coordlink/sqn"
)

// DefaultQueueSize is the default capacity of the command queue.
const DefaultQueueSize = 256

var (
	// ErrDuplicate is returned by Submit when the same command and payload is pending.
	ErrDuplicate = errors.New("dispatch: duplicate command")
	// ErrQueueFull is returned by Submit when the command queue is at capacity.
	ErrQueueFull = errors.New("dispatch: command queue full")
	// ErrNotAccepting is returned by Submit while the link is shutting down or closed.
	ErrNotAccepting = errors.New("dispatch: link is not accepting commands")
)

// Options configures a Dispatcher.
type Options struct {
	// MaxSimultaneousCommands is the Gate capacity.
	MaxSimultaneousCommands int
	// QueueSize is the command queue capacity.
	QueueSize int
	// Allocator provides sequence numbers. A nil Allocator selects sqn.NewStack().
	Allocator sqn.Allocator
	// Logger receives submission and resolution events.
	Logger logger.Logger
	// Diagnostics is attached to error records under the "context" key when set.
	Diagnostics func() any
}

// Stats are the Dispatcher counters.
type Stats struct {
	Submitted  uint64
	Duplicates uint64
	Dropped    uint64
	Rejected   uint64
}

// Dispatcher owns the command queue, the Gate, the Ledger and the in-flight index.
type Dispatcher struct {
	alloc    sqn.Allocator
	queue    *queue.Priority[*Envelope]
	ledger   *Ledger
	gate     *Gate
	inflight *InFlight
	logger   logger.Logger
	diag     func() any

	// guarded by the queue lock, see Submit
	burst uint64

	submitted  atomic.Uint64
	duplicates atomic.Uint64
	dropped    atomic.Uint64
	rejected   atomic.Uint64
}

// New creates a Dispatcher that accepts submissions immediately.
func New(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Allocator == nil {
		opts.Allocator = sqn.NewStack()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	return &Dispatcher{
		alloc:    opts.Allocator,
		queue:    queue.NewPriority(opts.QueueSize, envelopeLess),
		ledger:   NewLedger(),
		gate:     NewGate(opts.MaxSimultaneousCommands),
		inflight: NewInFlight(),
		logger:   opts.Logger,
		diag:     opts.Diagnostics,
	}
}

func envelopeLess(a, b *Envelope) bool {
	if a.Key != b.Key {
		return a.Key.Less(b.Key)
	}

	return a.Seq < b.Seq
}

// Submit queues a command for transmission and returns its sequence number.
//
// Submit never blocks on the wire. A duplicate pending pair, a full queue and a closed link
// are reported with a zero sequence number and ErrDuplicate, ErrQueueFull or
// ErrNotAccepting.
func (d *Dispatcher) Submit(command uint16, payload []byte, opts ...SubmitOption) (sqn.Number, error) {
	if d.queue.IsClosed() {
		d.rejected.Add(1)
		d.logger.Warn("command rejected, link not accepting", "cmd", hexCmd(command))

		return 0, ErrNotAccepting
	}

	env := &Envelope{Command: command, Payload: util.CloneSlice(payload, 0)}
	for _, opt := range opts {
		opt.apply(env)
	}

	pending, dup := d.ledger.Reserve(env, func(e *Envelope) {
		e.Seq = d.alloc.Allocate()
		e.SubmittedAt = time.Now()
	})
	if dup {
		d.duplicates.Add(1)
		d.logger.Info("duplicate command ignored",
			"cmd", hexCmd(command), "data", fmt.Sprintf("%X", payload), "pending_seq", pending.Seq)

		return 0, ErrDuplicate
	}

	_, err := d.queue.PushWith(func(empty bool) *Envelope {
		if empty {
			d.burst = 0
		}
		if env.HighPriority {
			env.Key = PriorityKey{Class: ClassHigh, Order: d.burst}
			d.burst++
		} else {
			env.Key = PriorityKey{Class: ClassNormal, Order: uint64(env.Seq)}
		}

		return env
	})
	if err != nil {
		d.ledger.Release(env)
		if errors.Is(err, queue.ErrFull) {
			d.dropped.Add(1)
			d.logger.Error("command queue full, command dropped", d.withContext("cmd", hexCmd(command), "seq", env.Seq)...)

			return 0, ErrQueueFull
		}
		d.rejected.Add(1)
		d.logger.Warn("command rejected, link not accepting", "cmd", hexCmd(command), "seq", env.Seq)

		return 0, ErrNotAccepting
	}
	d.submitted.Add(1)

	if d.logger.Level() == logger.DebugLevel {
		d.logger.Debug("command queued", "envelope", env.String())
	}

	return env.Seq, nil
}

// Next waits for a Gate permit and then for the highest priority envelope.
//
// The caller owns the permit of a returned envelope and must hand it back through Sent,
// Requeue or Fail, calling Track before the write. Next returns queue.ErrClosed once Close was called, or the ctx error.
func (d *Dispatcher) Next(ctx context.Context) (*Envelope, error) {
	if err := d.gate.Acquire(ctx); err != nil {
		return nil, err
	}

	env, err := d.queue.Pop(ctx)
	if err != nil {
		_ = d.gate.Release()
		return nil, err
	}

	return env, nil
}

// Track registers env as in flight right before it is written, so an ack that races the
// write finds it. Envelopes with acks disabled are not tracked.
func (d *Dispatcher) Track(env *Envelope, at time.Time) {
	if env.AckDisabled {
		return
	}
	env.MarkSent(at)
	d.inflight.Track(env)
}

// Sent records a successful write of env. Envelopes with acks disabled resolve at once.
func (d *Dispatcher) Sent(env *Envelope, at time.Time) {
	if env.AckDisabled {
		env.MarkSent(at)
		d.resolve(env)

		return
	}
	if env.SentAt().IsZero() {
		d.Track(env, at)
	}
}

// Requeue puts back an envelope whose write failed and returns its permit. The envelope
// keeps its key, so it is retried in its original position. It is discarded when the queue
// no longer accepts items.
func (d *Dispatcher) Requeue(env *Envelope) {
	if !env.SentAt().IsZero() {
		if _, tracked := d.inflight.Take(env.Seq); !tracked {
			// already expired or dropped
			return
		}
		env.sentAt.Store(0)
		env.statusSeen.Store(false)
	}

	_ = d.gate.Release()
	if err := d.queue.Push(env); err != nil {
		d.ledger.Release(env)
		d.dropped.Add(1)
		d.logger.Warn("command discarded on requeue", "envelope", env.String(), "error", err)
	}
}

// Fail resolves an envelope that was dequeued but will not be written.
func (d *Dispatcher) Fail(env *Envelope) {
	d.dropped.Add(1)
	d.resolve(env)
}

// HandleStatus resolves the oldest in-flight envelope for st.Command.
//
// A successful status for an envelope waiting for a response only marks it; the response
// resolves it later. HandleStatus returns the matched envelope and whether it was resolved.
func (d *Dispatcher) HandleStatus(st frame.Status) (*Envelope, bool) {
	for {
		env, ok := d.inflight.Oldest(func(e *Envelope) bool {
			return e.Command == st.Command && !e.StatusSeen()
		})
		if !ok {
			return nil, false
		}

		if st.OK() && env.WaitResponse != 0 {
			if env.statusSeen.CompareAndSwap(false, true) {
				return env, false
			}
			continue
		}

		if _, taken := d.inflight.Take(env.Seq); taken {
			d.resolve(env)
			return env, true
		}
	}
}

// HandleResponse resolves the oldest in-flight envelope waiting for msgType.
func (d *Dispatcher) HandleResponse(msgType uint16) (*Envelope, bool) {
	for {
		env, ok := d.inflight.Oldest(func(e *Envelope) bool {
			return e.WaitResponse != 0 && e.WaitResponse == msgType
		})
		if !ok {
			return nil, false
		}
		if _, taken := d.inflight.Take(env.Seq); taken {
			d.resolve(env)
			return env, true
		}
	}
}

// Expire resolves the in-flight envelopes written more than timeout before now.
func (d *Dispatcher) Expire(now time.Time, timeout time.Duration) []*Envelope {
	deadline := now.Add(-timeout)
	candidates := d.inflight.Collect(func(e *Envelope) bool {
		return e.SentAt().Before(deadline)
	})

	return d.takeAll(candidates)
}

// DropInFlight resolves every in-flight envelope. It is used when the connection is torn
// down and no ack can arrive.
func (d *Dispatcher) DropInFlight() []*Envelope {
	return d.takeAll(d.inflight.Collect(nil))
}

// DiscardQueued removes every queued envelope and clears their ledger entries.
func (d *Dispatcher) DiscardQueued() []*Envelope {
	items := d.queue.Drain()
	for _, env := range items {
		d.ledger.Release(env)
	}

	return items
}

// Close stops accepting submissions and wakes a writer blocked in Next.
func (d *Dispatcher) Close() {
	d.queue.Close()
}

// Reopen accepts submissions again after Close.
func (d *Dispatcher) Reopen() {
	d.queue.Reopen()
}

// Accepting reports whether Submit currently accepts commands.
func (d *Dispatcher) Accepting() bool {
	return !d.queue.IsClosed()
}

// QueueLen returns the number of queued envelopes.
func (d *Dispatcher) QueueLen() int {
	return d.queue.Len()
}

// QueueCap returns the command queue capacity.
func (d *Dispatcher) QueueCap() int {
	return d.queue.Cap()
}

// Queued returns the queued envelopes in dequeue order.
func (d *Dispatcher) Queued() []*Envelope {
	return d.queue.Items()
}

// InFlight returns the in-flight envelopes ordered by sequence number.
func (d *Dispatcher) InFlight() []*Envelope {
	return d.inflight.Collect(nil)
}

// InFlightLen returns the number of in-flight envelopes.
func (d *Dispatcher) InFlightLen() int {
	return d.inflight.Len()
}

// Gate returns the concurrency gate.
func (d *Dispatcher) Gate() *Gate {
	return d.gate
}

// Ledger returns the dedup ledger.
func (d *Dispatcher) Ledger() *Ledger {
	return d.ledger
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:  d.submitted.Load(),
		Duplicates: d.duplicates.Load(),
		Dropped:    d.dropped.Load(),
		Rejected:   d.rejected.Load(),
	}
}

func (d *Dispatcher) takeAll(candidates []*Envelope) []*Envelope {
	out := candidates[:0]
	for _, env := range candidates {
		if _, taken := d.inflight.Take(env.Seq); taken {
			d.resolve(env)
			out = append(out, env)
		}
	}

	return out
}

func (d *Dispatcher) resolve(env *Envelope) {
	d.ledger.Release(env)
	if err := d.gate.Release(); err != nil {
		d.logger.Error("gate release failed", d.withContext("envelope", env.String(), "error", err)...)
	}
}

func (d *Dispatcher) withContext(keyvals ...any) []any {
	if d.diag == nil {
		return keyvals
	}

	return append(keyvals, "context", safeDiagnostics(d.diag, d.logger))
}

// safeDiagnostics evaluates fn and swallows a panic, so a faulty snapshot never breaks the
// logging caller.
func safeDiagnostics(fn func() any, l logger.Logger) (v any) {
	defer func() {
		if r := recover(); r != nil {
			l.Warn("diagnostics assembly failed", "panic", r)
			v = nil
		}
	}()

	return fn()
}

func hexCmd(command uint16) string {
	return fmt.Sprintf("0x%04X", command)
}

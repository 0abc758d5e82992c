package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/arloliu/go-coordlink/dispatch"
	"github.com/arloliu/go-coordlink/frame"
	"github.com/arloliu/go-coordlink/internal/pool"
	"github.com/arloliu/go-coordlink/internal/queue"
	"github.com/arloliu/go-coordlink/internal/task"
	"github.com/arloliu/go-coordlink/logger"
	"github.com/arloliu/go-coordlink/sqn"
	"github.com/arloliu/go-coordlink/transport"
)

const (
	initialRetryDelay = 100 * time.Millisecond
	maxRetryDelay     = 30 * time.Second

	minSweepInterval = 10 * time.Millisecond
	maxSweepInterval = time.Second
)

var (
	// ErrNotOpen is returned by Reconnect when the link is not open.
	ErrNotOpen = errors.New("link: not open")
	// ErrCloseTimeout is returned by Close when some unit did not terminate in time.
	// The handle is released regardless.
	ErrCloseTimeout = errors.New("link: close timeout")
	// ErrAckTimeout is the fault reported when consecutive commands were not acknowledged.
	ErrAckTimeout = errors.New("link: consecutive ack timeouts")
)

// unitFault is a transport fault reported by a unit.
type unitFault struct {
	reason string
	cause  error
}

// FrameHandler receives decoded inbound frames. It runs on the forwarder unit; a panic is
// recovered and logged.
type FrameHandler func(f *frame.Frame)

// Link is the command-dispatch link to a coordinator.
type Link struct {
	pctx    context.Context
	cfg     *Config
	logger  logger.Logger
	txLog   logger.Logger
	rxLog   logger.Logger
	fwdLog  logger.Logger
	handler FrameHandler

	state *stateMgr
	// opMu serializes Open, Close and reconnect cycles.
	opMu sync.Mutex

	cycleMu     sync.Mutex
	cycleCtx    context.Context
	cycleCancel context.CancelFunc

	reconnecting atomic.Bool

	// faultMu orders a fault reported while the units start against the move to Open.
	faultMu      sync.Mutex
	pendingFault *unitFault

	connMu sync.RWMutex
	conn   transport.Conn

	seq        *sqn.Stack
	dispatcher *dispatch.Dispatcher

	decoderMu sync.Mutex
	decoder   frame.Decoder

	forwardQ *queue.Blocking[*frame.Frame]
	tasks    *task.Manager

	firmware            Firmware
	metrics             Metrics
	consecutiveTimeouts atomic.Int32
	lastNodeFailure     atomic.Int32
}

// New creates a closed Link. Commands submitted before Open are queued and written once
// the link opens.
func New(ctx context.Context, cfg *Config, handler FrameHandler) (*Link, error) {
	if cfg == nil {
		return nil, errors.New("link: config is nil")
	}

	l := &Link{
		pctx:    ctx,
		cfg:     cfg,
		logger:  cfg.logger,
		txLog:   cfg.logger.With("channel", "tx"),
		rxLog:   cfg.logger.With("channel", "rx"),
		fwdLog:  cfg.logger.With("channel", "fwd"),
		handler: handler,
		seq:     sqn.NewStack(),
		decoder: cfg.codec.NewDecoder(),
	}
	l.state = newStateMgr(l.logger)
	l.forwardQ = queue.NewBlocking[*frame.Frame](cfg.forwarderQueueSize)
	l.tasks = task.NewManager(ctx, l.logger)
	l.dispatcher = dispatch.New(dispatch.Options{
		MaxSimultaneousCommands: cfg.maxSimultaneousCommands,
		QueueSize:               cfg.queueSize,
		Allocator:               l.seq,
		Logger:                  l.txLog,
		Diagnostics:             func() any { return l.Diagnostics() },
	})
	l.lastNodeFailure.Store(-1)

	return l, nil
}

// --- application interface ---

// Submit queues a command and returns its sequence number.
//
// It never blocks on the wire. Duplicates of a pending (command, payload) pair, a full
// queue and a closing link are reported with a zero sequence number and
// dispatch.ErrDuplicate, dispatch.ErrQueueFull or dispatch.ErrNotAccepting.
func (l *Link) Submit(command uint16, payload []byte, opts ...dispatch.SubmitOption) (sqn.Number, error) {
	return l.dispatcher.Submit(command, payload, opts...)
}

// Open connects the transport and starts the units.
//
// Open on a link that is not closed is a no-op. An unknown transport mode or a malformed
// address is reported as a *ConfigError without creating a connection handle. Connect
// failures are retried up to the configured number of attempts.
func (l *Link) Open(ctx context.Context) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if cur := l.state.State(); cur != StateClosed {
		l.logger.Debug("link already open", "state", cur.String())
		return nil
	}

	spec, err := l.cfg.transportSpec()
	if err != nil {
		l.logger.Error("invalid link configuration", "mode", l.cfg.mode, "error", err)
		return err
	}

	l.state.to(StateOpening)
	l.newCycle()

	octx, cancel := l.withCycle(ctx)
	defer cancel()

	if err := l.connect(octx, spec, uint(l.cfg.connectRetries)); err != nil {
		l.cancelCycle()
		l.state.to(StateClosed)
		l.logger.Error("open failed", "endpoint", spec.Address(), "error", err)

		return fmt.Errorf("link: open %s: %w", spec.Address(), err)
	}

	l.dispatcher.Reopen()
	l.forwardQ.Reopen()

	if err := l.startUnits(); err != nil {
		l.teardown()
		l.cancelCycle()
		l.state.to(StateClosed)
		l.logger.Error("failed to start units", "error", err)

		return err
	}

	fault := l.markOpen()
	l.logger.Info("link opened", "endpoint", l.endpoint())
	if fault != nil {
		l.triggerReconnect(fault.reason, fault.cause)
	}

	return nil
}

// Close stops the units, releases the connection handle and discards queued commands.
//
// Close on a closed link is a no-op. Submissions are rejected from the start of Close
// until the next Open. If some unit does not terminate within the close timeout, Close
// still releases the handle and returns ErrCloseTimeout.
func (l *Link) Close() error {
	// interrupt a connect or settle delay in progress
	l.cancelCycle()

	l.opMu.Lock()
	defer l.opMu.Unlock()

	prev := l.state.State()
	if prev == StateClosed {
		return nil
	}

	l.state.to(StateShuttingDown)
	l.dispatcher.Close()
	l.forwardQ.Close()

	finished := l.teardown()

	discarded := l.dispatcher.DiscardQueued()
	frames := l.forwardQ.Drain()

	l.state.to(StateClosed)
	l.logger.Info("link closed",
		"prev_state", prev.String(),
		"discarded_commands", len(discarded),
		"discarded_frames", len(frames),
	)

	if !finished {
		l.logger.Error("link close timeout", "timeout", l.cfg.closeTimeout, "task_count", l.tasks.TaskCount())
		return ErrCloseTimeout
	}

	return nil
}

// Reconnect tears down the current connection and opens a new one after the settle delay.
//
// It returns when the link is open again, or with an error when the link was closed in the
// meantime. A reconnect already in progress makes Reconnect a no-op. If no new handle can
// be created, the link ends up Closed and must be opened again.
func (l *Link) Reconnect() error {
	if l.state.State() != StateOpen {
		return ErrNotOpen
	}
	if !l.reconnecting.CompareAndSwap(false, true) {
		return nil
	}
	defer l.reconnecting.Store(false)

	return l.reconnect("requested", nil)
}

// State returns the lifecycle state.
func (l *Link) State() State {
	return l.state.State()
}

// WaitState waits until the link reaches state or ctx is done.
func (l *Link) WaitState(ctx context.Context, state State) error {
	return l.state.waitState(ctx, state)
}

// AddStateHandler registers handlers invoked on every state change.
func (l *Link) AddStateHandler(handlers ...StateChangeHandler) {
	l.state.addHandler(handlers...)
}

// WriterQueueLen returns the number of queued commands.
func (l *Link) WriterQueueLen() int {
	return l.dispatcher.QueueLen()
}

// ForwarderQueueLen returns the number of decoded frames waiting for the FrameHandler.
func (l *Link) ForwarderQueueLen() int {
	return l.forwardQ.Len()
}

// LoadTransmit returns the load of the command queue, the number of queued commands.
func (l *Link) LoadTransmit() int {
	return l.dispatcher.QueueLen()
}

// InFlightLen returns the number of commands awaiting their ack.
func (l *Link) InFlightLen() int {
	return l.dispatcher.InFlightLen()
}

// GatePermitsInUse returns the number of held gate permits.
func (l *Link) GatePermitsInUse() int {
	return l.dispatcher.Gate().InUse()
}

// DispatchStats returns the submission counters.
func (l *Link) DispatchStats() dispatch.Stats {
	return l.dispatcher.Stats()
}

// GetMetrics returns the link metrics.
func (l *Link) GetMetrics() *Metrics {
	return &l.metrics
}

// Firmware returns the firmware state used in diagnostics.
func (l *Link) Firmware() *Firmware {
	return &l.firmware
}

// Sequence returns the sequence counters of the link.
func (l *Link) Sequence() *sqn.Stack {
	return l.seq
}

// LastNodeFailure returns the target node of the last command that was rejected or timed
// out, and false if there was none.
func (l *Link) LastNodeFailure() (uint16, bool) {
	v := l.lastNodeFailure.Load()
	if v < 0 {
		return 0, false
	}

	return uint16(v), true
}

// GetLogger returns the logger of the link.
func (l *Link) GetLogger() logger.Logger {
	return l.logger
}

// --- lifecycle internals ---

func (l *Link) newCycle() {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	l.cycleCtx, l.cycleCancel = context.WithCancel(l.pctx)
}

func (l *Link) cancelCycle() {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	if l.cycleCancel != nil {
		l.cycleCancel()
	}
}

// withCycle derives a context cancelled by either ctx or the current cycle.
func (l *Link) withCycle(ctx context.Context) (context.Context, context.CancelFunc) {
	l.cycleMu.Lock()
	cycle := l.cycleCtx
	l.cycleMu.Unlock()

	merged, cancel := context.WithCancel(ctx)
	if cycle == nil {
		return merged, cancel
	}
	stop := context.AfterFunc(cycle, cancel)

	return merged, func() {
		stop()
		cancel()
	}
}

// connect creates a new handle and connects it. maxTries 0 retries until ctx is done.
func (l *Link) connect(ctx context.Context, spec transport.Spec, maxTries uint) error {
	// at most one live handle
	l.closeConn()

	conn, err := l.cfg.factory(spec)
	if err != nil {
		return &ConfigError{Field: "transport", Err: err}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := conn.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(ctx.Err())
			}

			return struct{}{}, err
		}

		return struct{}{}, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxTries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.metrics.incConnRetryGauge()
			l.logger.Warn("connect attempt failed", "endpoint", conn.String(), "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		_ = conn.Disconnect()
		return err
	}

	l.setConn(conn)
	l.metrics.resetConnRetryGauge()

	return nil
}

func (l *Link) startUnits() error {
	l.resetDecoder()
	l.clearFault()

	if err := l.tasks.Start("writer", l.writeIteration, nil); err != nil {
		return err
	}

	buf := pool.GetReadBuffer()
	if err := l.tasks.Start("reader", func(ctx context.Context) bool {
		return l.readIteration(ctx, *buf)
	}, func() { pool.PutReadBuffer(buf) }); err != nil {
		return err
	}

	if err := l.tasks.Start("forwarder", l.forwardIteration, nil); err != nil {
		return err
	}

	return l.tasks.StartInterval("ack-sweep", l.sweepIteration, sweepInterval(l.cfg.ackTimeout))
}

// teardown stops the units, releases the handle and drops in-flight commands. It returns
// false if some unit did not terminate within the close timeout.
func (l *Link) teardown() bool {
	l.tasks.Stop()
	// closing the handle unblocks a reader or writer stuck in I/O
	l.closeConn()

	finished := l.tasks.WaitTimeout(l.cfg.closeTimeout)

	if dropped := l.dispatcher.DropInFlight(); len(dropped) > 0 {
		l.txLog.Warn("in-flight commands dropped", "count", len(dropped))
	}
	l.consecutiveTimeouts.Store(0)
	l.resetDecoder()

	return finished
}

// triggerReconnect starts a reconnect cycle in the background. It is called by the units,
// which must return right after so the cycle can join them. A fault reported while the
// units start is held until the link is marked open.
func (l *Link) triggerReconnect(reason string, cause error) {
	l.faultMu.Lock()
	st := l.state.State()
	if st == StateOpening {
		if l.pendingFault == nil {
			l.pendingFault = &unitFault{reason: reason, cause: cause}
		}
		l.faultMu.Unlock()

		return
	}
	l.faultMu.Unlock()

	if st != StateOpen {
		return
	}
	if !l.reconnecting.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer l.reconnecting.Store(false)

		if err := l.reconnect(reason, cause); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNotOpen) {
			l.logger.Error("reconnect failed", "reason", reason, "error", err)
		}
	}()
}

// markOpen moves the link to Open and returns the fault a unit reported while starting.
func (l *Link) markOpen() *unitFault {
	l.faultMu.Lock()
	defer l.faultMu.Unlock()

	fault := l.pendingFault
	l.pendingFault = nil
	l.state.to(StateOpen)

	return fault
}

func (l *Link) clearFault() {
	l.faultMu.Lock()
	defer l.faultMu.Unlock()

	l.pendingFault = nil
}

func (l *Link) reconnect(reason string, cause error) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if !l.state.transition(StateReconnecting, StateOpen) {
		return ErrNotOpen
	}

	for {
		l.metrics.incReconnectCount()
		if cause != nil {
			l.logger.Error("connection fault, reconnecting", l.errorContext("reason", reason, "error", cause)...)
		} else {
			l.logger.Info("reconnecting", "reason", reason)
		}

		l.teardown()

		err := l.reopen()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Close is waiting for opMu and finishes the shutdown
			return err
		}
		if err != nil {
			var cfgErr *ConfigError
			if errors.As(err, &cfgErr) {
				l.teardown()
				l.cancelCycle()
				l.dispatcher.Close()
				l.forwardQ.Close()
				discarded := l.dispatcher.DiscardQueued()
				l.forwardQ.Drain()
				l.state.to(StateClosed)
				l.logger.Error("reconnect abandoned, link closed",
					"reason", reason, "error", err, "discarded_commands", len(discarded))

				return err
			}

			l.state.to(StateReconnecting)
			reason, cause = "start failure", err

			continue
		}

		fault := l.markOpen()
		if fault == nil {
			l.logger.Info("link reconnected", "endpoint", l.endpoint())
			return nil
		}
		if !l.state.transition(StateReconnecting, StateOpen) {
			return ErrNotOpen
		}
		reason, cause = fault.reason, fault.cause
	}
}

// reopen waits for the settle delay, connects a new handle and starts the units. The link
// is left Opening on success.
func (l *Link) reopen() error {
	ctx, cancel := l.withCycle(l.pctx)
	defer cancel()

	if err := pool.Sleep(ctx, l.cfg.settleDelay); err != nil {
		return err
	}

	spec, err := l.cfg.transportSpec()
	if err != nil {
		return err
	}

	l.state.to(StateOpening)
	if err := l.connect(ctx, spec, 0); err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}

		return err
	}

	return l.startUnits()
}

func (l *Link) setConn(conn transport.Conn) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	l.conn = conn
}

func (l *Link) getConn() transport.Conn {
	l.connMu.RLock()
	defer l.connMu.RUnlock()

	return l.conn
}

// closeConn disconnects and clears the handle. Subsequent calls are no-ops.
func (l *Link) closeConn() {
	l.connMu.Lock()
	conn := l.conn
	l.conn = nil
	l.connMu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Disconnect(); err != nil {
		l.logger.Warn("failed to disconnect", "endpoint", conn.String(), "error", err)
	}
}

func (l *Link) endpoint() string {
	if conn := l.getConn(); conn != nil {
		return conn.String()
	}

	return ""
}

func sweepInterval(ackTimeout time.Duration) time.Duration {
	return min(max(ackTimeout/4, minSweepInterval), maxSweepInterval)
}

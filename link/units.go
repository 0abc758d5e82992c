package link

import (
	"context"
	"time"

	"github.com/arloliu/go-coordlink/dispatch"
	"github.com/arloliu/go-coordlink/logger"
	"github.com/arloliu/go-coordlink/transport"
)

// writeIteration writes one command. The permit taken by Next is handed back through
// Sent, Requeue or Fail on every path.
func (l *Link) writeIteration(ctx context.Context) bool {
	env, err := l.dispatcher.Next(ctx)
	if err != nil {
		return false
	}

	conn := l.getConn()
	if conn == nil {
		l.dispatcher.Requeue(env)
		return false
	}

	raw, err := l.cfg.codec.Encode(env.Command, env.Payload)
	if err != nil {
		l.dispatcher.Fail(env)
		l.txLog.Error("command encoding failed", l.errorContext("envelope", env.String(), "error", err)...)

		return true
	}

	l.dispatcher.Track(env, time.Now())
	if err := conn.Send(raw); err != nil {
		l.dispatcher.Requeue(env)
		if ctx.Err() != nil {
			return false
		}

		l.metrics.incWriteErrCount()
		l.txLog.Error("write failed", l.errorContext("envelope", env.String(), "error", err)...)
		l.triggerReconnect("write failure", err)

		return false
	}

	l.dispatcher.Sent(env, time.Now())
	l.metrics.incSentCount()

	if l.txLog.Level() == logger.DebugLevel {
		l.txLog.Debug("command sent", "envelope", env.String(), "in_flight", l.dispatcher.InFlightLen())
	}

	return true
}

// readIteration polls the connection once.
func (l *Link) readIteration(ctx context.Context, buf []byte) bool {
	conn := l.getConn()
	if conn == nil {
		return false
	}

	n, err := conn.Receive(buf)
	if err != nil {
		if transport.IsTimeout(err) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		l.rxLog.Error("read failed", l.errorContext("error", err)...)
		l.triggerReconnect("read failure", err)

		return false
	}

	if n > 0 {
		l.OnInboundMessage(buf[:n])
	}

	return true
}

// forwardIteration hands one decoded frame to the FrameHandler.
func (l *Link) forwardIteration(ctx context.Context) bool {
	f, err := l.forwardQ.Pop(ctx)
	if err != nil {
		return false
	}

	if l.handler == nil {
		l.fwdLog.Debug("no frame handler, frame dropped", "frame", f.String())
		return true
	}
	l.handler(f)

	return true
}

// sweepIteration expires commands whose ack is overdue.
func (l *Link) sweepIteration(_ context.Context) bool {
	expired := l.dispatcher.Expire(time.Now(), l.cfg.ackTimeout)
	if len(expired) == 0 {
		return true
	}

	l.metrics.addTimeoutCount(len(expired))
	for _, env := range expired {
		l.recordNodeFailure(env)
	}
	l.txLog.Error("ack timeout, commands expired",
		l.errorContext("expired", renderEnvelopes(expired), "ack_timeout", l.cfg.ackTimeout)...)

	n := int(l.consecutiveTimeouts.Add(int32(len(expired))))
	if limit := l.cfg.maxConsecutiveTimeouts; limit > 0 && n >= limit {
		l.consecutiveTimeouts.Store(0)
		l.triggerReconnect("ack timeouts", ErrAckTimeout)

		return false
	}

	return true
}

func (l *Link) recordNodeFailure(env *dispatch.Envelope) {
	if env.TargetNode != nil {
		l.lastNodeFailure.Store(int32(*env.TargetNode))
	}
}

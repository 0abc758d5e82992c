package link

import (
	"errors"

	"github.com/arloliu/go-coordlink/frame"
	"github.com/arloliu/go-coordlink/internal/queue"
	"github.com/arloliu/go-coordlink/logger"
)

// OnInboundMessage is the delivery path from the wire to the application.
//
// raw is any chunk of the received byte stream; frames may span chunks. Completed frames
// resolve in-flight commands and are queued for the FrameHandler. The reader unit calls it
// for every chunk it receives; applications that own the byte stream may call it directly.
func (l *Link) OnInboundMessage(raw []byte) {
	l.decoderMu.Lock()
	frames, err := l.decoder.Feed(raw)
	l.decoderMu.Unlock()

	if err != nil {
		l.metrics.incDecodeErrCount()
		l.rxLog.Error("malformed frame dropped", l.errorContext("error", err)...)
	}

	for _, f := range frames {
		l.metrics.incRecvFrameCount()
		if l.rxLog.Level() == logger.DebugLevel {
			l.rxLog.Debug("frame received", "frame", f.String())
		}

		l.track(f)
		l.forward(f)
	}
}

// track resolves in-flight commands from a status or response frame.
func (l *Link) track(f *frame.Frame) {
	if f.Type != frame.TypeStatus {
		if env, done := l.dispatcher.HandleResponse(f.Type); done {
			l.consecutiveTimeouts.Store(0)
			l.metrics.incAckCount()
			l.rxLog.Debug("response received", "seq", env.Seq, "type", f.Type)
		}

		return
	}

	st, err := frame.ParseStatus(f)
	if err != nil {
		l.rxLog.Warn("invalid status frame", "frame", f.String(), "error", err)
		return
	}
	l.seq.SetCurrent(st.SQN)

	env, done := l.dispatcher.HandleStatus(st)
	if env == nil {
		l.rxLog.Debug("status without pending command", "cmd", st.Command, "status", st.Code)
		return
	}
	l.consecutiveTimeouts.Store(0)

	if !st.OK() {
		l.metrics.incNackCount()
		l.recordNodeFailure(env)
		l.rxLog.Warn("command rejected by coordinator", "status", st.Code, "envelope", env.String())
	}
	if done {
		l.metrics.incAckCount()
	}
}

func (l *Link) forward(f *frame.Frame) {
	err := l.forwardQ.Push(f)
	if err == nil {
		return
	}

	if errors.Is(err, queue.ErrFull) {
		l.metrics.incForwardDropCount()
		l.fwdLog.Error("forwarder queue full, frame dropped", l.errorContext("frame", f.String())...)
	}
}

func (l *Link) pendingBytes() []byte {
	l.decoderMu.Lock()
	defer l.decoderMu.Unlock()

	return l.decoder.Pending()
}

func (l *Link) resetDecoder() {
	l.decoderMu.Lock()
	defer l.decoderMu.Unlock()

	l.decoder.Reset()
}

package link

import (
	"sync/atomic"
)

// Metrics contains atomic counters of a Link.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// SentCount indicates the number of commands written to the coordinator.
	SentCount atomic.Uint64
	// WriteErrCount indicates the number of failed writes.
	WriteErrCount atomic.Uint64
	// RecvFrameCount indicates the number of frames decoded from the coordinator.
	RecvFrameCount atomic.Uint64
	// DecodeErrCount indicates the number of malformed frames dropped by the decoder.
	DecodeErrCount atomic.Uint64
	// AckCount indicates the number of commands resolved by a status or response frame.
	AckCount atomic.Uint64
	// NackCount indicates the number of status frames reporting a failure.
	NackCount atomic.Uint64
	// TimeoutCount indicates the number of commands expired without an ack.
	TimeoutCount atomic.Uint64
	// ForwardDropCount indicates the number of frames dropped on a full forwarder queue.
	ForwardDropCount atomic.Uint64
	// ReconnectCount indicates the number of reconnect cycles.
	ReconnectCount atomic.Uint64

	// ConnRetryGauge indicates the number of failed connect attempts of the current cycle.
	ConnRetryGauge atomic.Uint32
}

func (m *Metrics) incSentCount() {
	m.SentCount.Add(1)
}

func (m *Metrics) incWriteErrCount() {
	m.WriteErrCount.Add(1)
}

func (m *Metrics) incRecvFrameCount() {
	m.RecvFrameCount.Add(1)
}

func (m *Metrics) incDecodeErrCount() {
	m.DecodeErrCount.Add(1)
}

func (m *Metrics) incAckCount() {
	m.AckCount.Add(1)
}

func (m *Metrics) incNackCount() {
	m.NackCount.Add(1)
}

func (m *Metrics) addTimeoutCount(n int) {
	m.TimeoutCount.Add(uint64(n))
}

func (m *Metrics) incForwardDropCount() {
	m.ForwardDropCount.Add(1)
}

func (m *Metrics) incReconnectCount() {
	m.ReconnectCount.Add(1)
}

func (m *Metrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *Metrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}

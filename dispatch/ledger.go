package dispatch

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-coordlink/sqn"
)

type ledgerKey struct {
	command uint16
	payload string
}

func keyOf(command uint16, payload []byte) ledgerKey {
	return ledgerKey{command: command, payload: string(payload)}
}

// LedgerEntry is a read-only view of a pending submission.
type LedgerEntry struct {
	Command     uint16     `json:"cmd"`
	Payload     []byte     `json:"data"`
	Seq         sqn.Number `json:"seq"`
	SubmittedAt time.Time  `json:"submitted_at"`
}

// Ledger holds one entry per pending (command, payload) pair, from submission until the
// command is resolved or discarded.
type Ledger struct {
	entries *xsync.MapOf[ledgerKey, *Envelope]
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: xsync.NewMapOf[ledgerKey, *Envelope]()}
}

// Reserve registers env unless an envelope with the same command and payload is pending.
//
// init runs only when env is registered, before it becomes visible to other goroutines.
// Reserve returns the pending envelope and true on a duplicate.
func (l *Ledger) Reserve(env *Envelope, init func(*Envelope)) (*Envelope, bool) {
	return l.entries.LoadOrCompute(keyOf(env.Command, env.Payload), func() *Envelope {
		if init != nil {
			init(env)
		}

		return env
	})
}

// Release removes the entry of env. An entry registered by another envelope with the same
// pair is left untouched.
func (l *Ledger) Release(env *Envelope) bool {
	removed := false
	l.entries.Compute(keyOf(env.Command, env.Payload), func(old *Envelope, loaded bool) (*Envelope, bool) {
		if !loaded {
			return nil, true
		}
		if old != env {
			return old, false
		}
		removed = true

		return nil, true
	})

	return removed
}

// Contains reports whether the pair is pending.
func (l *Ledger) Contains(command uint16, payload []byte) bool {
	_, ok := l.entries.Load(keyOf(command, payload))
	return ok
}

// Len returns the number of pending pairs.
func (l *Ledger) Len() int {
	return l.entries.Size()
}

// Entries returns the pending pairs ordered by sequence number.
func (l *Ledger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, 0, l.entries.Size())
	l.entries.Range(func(_ ledgerKey, env *Envelope) bool {
		out = append(out, LedgerEntry{
			Command:     env.Command,
			Payload:     env.Payload,
			Seq:         env.Seq,
			SubmittedAt: env.SubmittedAt,
		})

		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })

	return out
}

// Clear removes all entries.
func (l *Ledger) Clear() {
	l.entries.Clear()
}

// InFlight indexes written envelopes awaiting their acknowledgment.
type InFlight struct {
	entries *xsync.MapOf[sqn.Number, *Envelope]
}

// NewInFlight creates an empty index.
func NewInFlight() *InFlight {
	return &InFlight{entries: xsync.NewMapOf[sqn.Number, *Envelope]()}
}

// Track adds env to the index.
func (f *InFlight) Track(env *Envelope) {
	f.entries.Store(env.Seq, env)
}

// Take removes the envelope with sequence seq and reports whether this call removed it.
func (f *InFlight) Take(seq sqn.Number) (*Envelope, bool) {
	return f.entries.LoadAndDelete(seq)
}

// Oldest returns the in-flight envelope with the lowest sequence number accepted by match.
func (f *InFlight) Oldest(match func(*Envelope) bool) (*Envelope, bool) {
	var found *Envelope
	f.entries.Range(func(_ sqn.Number, env *Envelope) bool {
		if match(env) && (found == nil || env.Seq < found.Seq) {
			found = env
		}

		return true
	})

	return found, found != nil
}

// Collect returns the in-flight envelopes accepted by match, ordered by sequence number.
func (f *InFlight) Collect(match func(*Envelope) bool) []*Envelope {
	var out []*Envelope
	f.entries.Range(func(_ sqn.Number, env *Envelope) bool {
		if match == nil || match(env) {
			out = append(out, env)
		}

		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })

	return out
}

// Len returns the number of in-flight envelopes.
func (f *InFlight) Len() int {
	return f.entries.Size()
}

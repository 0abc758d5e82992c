// Package dispatch implements the outbound command path of the link.
//
// A command enters through Dispatcher.Submit, which rejects a second pending submission of
// the same (command, payload) pair, allocates a sequence number and enqueues an Envelope on
// a priority queue. The writer side calls Next, which first takes a permit from the Gate and
// then the highest priority Envelope. Right before the write the Envelope is tracked as in
// flight until the coordinator acknowledges it, the ack times out, or the connection is torn
// down; each of these resolutions returns the permit and clears the Ledger entry.
//
// Ordering uses a two-level PriorityKey. High priority envelopes carry ClassHigh and a burst
// counter that restarts at zero whenever a submission finds the queue empty; normal envelopes
// carry ClassNormal and their sequence number, which gives FIFO order within the class.
package dispatch

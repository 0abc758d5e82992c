// Package frame implements the byte framing spoken by the coordinator on both serial and
// TCP transports.
//
// A frame on the wire is:
//
//	0x01 | escaped( type:2 | length:2 | checksum:1 | data:length ) | 0x03
//
// Multi-byte fields are big-endian. Every byte below 0x10 inside the escaped region is sent
// as 0x02 followed by the byte XOR 0x10, so the start and end markers never appear inside a
// frame. The checksum is the XOR of the type, length and data bytes.
//
// Inbound frames are produced by a StreamDecoder, which accepts arbitrary chunks as they come
// off the transport and keeps the partially received frame between calls.
package frame

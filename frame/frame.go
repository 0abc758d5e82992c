package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	StartByte  byte = 0x01
	EscapeByte byte = 0x02
	EndByte    byte = 0x03

	escapeMask   byte = 0x10
	headerLength      = 5

	// MaxDataLength is the largest data section a frame can carry.
	MaxDataLength = 0xFFFF
)

var (
	ErrTooShort       = errors.New("frame: shorter than header")
	ErrLengthMismatch = errors.New("frame: length field does not match data")
	ErrChecksum       = errors.New("frame: checksum mismatch")
	ErrTooLong        = errors.New("frame: exceeds maximum length")
	ErrBadEscape      = errors.New("frame: dangling escape byte")
)

// Frame is one decoded protocol frame.
type Frame struct {
	Type uint16
	Data []byte
}

// String returns a compact representation for logging.
func (f *Frame) String() string {
	return fmt.Sprintf("%04X:%X", f.Type, f.Data)
}

// Encode serializes a command into its on-wire representation.
func Encode(msgType uint16, data []byte) ([]byte, error) {
	if len(data) > MaxDataLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, len(data))
	}

	raw := make([]byte, headerLength+len(data))
	binary.BigEndian.PutUint16(raw[0:2], msgType)
	binary.BigEndian.PutUint16(raw[2:4], uint16(len(data)))
	copy(raw[headerLength:], data)
	raw[4] = checksum(raw[0:4], data)

	out := make([]byte, 0, len(raw)*2+2)
	out = append(out, StartByte)
	for _, b := range raw {
		if b < escapeMask {
			out = append(out, EscapeByte, b^escapeMask)
		} else {
			out = append(out, b)
		}
	}
	out = append(out, EndByte)

	return out, nil
}

// parse decodes the unescaped content between the start and end markers.
func parse(raw []byte) (*Frame, error) {
	if len(raw) < headerLength {
		return nil, ErrTooShort
	}

	msgType := binary.BigEndian.Uint16(raw[0:2])
	length := int(binary.BigEndian.Uint16(raw[2:4]))
	data := raw[headerLength:]

	if len(data) != length {
		return nil, fmt.Errorf("%w: type %04X declares %d, got %d", ErrLengthMismatch, msgType, length, len(data))
	}

	if sum := checksum(raw[0:4], data); sum != raw[4] {
		return nil, fmt.Errorf("%w: type %04X want %02X got %02X", ErrChecksum, msgType, sum, raw[4])
	}

	out := make([]byte, len(data))
	copy(out, data)

	return &Frame{Type: msgType, Data: out}, nil
}

func checksum(header []byte, data []byte) byte {
	var sum byte
	for _, b := range header {
		sum ^= b
	}
	for _, b := range data {
		sum ^= b
	}

	return sum
}

// unescape reverses the byte stuffing applied by Encode.
func unescape(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		b := src[i]
		if b != EscapeByte {
			out = append(out, b)
			continue
		}
		i++
		if i >= len(src) {
			return nil, ErrBadEscape
		}
		out = append(out, src[i]^escapeMask)
	}

	return out, nil
}

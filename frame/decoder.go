package frame

import (
	"errors"
)

// DefaultMaxFrameSize bounds the escaped size of a single inbound frame.
const DefaultMaxFrameSize = 2 * (headerLength + 512)

// Decoder splits a byte stream into frames.
type Decoder interface {
	// Feed consumes a chunk of received bytes and returns the frames it completed. Malformed
	// frames are skipped and reported through the joined error; valid frames in the same
	// chunk are still returned.
	Feed(chunk []byte) ([]*Frame, error)
	// Pending returns a copy of the bytes of the frame currently being received.
	Pending() []byte
	// Reset discards any partially received frame.
	Reset()
}

// StreamDecoder is the Decoder for the coordinator framing. It is not goroutine-safe.
type StreamDecoder struct {
	buf     []byte
	inFrame bool
	maxSize int
}

var _ Decoder = (*StreamDecoder)(nil)

// NewStreamDecoder creates a decoder. A maxSize <= 0 selects DefaultMaxFrameSize.
func NewStreamDecoder(maxSize int) *StreamDecoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	return &StreamDecoder{maxSize: maxSize, buf: make([]byte, 0, 64)}
}

func (d *StreamDecoder) Feed(chunk []byte) ([]*Frame, error) {
	var frames []*Frame
	var errs []error

	for _, b := range chunk {
		switch {
		case b == StartByte:
			// a start marker always begins a new frame, abandoning any partial one
			d.buf = d.buf[:0]
			d.inFrame = true

		case !d.inFrame:
			// noise between frames

		case b == EndByte:
			d.inFrame = false
			raw, err := unescape(d.buf)
			d.buf = d.buf[:0]
			if err != nil {
				errs = append(errs, err)
				continue
			}
			f, err := parse(raw)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			frames = append(frames, f)

		default:
			if len(d.buf) >= d.maxSize {
				errs = append(errs, ErrTooLong)
				d.buf = d.buf[:0]
				d.inFrame = false
				continue
			}
			d.buf = append(d.buf, b)
		}
	}

	return frames, errors.Join(errs...)
}

func (d *StreamDecoder) Pending() []byte {
	if !d.inFrame {
		return nil
	}
	out := make([]byte, 0, len(d.buf)+1)
	out = append(out, StartByte)

	return append(out, d.buf...)
}

func (d *StreamDecoder) Reset() {
	d.buf = d.buf[:0]
	d.inFrame = false
}

// Codec produces wire bytes for commands and decoders for inbound streams.
type Codec interface {
	Encode(msgType uint16, data []byte) ([]byte, error)
	NewDecoder() Decoder
}

// DefaultCodec is the coordinator framing codec.
type DefaultCodec struct {
	// MaxFrameSize is passed to NewStreamDecoder.
	MaxFrameSize int
}

var _ Codec = DefaultCodec{}

func (c DefaultCodec) Encode(msgType uint16, data []byte) ([]byte, error) {
	return Encode(msgType, data)
}

func (c DefaultCodec) NewDecoder() Decoder {
	return NewStreamDecoder(c.MaxFrameSize)
}

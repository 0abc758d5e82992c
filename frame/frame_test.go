package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	require := require.New(t)

	// 0x0010 (get version), no data: header 00 10 00 00, checksum 10
	out, err := Encode(0x0010, nil)
	require.NoError(err)
	require.Equal([]byte{0x01, 0x02, 0x10, 0x10, 0x02, 0x10, 0x02, 0x10, 0x10, 0x03}, out)

	for _, b := range out[1 : len(out)-1] {
		require.NotEqual(StartByte, b)
		require.NotEqual(EndByte, b)
	}

	_, err = Encode(0x0001, make([]byte, MaxDataLength+1))
	require.ErrorIs(err, ErrTooLong)
}

func TestStreamDecoder(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		require := require.New(t)

		data := []byte{0x00, 0x01, 0x02, 0x03, 0x10, 0xFF}
		wire, err := Encode(0x8102, data)
		require.NoError(err)

		d := NewStreamDecoder(0)
		frames, err := d.Feed(wire)
		require.NoError(err)
		require.Len(frames, 1)
		require.Equal(uint16(0x8102), frames[0].Type)
		require.Equal(data, frames[0].Data)
		require.Nil(d.Pending())
	})

	t.Run("Split chunks and noise", func(t *testing.T) {
		require := require.New(t)

		a, _ := Encode(0x8000, EncodeStatus(Status{Code: 0, SQN: 7, Command: 0x0049}))
		b, _ := Encode(0x8001, []byte{0x05})

		stream := append([]byte{0xAA, 0xBB}, a...)
		stream = append(stream, b...)

		d := NewStreamDecoder(0)
		var got []*Frame
		for i := 0; i < len(stream); i += 3 {
			end := min(i+3, len(stream))
			frames, err := d.Feed(stream[i:end])
			require.NoError(err)
			got = append(got, frames...)
		}

		require.Len(got, 2)
		require.Equal(uint16(0x8000), got[0].Type)
		require.Equal(uint16(0x8001), got[1].Type)
	})

	t.Run("Pending", func(t *testing.T) {
		require := require.New(t)

		wire, _ := Encode(0x8001, []byte{0x20, 0x21})
		d := NewStreamDecoder(0)

		frames, err := d.Feed(wire[:4])
		require.NoError(err)
		require.Empty(frames)
		require.Equal(wire[:4], d.Pending())

		d.Reset()
		require.Nil(d.Pending())
	})

	t.Run("Checksum mismatch", func(t *testing.T) {
		require := require.New(t)

		bad, _ := Encode(0x8001, []byte{0x20})
		bad[len(bad)-2] = 0x21 // corrupt the data byte
		good, _ := Encode(0x8002, []byte{0x30})

		d := NewStreamDecoder(0)
		frames, err := d.Feed(append(bad, good...))
		require.ErrorIs(err, ErrChecksum)
		require.Len(frames, 1)
		require.Equal(uint16(0x8002), frames[0].Type)
	})

	t.Run("Restart on start byte", func(t *testing.T) {
		require := require.New(t)

		good, _ := Encode(0x8002, []byte{0x30})
		d := NewStreamDecoder(0)
		frames, err := d.Feed(append([]byte{StartByte, 0x80, 0x00}, good...))
		require.NoError(err)
		require.Len(frames, 1)
	})

	t.Run("Too long", func(t *testing.T) {
		require := require.New(t)

		d := NewStreamDecoder(8)
		stream := []byte{StartByte}
		for i := 0; i < 16; i++ {
			stream = append(stream, 0x40)
		}
		stream = append(stream, EndByte)

		frames, err := d.Feed(stream)
		require.ErrorIs(err, ErrTooLong)
		require.Empty(frames)
	})

	t.Run("Short and length mismatch", func(t *testing.T) {
		require := require.New(t)

		d := NewStreamDecoder(0)
		_, err := d.Feed([]byte{StartByte, 0x80, EndByte})
		require.ErrorIs(err, ErrTooShort)

		// declares 2 bytes of data, carries 1
		_, err = d.Feed([]byte{StartByte, 0x80, 0x20, 0x02, 0x10, 0x02, 0x12, 0xA2, 0x20, EndByte})
		require.ErrorIs(err, ErrLengthMismatch)
	})
}

func TestParseStatus(t *testing.T) {
	require := require.New(t)

	f := &Frame{Type: TypeStatus, Data: EncodeStatus(Status{Code: 1, SQN: 0x10, Command: 0x0530})}
	st, err := ParseStatus(f)
	require.NoError(err)
	require.Equal(uint8(1), st.Code)
	require.Equal(uint8(0x10), st.SQN)
	require.Equal(uint16(0x0530), st.Command)
	require.False(st.OK())

	_, err = ParseStatus(&Frame{Type: 0x8001})
	require.ErrorIs(err, ErrNotStatus)

	_, err = ParseStatus(&Frame{Type: TypeStatus, Data: []byte{0}})
	require.ErrorIs(err, ErrTooShort)

	codec := DefaultCodec{}
	wire, err := codec.Encode(TypeStatus, f.Data)
	require.NoError(err)
	frames, err := codec.NewDecoder().Feed(wire)
	require.NoError(err)
	require.Equal(f.Data, frames[0].Data)
}

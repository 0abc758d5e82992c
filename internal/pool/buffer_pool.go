package pool

import "sync"

// ReadBufferSize is the size of buffers handed out by GetReadBuffer.
const ReadBufferSize = 1024

var readBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, ReadBufferSize)
		return &buf
	},
}

// GetReadBuffer returns a ReadBufferSize byte buffer for a single receive call.
func GetReadBuffer() *[]byte {
	buf, _ := readBufPool.Get().(*[]byte)
	return buf
}

// PutReadBuffer returns buf to the pool. Buffers of a foreign size are dropped.
func PutReadBuffer(buf *[]byte) {
	if buf == nil || cap(*buf) != ReadBufferSize {
		return
	}
	*buf = (*buf)[:ReadBufferSize]
	readBufPool.Put(buf)
}

package protocol

import "github.com/smallnest/ringbuffer"

// ByteStream is a bounded in-order byte buffer. Bytes are written on the
// input side and read from the output side; the writer can end the input,
// after which no more bytes are accepted.
type ByteStream struct {
	buf     *ringbuffer.RingBuffer
	written uint64
	read    uint64
	ended   bool
	err     bool
}

func NewByteStream(capacity int) *ByteStream {
	return &ByteStream{buf: ringbuffer.New(max(0, capacity))}
}

// Write copies as much of data as fits and returns the number of bytes accepted.
func (stream *ByteStream) Write(data []byte) int {
	if stream.ended || len(data) == 0 || stream.RemainingCapacity() == 0 {
		return 0
	}
	// a short write reports ErrTooMuchDataToWrite but keeps the prefix
	n, _ := stream.buf.Write(data)
	stream.written += uint64(n)
	return n
}

func (stream *ByteStream) RemainingCapacity() int {
	return stream.buf.Free()
}

func (stream *ByteStream) Capacity() int {
	return stream.buf.Capacity()
}

// PeekOutput returns a copy of up to n buffered bytes without consuming them.
func (stream *ByteStream) PeekOutput(n int) []byte {
	n = max(0, min(n, stream.BufferSize()))
	if n == 0 {
		return []byte{}
	}
	out := make([]byte, n)
	got, _ := stream.buf.Peek(out)
	return out[:got]
}

// PopOutput discards up to n bytes from the output side.
func (stream *ByteStream) PopOutput(n int) {
	stream.Read(n)
}

func (stream *ByteStream) Read(n int) []byte {
	n = max(0, min(n, stream.BufferSize()))
	if n == 0 {
		return []byte{}
	}
	out := make([]byte, n)
	got, _ := stream.buf.Read(out)
	stream.read += uint64(got)
	return out[:got]
}

// EndInput closes the writer side; buffered bytes stay readable.
func (stream *ByteStream) EndInput() {
	stream.ended = true
	stream.buf.CloseWriter()
}

func (stream *ByteStream) InputEnded() bool { return stream.ended }
func (stream *ByteStream) SetError() { stream.err = true }
func (stream *ByteStream) Error() bool { return stream.err }
func (stream *ByteStream) BufferSize() int { return stream.buf.Length() }
func (stream *ByteStream) BufferEmpty() bool { return stream.buf.IsEmpty() }
func (stream *ByteStream) BytesWritten() uint64 { return stream.written }
func (stream *ByteStream) BytesRead() uint64 { return stream.read }

// EOF reports whether the input has ended and everything has been read.
func (stream *ByteStream) EOF() bool {
	return stream.ended && stream.buf.IsEmpty()
}

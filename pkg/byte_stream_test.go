package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteStreamWriteClamps(t *testing.T) {
	stream := NewByteStream(5)
	assert.Equal(t, 3, stream.Write([]byte("cat")))
	assert.Equal(t, 2, stream.Write([]byte("dog")))
	assert.Equal(t, 0, stream.Write([]byte("x")))
	assert.Equal(t, 0, stream.RemainingCapacity())
	assert.Equal(t, uint64(5), stream.BytesWritten())
	assert.Equal(t, []byte("catdo"), stream.PeekOutput(10))
}

func TestByteStreamWrapsAround(t *testing.T) {
	stream := NewByteStream(4)
	require.Equal(t, 3, stream.Write([]byte("abc")))
	assert.Equal(t, []byte("ab"), stream.Read(2))

	require.Equal(t, 3, stream.Write([]byte("def")))
	assert.Equal(t, 4, stream.BufferSize())
	assert.Equal(t, []byte("cdef"), stream.PeekOutput(4))
	assert.Equal(t, []byte("cde"), stream.Read(3))
	assert.Equal(t, []byte("f"), stream.Read(3))
	assert.True(t, stream.BufferEmpty())
	assert.Equal(t, uint64(6), stream.BytesRead())
}

func TestByteStreamPeekIsACopy(t *testing.T) {
	stream := NewByteStream(8)
	stream.Write([]byte("hello"))
	peeked := stream.PeekOutput(5)
	peeked[0] = 'j'
	assert.Equal(t, []byte("hello"), stream.PeekOutput(5))
}

func TestByteStreamPopOutputClamps(t *testing.T) {
	stream := NewByteStream(8)
	stream.Write([]byte("abc"))
	stream.PopOutput(100)
	assert.Equal(t, uint64(3), stream.BytesRead())
	assert.Equal(t, 8, stream.RemainingCapacity())
	stream.PopOutput(-1)
	assert.Equal(t, uint64(3), stream.BytesRead())
}

func TestByteStreamEndInput(t *testing.T) {
	stream := NewByteStream(8)
	stream.Write([]byte("ab"))
	stream.EndInput()
	assert.True(t, stream.InputEnded())
	assert.False(t, stream.EOF())
	assert.Equal(t, 0, stream.Write([]byte("c")))
	assert.Equal(t, uint64(2), stream.BytesWritten())

	assert.Equal(t, []byte("ab"), stream.Read(2))
	assert.True(t, stream.EOF())
}

func TestByteStreamError(t *testing.T) {
	stream := NewByteStream(8)
	assert.False(t, stream.Error())
	stream.SetError()
	assert.True(t, stream.Error())
}

func TestByteStreamOversizedWriteKeepsPrefix(t *testing.T) {
	stream := NewByteStream(4)
	assert.Equal(t, 4, stream.Write([]byte("abcdef")))
	assert.Equal(t, 0, stream.RemainingCapacity())
	assert.Equal(t, uint64(4), stream.BytesWritten())
	assert.Equal(t, []byte("ab"), stream.PeekOutput(2))
	assert.Equal(t, 0, stream.Write([]byte("g")))

	assert.Equal(t, []byte("abc"), stream.Read(3))
	assert.Equal(t, 2, stream.Write([]byte("gh")))
	assert.Equal(t, []byte("dgh"), stream.PeekOutput(8))
}

func TestByteStreamEndInputKeepsBufferedBytes(t *testing.T) {
	stream := NewByteStream(4)
	stream.Write([]byte("abc"))
	stream.EndInput()
	stream.PopOutput(1)
	assert.Equal(t, 2, stream.BufferSize())
	assert.Equal(t, []byte("bc"), stream.PeekOutput(2))
	assert.Equal(t, []byte("bc"), stream.Read(2))
	assert.True(t, stream.EOF())
	assert.Empty(t, stream.Read(1))
	assert.Equal(t, uint64(3), stream.BytesRead())
}

func TestByteStreamZeroCapacity(t *testing.T) {
	stream := NewByteStream(0)
	assert.Equal(t, 0, stream.Write([]byte("a")))
	assert.Empty(t, stream.Read(1))
	assert.Equal(t, 0, stream.Capacity())
}

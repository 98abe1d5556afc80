package protocol

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(stream *ByteStream) string {
	return string(stream.Read(stream.BufferSize()))
}

func TestReassemblerOutOfOrderWithEOF(t *testing.T) {
	r := NewStreamReassembler(4)
	r.PushSubstring([]byte("b"), 1, false)
	assert.Equal(t, 1, r.UnassembledBytes())
	assert.Equal(t, uint64(0), r.StreamOut().BytesWritten())

	r.PushSubstring([]byte("a"), 0, true)
	assert.Equal(t, "ab", readAll(r.StreamOut()))
	assert.True(t, r.StreamOut().InputEnded())
	assert.True(t, r.StreamOut().EOF())
	assert.True(t, r.Empty())
}

func TestReassemblerDuplicates(t *testing.T) {
	r := NewStreamReassembler(16)
	r.PushSubstring([]byte("abcd"), 0, false)
	r.PushSubstring([]byte("abcd"), 0, false)
	r.PushSubstring([]byte("bc"), 1, false)
	assert.Equal(t, uint64(4), r.StreamOut().BytesWritten())

	r.PushSubstring([]byte("gh"), 6, false)
	r.PushSubstring([]byte("gh"), 6, false)
	assert.Equal(t, 2, r.UnassembledBytes())
	assert.Equal(t, "abcd", readAll(r.StreamOut()))
}

func TestReassemblerOverlapMerge(t *testing.T) {
	r := NewStreamReassembler(32)
	r.PushSubstring([]byte("cd"), 2, false)
	r.PushSubstring([]byte("gh"), 6, false)
	r.PushSubstring([]byte("defg"), 3, false)
	assert.Equal(t, 6, r.UnassembledBytes())
	assert.Equal(t, 1, r.earlyArrivals.Len())

	r.PushSubstring([]byte("ef"), 4, false)
	assert.Equal(t, 6, r.UnassembledBytes())

	r.PushSubstring([]byte("abc"), 0, false)
	assert.Equal(t, 0, r.UnassembledBytes())
	assert.Equal(t, "abcdefgh", readAll(r.StreamOut()))
}

func TestReassemblerAbuttingRuns(t *testing.T) {
	r := NewStreamReassembler(32)
	r.PushSubstring([]byte("cd"), 2, false)
	r.PushSubstring([]byte("ef"), 4, false)
	assert.Equal(t, 1, r.earlyArrivals.Len())
	assert.Equal(t, 4, r.UnassembledBytes())
}

func TestReassemblerCapacity(t *testing.T) {
	r := NewStreamReassembler(4)
	r.PushSubstring([]byte("abcdef"), 0, false)
	assert.Equal(t, uint64(4), r.StreamOut().BytesWritten())

	// beyond the window, dropped
	r.PushSubstring([]byte("ef"), 4, false)
	assert.Equal(t, 0, r.UnassembledBytes())
	assert.Equal(t, uint64(4), r.StreamOut().BytesWritten())

	assert.Equal(t, "ab", string(r.StreamOut().Read(2)))
	r.PushSubstring([]byte("efgh"), 4, false)
	assert.Equal(t, uint64(6), r.StreamOut().BytesWritten())
	assert.Equal(t, "cdef", readAll(r.StreamOut()))
}

func TestReassemblerEOFBeyondWindowIgnored(t *testing.T) {
	r := NewStreamReassembler(2)
	r.PushSubstring([]byte("abc"), 0, true)
	assert.False(t, r.StreamOut().InputEnded())
	assert.Equal(t, "ab", readAll(r.StreamOut()))

	r.PushSubstring([]byte("abc"), 0, true)
	assert.True(t, r.StreamOut().InputEnded())
	assert.Equal(t, "c", readAll(r.StreamOut()))
}

func TestReassemblerEmptyEOF(t *testing.T) {
	r := NewStreamReassembler(8)
	r.PushSubstring([]byte("abc"), 0, false)
	r.PushSubstring(nil, 3, true)
	assert.True(t, r.StreamOut().InputEnded())
	assert.Equal(t, "abc", readAll(r.StreamOut()))
}

func TestReassemblerLateEOF(t *testing.T) {
	r := NewStreamReassembler(8)
	r.PushSubstring([]byte("c"), 2, true)
	assert.False(t, r.StreamOut().InputEnded())
	r.PushSubstring([]byte("ab"), 0, false)
	assert.True(t, r.StreamOut().InputEnded())
	assert.Equal(t, "abc", readAll(r.StreamOut()))
}

func TestReassemblerPermutations(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(rng.IntN(256))
	}

	for round := 0; round < 50; round++ {
		type piece struct {
			index uint64
			data  []byte
			eof   bool
		}
		var pieces []piece
		for start := 0; start < len(data); {
			end := min(len(data), start+1+rng.IntN(20))
			// sometimes extend backward to overlap the previous piece
			from := max(0, start-rng.IntN(5))
			pieces = append(pieces, piece{uint64(from), data[from:end], end == len(data)})
			start = end
		}
		rng.Shuffle(len(pieces), func(i, j int) { pieces[i], pieces[j] = pieces[j], pieces[i] })

		r := NewStreamReassembler(len(data))
		for _, p := range pieces {
			r.PushSubstring(p.data, p.index, p.eof)
		}
		require.True(t, r.StreamOut().InputEnded(), "round %d", round)
		require.Equal(t, data, r.StreamOut().Read(len(data)), "round %d", round)
		require.Equal(t, 0, r.UnassembledBytes())
	}
}

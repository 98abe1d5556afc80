package protocol

import (
	"math/rand/v2"
	"testing"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.Equal(t, seqnum.Value(0), Wrap(1<<32, 0))
	assert.Equal(t, seqnum.Value(17), Wrap(3*(1<<32)+17, 0))
	assert.Equal(t, seqnum.Value(15), Wrap(7*(1<<32)-2, 17))
	assert.Equal(t, seqnum.Value(0), Wrap(16, 1<<32-16))
}

func TestUnwrap(t *testing.T) {
	cases := []struct {
		name       string
		n          seqnum.Value
		isn        seqnum.Value
		checkpoint uint64
		want       uint64
	}{
		{"first", 1, 0, 0, 1},
		{"wrapped once", 1, 0, 1<<32 - 1, 1<<32 + 1},
		{"just behind checkpoint", 1<<32 - 2, 0, 1<<32 - 1, 1<<32 - 2},
		{"non-zero isn", 1<<32 - 1, 10, 3 * (1 << 32), 3*(1<<32) - 11},
		{"max value", 1<<32 - 1, 0, 0, 1<<32 - 1},
		{"isn itself", 16, 16, 0, 0},
		{"below zero would wrap", 15, 16, 0, 1<<32 - 1},
		{"far checkpoint", 0, 1<<31 - 1, 3 * (1 << 32), 2*(1<<32) + 1<<31 + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Unwrap(tc.n, tc.isn, tc.checkpoint))
		})
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 10000; i++ {
		isn := seqnum.Value(r.Uint32())
		n := r.Uint64N(1 << 62)
		// any checkpoint within 2^31 of n recovers it
		offset := r.Uint64N(1 << 31)
		checkpoint := n + offset
		if r.IntN(2) == 0 && n >= offset {
			checkpoint = n - offset
		}
		assert.Equal(t, n, Unwrap(Wrap(n, isn), isn, checkpoint))
	}
}

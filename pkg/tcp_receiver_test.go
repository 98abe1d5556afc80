package protocol

import (
	"testing"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segment(seqno seqnum.Value, payload string, syn, fin bool) TCPSegment {
	seg := TCPSegment{Payload: []byte(payload)}
	seg.Header.Seqno = seqno
	seg.Header.Syn = syn
	seg.Header.Fin = fin
	return seg
}

func TestReceiverSynThenFin(t *testing.T) {
	receiver := NewTCPReceiver(4000)
	receiver.SegmentReceived(segment(5, "", true, false))
	ackno, ok := receiver.Ackno()
	require.True(t, ok)
	assert.Equal(t, seqnum.Value(6), ackno)
	assert.Equal(t, ReceiverSynchronized, receiver.State())

	receiver.SegmentReceived(segment(6, "", false, true))
	ackno, ok = receiver.Ackno()
	require.True(t, ok)
	assert.Equal(t, seqnum.Value(7), ackno)
	assert.Equal(t, ReceiverClosed, receiver.State())
	assert.True(t, receiver.StreamOut().EOF())
}

func TestReceiverIgnoresSegmentsBeforeSyn(t *testing.T) {
	receiver := NewTCPReceiver(4000)
	receiver.SegmentReceived(segment(1, "hello", false, false))
	_, ok := receiver.Ackno()
	assert.False(t, ok)
	assert.Equal(t, ReceiverListen, receiver.State())
	assert.Equal(t, uint64(0), receiver.StreamOut().BytesWritten())
}

func TestReceiverSynWithPayload(t *testing.T) {
	receiver := NewTCPReceiver(4000)
	receiver.SegmentReceived(segment(1<<32-1, "hi", true, false))
	ackno, _ := receiver.Ackno()
	assert.Equal(t, seqnum.Value(2), ackno)
	assert.Equal(t, "hi", string(receiver.StreamOut().Read(2)))
}

func TestReceiverIgnoresDuplicateSyn(t *testing.T) {
	receiver := NewTCPReceiver(4000)
	receiver.SegmentReceived(segment(10, "", true, false))
	receiver.SegmentReceived(segment(500, "junk", true, false))
	ackno, _ := receiver.Ackno()
	assert.Equal(t, seqnum.Value(11), ackno)
	assert.Equal(t, uint64(0), receiver.StreamOut().BytesWritten())

	receiver.SegmentReceived(segment(11, "ok", false, false))
	ackno, _ = receiver.Ackno()
	assert.Equal(t, seqnum.Value(13), ackno)
}

func TestReceiverOutOfOrder(t *testing.T) {
	receiver := NewTCPReceiver(4000)
	receiver.SegmentReceived(segment(0, "", true, false))
	receiver.SegmentReceived(segment(4, "def", false, true))
	ackno, _ := receiver.Ackno()
	assert.Equal(t, seqnum.Value(1), ackno)
	assert.Equal(t, 3, receiver.UnassembledBytes())
	assert.Equal(t, ReceiverSynchronized, receiver.State())

	receiver.SegmentReceived(segment(1, "abc", false, false))
	ackno, _ = receiver.Ackno()
	assert.Equal(t, seqnum.Value(8), ackno)
	assert.Equal(t, ReceiverClosed, receiver.State())
	assert.Equal(t, "abcdef", string(receiver.StreamOut().Read(6)))
}

func TestReceiverDropsDataAtSynSeqno(t *testing.T) {
	receiver := NewTCPReceiver(4000)
	receiver.SegmentReceived(segment(0, "", true, false))
	receiver.SegmentReceived(segment(0, "x", false, false))
	assert.Equal(t, uint64(0), receiver.StreamOut().BytesWritten())
	assert.Equal(t, 0, receiver.UnassembledBytes())
}

func TestReceiverWindowSize(t *testing.T) {
	receiver := NewTCPReceiver(10)
	assert.Equal(t, uint16(10), receiver.WindowSize())
	receiver.SegmentReceived(segment(0, "", true, false))
	receiver.SegmentReceived(segment(1, "abcd", false, false))
	assert.Equal(t, uint16(6), receiver.WindowSize())
	receiver.StreamOut().Read(2)
	assert.Equal(t, uint16(8), receiver.WindowSize())

	big := NewTCPReceiver(100000)
	assert.Equal(t, uint16(0xffff), big.WindowSize())
}

func TestReceiverWrappedSeqnos(t *testing.T) {
	receiver := NewTCPReceiver(4000)
	isn := seqnum.Value(1<<32 - 2)
	receiver.SegmentReceived(segment(isn, "", true, false))
	receiver.SegmentReceived(segment(isn+1, "ab", false, false))
	receiver.SegmentReceived(segment(isn+3, "cd", false, false))
	ackno, _ := receiver.Ackno()
	assert.Equal(t, seqnum.Value(3), ackno)
	assert.Equal(t, "abcd", string(receiver.StreamOut().Read(4)))
}

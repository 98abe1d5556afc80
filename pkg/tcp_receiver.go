package protocol

import (
	"github.com/google/netstack/tcpip/seqnum"
)

type ReceiverState int

const (
	ReceiverListen       ReceiverState = iota // waiting for SYN
	ReceiverSynchronized                      // SYN seen, stream open
	ReceiverClosed                            // FIN seen and assembled
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverListen:
		return "LISTEN"
	case ReceiverSynchronized:
		return "SYN_RECV"
	case ReceiverClosed:
		return "FIN_RECV"
	}
	return "UNKNOWN"
}

// TCPReceiver turns inbound segments into the inbound byte stream and
// computes the ackno and window to advertise back to the peer.
type TCPReceiver struct {
	reassembler *StreamReassembler
	isn         seqnum.Value // peer's ISN, valid once synchronized
	state       ReceiverState
}

func NewTCPReceiver(capacity int) *TCPReceiver {
	return &TCPReceiver{
		reassembler: NewStreamReassembler(capacity),
	}
}

func (receiver *TCPReceiver) SegmentReceived(seg TCPSegment) {
	hdr := seg.Header
	if receiver.state == ReceiverListen {
		if !hdr.Syn {
			return
		}
		receiver.isn = hdr.Seqno
		receiver.state = ReceiverSynchronized
	} else if hdr.Syn {
		// duplicate SYN
		return
	}

	// the next byte to be assembled, in absolute sequence space
	checkpoint := receiver.StreamOut().BytesWritten() + 1
	absSeqno := Unwrap(hdr.Seqno, receiver.isn, checkpoint)

	var index uint64
	if hdr.Syn {
		index = 0
	} else if absSeqno == 0 {
		// only the SYN may occupy absolute seqno 0
		return
	} else {
		index = absSeqno - 1
	}

	receiver.reassembler.PushSubstring(seg.Payload, index, hdr.Fin)
	if receiver.StreamOut().InputEnded() {
		receiver.state = ReceiverClosed
	}
}

// Ackno returns the first sequence number not yet received, or false before
// the SYN has arrived.
func (receiver *TCPReceiver) Ackno() (seqnum.Value, bool) {
	if receiver.state == ReceiverListen {
		return 0, false
	}
	// plus one for the SYN, plus one more once the FIN is assembled
	abs := receiver.StreamOut().BytesWritten() + 1
	if receiver.StreamOut().InputEnded() {
		abs++
	}
	return Wrap(abs, receiver.isn), true
}

func (receiver *TCPReceiver) WindowSize() uint16 {
	return uint16(min(receiver.StreamOut().RemainingCapacity(), 0xffff))
}

func (receiver *TCPReceiver) UnassembledBytes() int {
	return receiver.reassembler.UnassembledBytes()
}

func (receiver *TCPReceiver) StreamOut() *ByteStream {
	return receiver.reassembler.StreamOut()
}

func (receiver *TCPReceiver) State() ReceiverState { return receiver.state }

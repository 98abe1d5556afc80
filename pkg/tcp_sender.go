package protocol

import (
	"math/rand/v2"

	"tcp-tcp-team-pa/lnxconfig"
	"tcp-tcp-team-pa/priorityQueue"

	"github.com/google/netstack/tcpip/seqnum"
)

type SenderState int

const (
	SenderClosed   SenderState = iota // nothing sent yet
	SenderSynSent                     // SYN in flight
	SenderSynAcked                    // SYN acknowledged, stream open
	SenderFinSent                     // FIN in flight
	SenderFinAcked                    // everything acknowledged
)

func (s SenderState) String() string {
	switch s {
	case SenderClosed:
		return "CLOSED"
	case SenderSynSent:
		return "SYN_SENT"
	case SenderSynAcked:
		return "SYN_ACKED"
	case SenderFinSent:
		return "FIN_SENT"
	case SenderFinAcked:
		return "FIN_ACKED"
	}
	return "UNKNOWN"
}

// TCPSender reads its outbound stream, cuts it into segments, tracks which
// of them are still unacknowledged and retransmits the oldest one when the
// retransmission timer expires.
type TCPSender struct {
	isn         seqnum.Value
	stream      *ByteStream
	segmentsOut []TCPSegment
	outstanding priorityQueue.PriorityQueue[TCPSegment]
	state       SenderState

	nextSeqno  uint64 // absolute seqno of the next byte to send
	ackedSeqno uint64 // absolute seqno of the first unacknowledged byte
	window     uint16 // as advertised by the peer

	maxPayload      int
	initialRTO      uint64
	rto             uint64
	timeElapsed     uint64 // ms since the timer was (re)started
	consecutiveRetx uint
}

func NewTCPSender(cfg lnxconfig.TCPConfig) *TCPSender {
	isn := seqnum.Value(rand.Uint32())
	if cfg.FixedISN != nil {
		isn = seqnum.Value(*cfg.FixedISN)
	}
	return &TCPSender{
		isn:        isn,
		stream:     NewByteStream(cfg.SendCapacity),
		window:     1, // room for the SYN until the peer says otherwise
		maxPayload: cfg.MaxPayloadSize,
		initialRTO: uint64(cfg.RtTimeout),
		rto:        uint64(cfg.RtTimeout),
	}
}

func (sender *TCPSender) StreamIn() *ByteStream { return sender.stream }
func (sender *TCPSender) State() SenderState { return sender.state }

// FillWindow sends as many segments as the peer's window allows.
func (sender *TCPSender) FillWindow() {
	// a zero window is probed as if it were one byte wide
	window := max(uint64(sender.window), 1)

	for !sender.FinSent() {
		end := sender.ackedSeqno + window
		if sender.nextSeqno >= end {
			return
		}
		seg := TCPSegment{}
		seg.Header.Seqno = Wrap(sender.nextSeqno, sender.isn)
		if sender.state == SenderClosed {
			seg.Header.Syn = true
		}

		room := end - sender.nextSeqno - seg.LengthInSequenceSpace()
		seg.Payload = sender.stream.Read(int(min(room, uint64(sender.maxPayload))))
		if sender.stream.EOF() && sender.nextSeqno+seg.LengthInSequenceSpace() < end {
			seg.Header.Fin = true
		}

		length := seg.LengthInSequenceSpace()
		if length == 0 {
			return
		}
		if seg.Header.Syn {
			sender.state = SenderSynSent
		}
		if seg.Header.Fin {
			sender.state = SenderFinSent
		}
		sender.nextSeqno += length
		sender.segmentsOut = append(sender.segmentsOut, seg)
		sender.outstanding.Push(sender.nextSeqno, seg)
	}
}

// AckReceived processes the peer's ackno and advertised window.
func (sender *TCPSender) AckReceived(ackno seqnum.Value, windowSize uint16) {
	newAck := Unwrap(ackno, sender.isn, sender.ackedSeqno)
	if newAck > sender.nextSeqno {
		// acks something never sent
		return
	}
	sender.window = windowSize

	if newAck > sender.ackedSeqno {
		sender.rto = sender.initialRTO
		sender.timeElapsed = 0
		sender.consecutiveRetx = 0
		sender.ackedSeqno = newAck
		sender.outstanding.PopThrough(newAck)

		if sender.state == SenderSynSent && newAck > 0 {
			sender.state = SenderSynAcked
		}
	}
	if sender.state == SenderFinSent && sender.ackedSeqno == sender.nextSeqno {
		sender.state = SenderFinAcked
	}
}

// Tick tells the sender that msSinceLastTick milliseconds have passed.
func (sender *TCPSender) Tick(msSinceLastTick uint64) {
	oldest, running := sender.outstanding.Peek()
	if !running {
		return
	}
	sender.timeElapsed += msSinceLastTick
	if sender.timeElapsed < sender.rto {
		return
	}

	sender.segmentsOut = append(sender.segmentsOut, oldest.Value)
	sender.consecutiveRetx++
	if sender.window == 0 {
		// keep probing a closed window at the base rate
		sender.rto = sender.initialRTO
	} else {
		sender.rto *= 2
	}
	sender.timeElapsed = 0
}

// SendEmptySegment queues a segment that occupies no sequence space.
func (sender *TCPSender) SendEmptySegment() {
	seg := TCPSegment{}
	seg.Header.Seqno = Wrap(sender.nextSeqno, sender.isn)
	sender.segmentsOut = append(sender.segmentsOut, seg)
}

// DrainSegments hands over every queued segment to the caller.
func (sender *TCPSender) DrainSegments() []TCPSegment {
	out := sender.segmentsOut
	sender.segmentsOut = nil
	return out
}

func (sender *TCPSender) PendingSegments() int { return len(sender.segmentsOut) }

func (sender *TCPSender) BytesInFlight() uint64 {
	return sender.nextSeqno - sender.ackedSeqno
}

func (sender *TCPSender) ConsecutiveRetransmissions() uint { return sender.consecutiveRetx }

func (sender *TCPSender) FinSent() bool {
	return sender.state == SenderFinSent || sender.state == SenderFinAcked
}

func (sender *TCPSender) NextSeqnoAbsolute() uint64 { return sender.nextSeqno }
func (sender *TCPSender) NextSeqno() seqnum.Value { return Wrap(sender.nextSeqno, sender.isn) }
func (sender *TCPSender) ISN() seqnum.Value { return sender.isn }

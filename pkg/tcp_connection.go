package protocol

import (
	"tcp-tcp-team-pa/lnxconfig"
)

// TCPConnection is one endpoint of a TCP connection: a sender for the
// outbound stream and a receiver for the inbound one. The owner feeds it
// segments and the passage of time, and collects the segments it wants to
// transmit with DrainSegments. Not safe for concurrent use.
type TCPConnection struct {
	cfg         lnxconfig.TCPConfig
	sender      *TCPSender
	receiver    *TCPReceiver
	segmentsOut []TCPSegment

	active                   bool
	lingerAfterStreamsFinish bool // false once the peer is known to have closed first
	timeSinceLastSegment     uint64
}

func NewTCPConnection(cfg lnxconfig.TCPConfig) *TCPConnection {
	return &TCPConnection{
		cfg:                      cfg,
		sender:                   NewTCPSender(cfg),
		receiver:                 NewTCPReceiver(cfg.RecvCapacity),
		active:                   true,
		lingerAfterStreamsFinish: true,
	}
}

// Connect sends the opening SYN.
func (conn *TCPConnection) Connect() {
	conn.sender.FillWindow()
	conn.sendSegments()
}

// Write queues data on the outbound stream and returns how much was accepted.
func (conn *TCPConnection) Write(data []byte) int {
	n := conn.sender.StreamIn().Write(data)
	conn.sender.FillWindow()
	conn.sendSegments()
	return n
}

// EndInputStream shuts down the outbound stream. Inbound data can still be read.
func (conn *TCPConnection) EndInputStream() {
	conn.sender.StreamIn().EndInput()
	conn.sender.FillWindow()
	conn.sendSegments()
}

func (conn *TCPConnection) SegmentReceived(seg TCPSegment) {
	if !conn.active {
		return
	}
	if seg.Header.Rst {
		conn.receiver.StreamOut().SetError()
		conn.sender.StreamIn().SetError()
		conn.active = false
		return
	}

	conn.receiver.SegmentReceived(seg)
	ackno, synced := conn.receiver.Ackno()
	if !synced {
		return
	}
	conn.timeSinceLastSegment = 0

	if seg.Header.Ack {
		conn.sender.AckReceived(seg.Header.Ackno, seg.Header.Win)
	}
	conn.sender.FillWindow()

	if seg.LengthInSequenceSpace() > 0 && conn.sender.PendingSegments() == 0 {
		conn.sender.SendEmptySegment()
	}
	// keep-alive probe
	if seg.LengthInSequenceSpace() == 0 && seg.Header.Seqno == ackno-1 {
		conn.sender.SendEmptySegment()
	}
	conn.sendSegments()
}

// Tick tells the connection that msSinceLastTick milliseconds have passed.
func (conn *TCPConnection) Tick(msSinceLastTick uint64) {
	if !conn.active {
		return
	}
	conn.sender.Tick(msSinceLastTick)
	conn.timeSinceLastSegment += msSinceLastTick

	if conn.sender.ConsecutiveRetransmissions() > conn.cfg.MaxRetxAttempts {
		conn.uncleanClose()
		return
	}
	conn.sendSegments()
}

// sendSegments stamps every segment the sender queued with the receiver's
// ackno and window and moves it to the outbound queue.
func (conn *TCPConnection) sendSegments() {
	ackno, synced := conn.receiver.Ackno()
	for _, seg := range conn.sender.DrainSegments() {
		if synced {
			seg.Header.Ack = true
			seg.Header.Ackno = ackno
			seg.Header.Win = conn.receiver.WindowSize()
		}
		conn.segmentsOut = append(conn.segmentsOut, seg)
	}
	conn.cleanClose()
}

func (conn *TCPConnection) cleanClose() {
	inboundDone := conn.receiver.StreamOut().EOF()
	finSent := conn.sender.FinSent()
	nothingInFlight := conn.sender.BytesInFlight() == 0

	if inboundDone && !finSent {
		// the peer closed first
		conn.lingerAfterStreamsFinish = false
	}
	if !(inboundDone && finSent && nothingInFlight) {
		return
	}
	if !conn.lingerAfterStreamsFinish || conn.timeSinceLastSegment >= 10*uint64(conn.cfg.RtTimeout) {
		conn.active = false
	}
}

func (conn *TCPConnection) uncleanClose() {
	conn.receiver.StreamOut().SetError()
	conn.sender.StreamIn().SetError()

	// whatever the sender still had queued is superseded by the reset
	conn.sender.DrainSegments()
	conn.sender.SendEmptySegment()
	rst := conn.sender.DrainSegments()[0]
	rst.Header.Rst = true
	if ackno, synced := conn.receiver.Ackno(); synced {
		rst.Header.Ack = true
		rst.Header.Ackno = ackno
		rst.Header.Win = conn.receiver.WindowSize()
	}
	conn.segmentsOut = append(conn.segmentsOut, rst)
	conn.active = false
}

// Shutdown releases the connection. A connection that is still active is
// reset so the peer does not have to time it out.
func (conn *TCPConnection) Shutdown() {
	if conn.active {
		conn.uncleanClose()
	}
}

// Read consumes up to n bytes of the inbound stream.
func (conn *TCPConnection) Read(n int) []byte {
	out := conn.receiver.StreamOut().Read(n)
	conn.cleanClose()
	return out
}

// DrainSegments hands over every segment waiting to be transmitted.
func (conn *TCPConnection) DrainSegments() []TCPSegment {
	out := conn.segmentsOut
	conn.segmentsOut = nil
	return out
}

func (conn *TCPConnection) InboundStream() *ByteStream { return conn.receiver.StreamOut() }

func (conn *TCPConnection) RemainingOutboundCapacity() int {
	return conn.sender.StreamIn().RemainingCapacity()
}

func (conn *TCPConnection) BytesInFlight() uint64 { return conn.sender.BytesInFlight() }

func (conn *TCPConnection) UnassembledBytes() int { return conn.receiver.UnassembledBytes() }

func (conn *TCPConnection) TimeSinceLastSegmentReceived() uint64 { return conn.timeSinceLastSegment }

func (conn *TCPConnection) Active() bool { return conn.active }

func (conn *TCPConnection) Sender() *TCPSender { return conn.sender }

func (conn *TCPConnection) Receiver() *TCPReceiver { return conn.receiver }

// State summarizes sender, receiver and connection flags as an RFC 793 state name.
func (conn *TCPConnection) State() string {
	if !conn.active {
		if conn.sender.StreamIn().Error() && conn.receiver.StreamOut().Error() {
			return "RESET"
		}
		return "CLOSED"
	}
	rs, ss := conn.receiver.State(), conn.sender.State()
	switch {
	case rs == ReceiverListen && ss == SenderClosed:
		return "LISTEN"
	case rs == ReceiverListen && ss == SenderSynSent:
		return "SYN_SENT"
	case rs == ReceiverSynchronized && ss == SenderSynSent:
		return "SYN_RCVD"
	case rs == ReceiverSynchronized && ss == SenderSynAcked:
		return "ESTABLISHED"
	case rs == ReceiverClosed && ss == SenderSynAcked:
		return "CLOSE_WAIT"
	case rs == ReceiverClosed && ss == SenderFinSent && !conn.lingerAfterStreamsFinish:
		return "LAST_ACK"
	case rs == ReceiverClosed && ss == SenderFinSent:
		return "CLOSING"
	case rs == ReceiverSynchronized && ss == SenderFinSent:
		return "FIN_WAIT_1"
	case rs == ReceiverSynchronized && ss == SenderFinAcked:
		return "FIN_WAIT_2"
	case rs == ReceiverClosed && ss == SenderFinAcked:
		return "TIME_WAIT"
	}
	return "ERROR"
}

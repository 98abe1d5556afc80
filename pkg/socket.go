package protocol

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tcp-tcp-team-pa/lnxconfig"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const acceptBacklog = 16

var (
	ErrSocketNotFound   = errors.New("socket not found")
	ErrPortInUse        = errors.New("port already in use")
	ErrListenerClosed   = errors.New("listener closed")
	ErrConnectionReset  = errors.New("connection reset")
	ErrConnectionClosed = errors.New("connection closed")
)

// IPSender is the part of the IP layer the TCP stack transmits through.
type IPSender interface {
	SendIP(dest netip.Addr, protocolNum int, data []byte) error
}

type FourTuple struct {
	remotePort uint16
	remoteAddr netip.Addr
	srcPort    uint16
	srcAddr    netip.Addr
}

type TCPListener struct {
	ID          uint16
	LocalPort   uint16
	TCPStack    *TCPStack
	ConnCreated chan *TCPConn
	closed      bool
}

// TCPConn is a normal socket: one TCPConnection plus its addressing.
type TCPConn struct {
	ID         uint16
	LocalPort  uint16
	LocalAddr  netip.Addr
	RemotePort uint16
	RemoteAddr netip.Addr
	TCPStack   *TCPStack
	Conn       *TCPConnection

	listener *TCPListener // set until handed to VAccept
	// signalled whenever the connection makes progress
	RecvBufferHasData chan struct{}
	SendSpaceOpen     chan struct{}
}

// TCPStack owns every socket on a host. All access to the connections goes
// through Mutex, so each TCPConnection only ever sees serialized calls.
type TCPStack struct {
	ListenTable      map[uint16]*TCPListener
	ConnectionsTable map[FourTuple]*TCPConn
	SocketIDToConn   map[uint16]FourTuple
	IP               netip.Addr
	NextSocketID     uint16 // unique ID for each sockets per node
	IPStack          IPSender
	Config           lnxconfig.TCPConfig
	Logger           *zap.Logger
	Mutex            sync.Mutex
}

func NewTCPStack(localIP netip.Addr, ipStack IPSender, cfg lnxconfig.TCPConfig, logger *zap.Logger) *TCPStack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPStack{
		ListenTable:      make(map[uint16]*TCPListener),
		ConnectionsTable: make(map[FourTuple]*TCPConn),
		SocketIDToConn:   make(map[uint16]FourTuple),
		IP:               localIP,
		IPStack:          ipStack,
		Config:           cfg,
		Logger:           logger.With(zap.Stringer("host", localIP)),
	}
}

func (stack *TCPStack) VListen(port uint16) (*TCPListener, error) {
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()

	if _, exists := stack.ListenTable[port]; exists {
		return nil, errors.Wrapf(ErrPortInUse, "port %d", port)
	}
	tcpListener := &TCPListener{
		ID:          stack.NextSocketID,
		LocalPort:   port,
		TCPStack:    stack,
		ConnCreated: make(chan *TCPConn, acceptBacklog),
	}
	stack.SocketIDToConn[stack.NextSocketID] = FourTuple{srcPort: port}
	stack.ListenTable[port] = tcpListener
	stack.NextSocketID++
	return tcpListener, nil
}

// VAccept blocks until a connection on the listener's port is established.
func (tcpListener *TCPListener) VAccept() (*TCPConn, error) {
	tcpConn, ok := <-tcpListener.ConnCreated
	if !ok {
		return nil, ErrListenerClosed
	}
	return tcpConn, nil
}

func (tcpListener *TCPListener) VClose() {
	stack := tcpListener.TCPStack
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()
	stack.closeListener(tcpListener)
}

func (stack *TCPStack) closeListener(tcpListener *TCPListener) {
	if tcpListener.closed {
		return
	}
	tcpListener.closed = true
	delete(stack.ListenTable, tcpListener.LocalPort)
	delete(stack.SocketIDToConn, tcpListener.ID)
	close(tcpListener.ConnCreated)
}

// VConnect starts an active open. The returned socket is in SYN_SENT.
func (stack *TCPStack) VConnect(remoteAddr netip.Addr, remotePort uint16) (*TCPConn, error) {
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()

	var tuple FourTuple
	for {
		// Generate a random port number
		port := uint16(20000 + rand.IntN(65535-20000))
		tuple = FourTuple{remotePort: remotePort, remoteAddr: remoteAddr, srcPort: port, srcAddr: stack.IP}
		if _, taken := stack.ConnectionsTable[tuple]; !taken {
			break
		}
	}
	tcpConn := stack.newConn(tuple)
	tcpConn.Conn.Connect()
	stack.flush(tcpConn)
	stack.Logger.Info("connecting", zap.Uint16("socket", tcpConn.ID), zap.Stringer("remote", netip.AddrPortFrom(remoteAddr, remotePort)))
	return tcpConn, nil
}

func (stack *TCPStack) newConn(tuple FourTuple) *TCPConn {
	tcpConn := &TCPConn{
		ID:                stack.NextSocketID,
		LocalPort:         tuple.srcPort,
		LocalAddr:         tuple.srcAddr,
		RemotePort:        tuple.remotePort,
		RemoteAddr:        tuple.remoteAddr,
		TCPStack:          stack,
		Conn:              NewTCPConnection(stack.Config),
		RecvBufferHasData: make(chan struct{}, 1),
		SendSpaceOpen:     make(chan struct{}, 1),
	}
	stack.SocketIDToConn[tcpConn.ID] = tuple
	stack.ConnectionsTable[tuple] = tcpConn
	stack.NextSocketID++
	return tcpConn
}

// TCPHandler is registered with the IP layer for protocol 6.
func (stack *TCPStack) TCPHandler(packet *IPPacket) {
	ipHdr := packet.Header
	seg, tcpHdr, err := UnmarshalTCPSegment(packet.Payload, ipHdr.Src, ipHdr.Dst)
	if err != nil {
		stack.Logger.Debug("dropping segment", zap.Stringer("src", ipHdr.Src), zap.Error(err))
		return
	}

	tuple := FourTuple{
		remotePort: tcpHdr.SrcPort,
		remoteAddr: ipHdr.Src,
		srcPort:    tcpHdr.DstPort,
		srcAddr:    ipHdr.Dst,
	}

	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()

	tcpConn, exists := stack.ConnectionsTable[tuple]
	if !exists {
		listener, listening := stack.ListenTable[tuple.srcPort]
		if !listening || !seg.Header.Syn || seg.Header.Ack || seg.Header.Rst {
			stack.Logger.Debug("no socket for segment", zap.Stringer("seg", seg), zap.Uint16("port", tuple.srcPort))
			return
		}
		tcpConn = stack.newConn(tuple)
		tcpConn.listener = listener
	}

	tcpConn.Conn.SegmentReceived(seg)
	if seg.Header.Rst {
		stack.Logger.Info("connection reset by peer", zap.Uint16("socket", tcpConn.ID))
	}
	stack.flush(tcpConn)
	stack.deliver(tcpConn)
	tcpConn.notify()
}

// deliver hands a freshly established passive connection to its listener.
func (stack *TCPStack) deliver(tcpConn *TCPConn) {
	listener := tcpConn.listener
	if listener == nil || tcpConn.Conn.Sender().State() == SenderSynSent {
		return
	}
	tcpConn.listener = nil
	if listener.closed || !tcpConn.Conn.Active() {
		return
	}
	select {
	case listener.ConnCreated <- tcpConn:
	default:
		stack.Logger.Info("accept backlog full, resetting", zap.Uint16("socket", tcpConn.ID))
		tcpConn.Conn.Shutdown()
		stack.flush(tcpConn)
	}
}

// flush transmits everything the connection queued and reaps it once it is
// no longer active.
func (stack *TCPStack) flush(tcpConn *TCPConn) {
	for _, seg := range tcpConn.Conn.DrainSegments() {
		payload := seg.Marshal(tcpConn.LocalPort, tcpConn.RemotePort, tcpConn.LocalAddr, tcpConn.RemoteAddr)
		if err := stack.IPStack.SendIP(tcpConn.RemoteAddr, TCPProtocol, payload); err != nil {
			stack.Logger.Debug("sending segment", zap.Uint16("socket", tcpConn.ID), zap.Error(err))
		}
	}
	if !tcpConn.Conn.Active() {
		stack.remove(tcpConn)
	}
}

func (stack *TCPStack) remove(tcpConn *TCPConn) {
	tuple := stack.SocketIDToConn[tcpConn.ID]
	if stack.ConnectionsTable[tuple] != tcpConn {
		return
	}
	delete(stack.ConnectionsTable, tuple)
	delete(stack.SocketIDToConn, tcpConn.ID)
	stack.Logger.Info("socket closed", zap.Uint16("socket", tcpConn.ID), zap.String("state", tcpConn.Conn.State()))
	tcpConn.notify()
}

func (tcpConn *TCPConn) notify() {
	select {
	case tcpConn.RecvBufferHasData <- struct{}{}:
	default:
	}
	select {
	case tcpConn.SendSpaceOpen <- struct{}{}:
	default:
	}
}

// Tick advances every connection's clock by ms milliseconds.
func (stack *TCPStack) Tick(ms uint64) {
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()
	for _, tcpConn := range stack.ConnectionsTable {
		wasActive := tcpConn.Conn.Active()
		tcpConn.Conn.Tick(ms)
		if wasActive && tcpConn.Conn.InboundStream().Error() {
			stack.Logger.Info("too many retransmissions, aborting", zap.Uint16("socket", tcpConn.ID))
		}
		stack.flush(tcpConn)
		tcpConn.notify()
	}
}

// Run ticks the stack every period until ctx is done, then resets every
// connection that is still open.
func (stack *TCPStack) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			stack.Close()
			return
		case now := <-ticker.C:
			var ms uint64
			ms, last = elapsedMillis(last, now)
			stack.Tick(ms)
		}
	}
}

// elapsedMillis returns the whole milliseconds from last to now and the
// instant they end at, so the remainder carries into the next tick.
func elapsedMillis(last, now time.Time) (uint64, time.Time) {
	d := now.Sub(last)
	if d <= 0 {
		return 0, last
	}
	ms := d.Milliseconds()
	return uint64(ms), last.Add(time.Duration(ms) * time.Millisecond)
}

// Close aborts every open connection and closes every listener.
func (stack *TCPStack) Close() {
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()
	for _, tcpConn := range stack.ConnectionsTable {
		tcpConn.Conn.Shutdown()
		stack.flush(tcpConn)
	}
	for _, listener := range stack.ListenTable {
		stack.closeListener(listener)
	}
}

// VWrite blocks until all of data has been accepted into the send buffer.
func (tcpConn *TCPConn) VWrite(data []byte) (int, error) {
	stack := tcpConn.TCPStack
	written := 0
	for {
		stack.Mutex.Lock()
		if !tcpConn.Conn.Active() || tcpConn.Conn.Sender().StreamIn().InputEnded() {
			err := tcpConn.closedErr()
			stack.Mutex.Unlock()
			return written, err
		}
		written += tcpConn.Conn.Write(data[written:])
		stack.flush(tcpConn)
		stack.Mutex.Unlock()

		if written == len(data) {
			return written, nil
		}
		<-tcpConn.SendSpaceOpen
	}
}

// VRead blocks until at least one byte is available and reads up to
// len(buf) bytes. It returns io.EOF once the peer has closed and every byte
// has been read.
func (tcpConn *TCPConn) VRead(buf []byte) (int, error) {
	stack := tcpConn.TCPStack
	for {
		stack.Mutex.Lock()
		inbound := tcpConn.Conn.InboundStream()
		if inbound.BufferSize() > 0 && len(buf) > 0 {
			n := copy(buf, tcpConn.Conn.Read(len(buf)))
			stack.flush(tcpConn)
			stack.Mutex.Unlock()
			return n, nil
		}
		if inbound.Error() {
			stack.Mutex.Unlock()
			return 0, ErrConnectionReset
		}
		if inbound.EOF() || !tcpConn.Conn.Active() {
			stack.Mutex.Unlock()
			return 0, io.EOF
		}
		stack.Mutex.Unlock()
		<-tcpConn.RecvBufferHasData
	}
}

// VClose ends the outbound stream. The connection finishes closing in the
// background once both directions are done.
func (tcpConn *TCPConn) VClose() error {
	stack := tcpConn.TCPStack
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()
	if !tcpConn.Conn.Active() {
		return tcpConn.closedErr()
	}
	tcpConn.Conn.EndInputStream()
	stack.flush(tcpConn)
	return nil
}

// VAbort resets the connection immediately.
func (tcpConn *TCPConn) VAbort() {
	stack := tcpConn.TCPStack
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()
	tcpConn.Conn.Shutdown()
	stack.flush(tcpConn)
}

func (tcpConn *TCPConn) State() string {
	stack := tcpConn.TCPStack
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()
	return tcpConn.Conn.State()
}

func (tcpConn *TCPConn) closedErr() error {
	if tcpConn.Conn.InboundStream().Error() {
		return ErrConnectionReset
	}
	return ErrConnectionClosed
}

// Socket looks up a normal socket by ID.
func (stack *TCPStack) Socket(socketID uint16) (*TCPConn, error) {
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()
	tuple, exists := stack.SocketIDToConn[socketID]
	if !exists {
		return nil, errors.Wrapf(ErrSocketNotFound, "socket %d", socketID)
	}
	tcpConn, exists := stack.ConnectionsTable[tuple]
	if !exists {
		return nil, errors.Wrapf(ErrSocketNotFound, "socket %d is a listen socket", socketID)
	}
	return tcpConn, nil
}

func (stack *TCPStack) ListSockets() string {
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()

	ids := make([]int, 0, len(stack.SocketIDToConn))
	for id := range stack.SocketIDToConn {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var sb strings.Builder
	sb.WriteString("SID  LAddr           LPort      RAddr          RPort    Status")
	for _, id := range ids {
		tuple := stack.SocketIDToConn[uint16(id)]
		state := "LISTEN"
		if tcpConn, connExists := stack.ConnectionsTable[tuple]; connExists {
			state = tcpConn.Conn.State()
		}
		fmt.Fprintf(&sb, "\n%-4s %-15s %-10d %-14s %-8d %s",
			strconv.Itoa(id), formatAddr(tuple.srcAddr), tuple.srcPort, formatAddr(tuple.remoteAddr), tuple.remotePort, state)
	}
	return sb.String()
}

func formatAddr(addr netip.Addr) string {
	// Check if addr is equal to the zero value of netip.Addr
	if !addr.IsValid() {
		return "*"
	}
	return addr.String()
}

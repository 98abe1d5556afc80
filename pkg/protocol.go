package protocol

import (
	"net/netip"
	"strconv"
	"sync"

	"tcp-tcp-team-pa/iptcp_utils"
	"tcp-tcp-team-pa/lnxconfig"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultTTL  = 16
	TCPProtocol = 6
)

var (
	ErrInterfaceDown = errors.New("interface is down")
	ErrNoRoute       = errors.New("no route to host")
)

type HandlerFunc = func(*IPPacket)

type IPPacket struct {
	Header  ipv4header.IPv4Header
	Payload []byte
}

// LinkConn is the datagram socket an interface sends its packets over.
// *net.UDPConn satisfies it.
type LinkConn interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	Close() error
}

type Interface struct {
	Name      string                        // the name of the interface
	IP        netip.Addr                    // the IP address of the interface on this host
	Prefix    netip.Prefix                  // the network submask/prefix
	Neighbors map[netip.Addr]netip.AddrPort // maps (virtual) IPs to UDP addresses
	Udp       netip.AddrPort                // the UDP address of the interface on this host
	Down      bool                          // whether the interface is down or not
	Conn      LinkConn                      // listen to incoming UDP packets
}

// IPStack is the datagram boundary of a host: it wraps transport payloads in
// IPv4 headers and hands them to a directly connected neighbor, and it
// unwraps inbound packets addressed to this host for the registered handlers.
// It does not forward.
type IPStack struct {
	Iface        *Interface
	HandlerTable map[int]HandlerFunc // maps protocol numbers to handlers
	Logger       *zap.Logger
	Mutex        sync.RWMutex
}

func NewIPStack(configInfo *lnxconfig.IPConfig, conn LinkConn, logger *zap.Logger) *IPStack {
	if logger == nil {
		logger = zap.NewNop()
	}
	iface := &Interface{
		Name:      configInfo.Interface.Name,
		IP:        configInfo.Interface.AssignedIP,
		Prefix:    configInfo.Interface.AssignedPrefix,
		Udp:       configInfo.Interface.UDPAddr,
		Neighbors: make(map[netip.Addr]netip.AddrPort),
		Conn:      conn,
	}
	for _, neighbor := range configInfo.Neighbors {
		iface.Neighbors[neighbor.DestAddr] = neighbor.UDPAddr
	}
	return &IPStack{
		Iface:        iface,
		HandlerTable: make(map[int]HandlerFunc),
		Logger:       logger.With(zap.String("iface", iface.Name)),
	}
}

func (stack *IPStack) RegisterRecvHandler(protocolNum int, handler HandlerFunc) {
	stack.Mutex.Lock()
	defer stack.Mutex.Unlock()
	stack.HandlerTable[protocolNum] = handler
}

func (stack *IPStack) LocalAddr() netip.Addr {
	return stack.Iface.IP
}

func (stack *IPStack) SendIP(dest netip.Addr, protocolNum int, data []byte) error {
	stack.Mutex.RLock()
	down := stack.Iface.Down
	nextHop, exists := stack.Iface.Neighbors[dest]
	stack.Mutex.RUnlock()
	if down {
		return ErrInterfaceDown
	}
	if !exists {
		return errors.Wrapf(ErrNoRoute, "%s", dest)
	}

	bytesToSend, err := stack.marshalPacket(dest, protocolNum, data)
	if err != nil {
		return err
	}
	if _, err := stack.Iface.Conn.WriteToUDPAddrPort(bytesToSend, nextHop); err != nil {
		return errors.Wrapf(err, "sending to %s", nextHop)
	}
	return nil
}

func (stack *IPStack) marshalPacket(dest netip.Addr, protocolNum int, data []byte) ([]byte, error) {
	// Construct IP packet header
	hdr := ipv4header.IPv4Header{
		Version:  4,
		Len:      ipv4header.HeaderLen, // no IP options
		TOS:      0,
		TotalLen: ipv4header.HeaderLen + len(data),
		ID:       0,
		Flags:    0,
		FragOff:  0,
		TTL:      DefaultTTL,
		Protocol: protocolNum,
		Checksum: 0, // Should be 0 until checksum is computed
		Src:      stack.Iface.IP,
		Dst:      dest,
		Options:  []byte{},
	}
	headerBytes, err := hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshaling ip header")
	}
	hdr.Checksum = int(iptcp_utils.ComputeIPChecksum(headerBytes))
	headerBytes, err = hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshaling ip header")
	}

	bytesToSend := make([]byte, 0, len(headerBytes)+len(data))
	bytesToSend = append(bytesToSend, headerBytes...)
	bytesToSend = append(bytesToSend, data...)
	return bytesToSend, nil
}

// HandleDatagram validates one raw IPv4 packet and dispatches it.
func (stack *IPStack) HandleDatagram(b []byte) error {
	hdr, err := ipv4header.ParseHeader(b)
	if err != nil {
		return errors.Wrap(err, "parsing ip header")
	}
	if hdr.Len > len(b) || hdr.TotalLen > len(b) || hdr.TotalLen < hdr.Len {
		return errors.Errorf("bad lengths: header %d, total %d, got %d", hdr.Len, hdr.TotalLen, len(b))
	}
	if !iptcp_utils.ValidateIPChecksum(b[:hdr.Len]) {
		return errors.New("bad ip checksum")
	}
	if hdr.TTL <= 0 {
		return errors.New("ttl expired")
	}
	if hdr.Dst != stack.Iface.IP {
		return errors.Errorf("not for this host: %s", hdr.Dst)
	}

	stack.Mutex.RLock()
	down := stack.Iface.Down
	handler, exists := stack.HandlerTable[hdr.Protocol]
	stack.Mutex.RUnlock()
	if down {
		return ErrInterfaceDown
	}
	if !exists {
		return errors.Errorf("no handler for protocol %d", hdr.Protocol)
	}
	handler(&IPPacket{Header: *hdr, Payload: b[hdr.Len:hdr.TotalLen]})
	return nil
}

// Receive reads one packet from the link and handles it. Only errors from the
// link itself are returned; bad packets are logged and dropped.
func (stack *IPStack) Receive() error {
	buf := make([]byte, iptcp_utils.MaxVirtualPacketSize)
	n, from, err := stack.Iface.Conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return err
	}
	if err := stack.HandleDatagram(buf[:n]); err != nil {
		stack.Logger.Debug("dropping packet", zap.Stringer("from", from), zap.Error(err))
	}
	return nil
}

// Listen receives until the link is closed.
func (stack *IPStack) Listen() {
	for {
		if err := stack.Receive(); err != nil {
			stack.Logger.Info("link closed", zap.Error(err))
			return
		}
	}
}

func (stack *IPStack) Down() {
	stack.Mutex.Lock()
	stack.Iface.Down = true
	stack.Mutex.Unlock()
}

func (stack *IPStack) Up() {
	stack.Mutex.Lock()
	stack.Iface.Down = false
	stack.Mutex.Unlock()
}

// REPL commands
func (stack *IPStack) Li() string {
	stack.Mutex.RLock()
	defer stack.Mutex.RUnlock()
	iface := stack.Iface
	res := "Name Addr/Prefix  State"
	res += "\n" + iface.Name + "  " + iface.IP.String() + "/" + strconv.Itoa(iface.Prefix.Bits())
	if iface.Down {
		res += "  down"
	} else {
		res += "  up"
	}
	return res
}

func (stack *IPStack) Ln() string {
	stack.Mutex.RLock()
	defer stack.Mutex.RUnlock()
	res := "Iface VIP        UDPAddr"
	if stack.Iface.Down {
		return res
	}
	for neighborIp, neighborAddrPort := range stack.Iface.Neighbors {
		res += "\n" + stack.Iface.Name + "   " + neighborIp.String() + "   " + neighborAddrPort.String()
	}
	return res
}

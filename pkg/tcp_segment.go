package protocol

import (
	"net/netip"
	"strconv"
	"strings"

	"tcp-tcp-team-pa/iptcp_utils"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
)

type TCPHeader struct {
	Seqno seqnum.Value
	Ackno seqnum.Value // valid only if Ack is set
	Syn   bool
	Fin   bool
	Rst   bool
	Ack   bool
	Win   uint16
}

type TCPSegment struct {
	Header  TCPHeader
	Payload []byte
}

// LengthInSequenceSpace is the payload length plus one for SYN and one for FIN.
func (seg TCPSegment) LengthInSequenceSpace() uint64 {
	length := uint64(len(seg.Payload))
	if seg.Header.Syn {
		length++
	}
	if seg.Header.Fin {
		length++
	}
	return length
}

func (hdr TCPHeader) flags() uint8 {
	var flags uint8
	if hdr.Fin {
		flags |= header.TCPFlagFin
	}
	if hdr.Syn {
		flags |= header.TCPFlagSyn
	}
	if hdr.Rst {
		flags |= header.TCPFlagRst
	}
	if hdr.Ack {
		flags |= header.TCPFlagAck
	}
	return flags
}

// Marshal serializes the segment as a checksummed TCP header plus payload,
// ready to become the payload of an IP packet.
func (seg TCPSegment) Marshal(srcPort, dstPort uint16, srcIP, dstIP netip.Addr) []byte {
	tcpHeader := header.TCPFields{
		SrcPort:    srcPort,
		DstPort:    dstPort,
		SeqNum:     uint32(seg.Header.Seqno),
		WindowSize: seg.Header.Win,
		Flags:      seg.Header.flags(),
	}
	if seg.Header.Ack {
		tcpHeader.AckNum = uint32(seg.Header.Ackno)
	}
	return iptcp_utils.EncodeTCP(tcpHeader, srcIP, dstIP, seg.Payload)
}

// UnmarshalTCPSegment parses TCP header and payload, verifying the checksum.
func UnmarshalTCPSegment(b []byte, srcIP, dstIP netip.Addr) (TCPSegment, header.TCPFields, error) {
	tcpHdr, payload, err := iptcp_utils.DecodeTCP(b, srcIP, dstIP)
	if err != nil {
		return TCPSegment{}, header.TCPFields{}, err
	}
	seg := TCPSegment{
		Header: TCPHeader{
			Seqno: seqnum.Value(tcpHdr.SeqNum),
			Fin:   tcpHdr.Flags&header.TCPFlagFin != 0,
			Syn:   tcpHdr.Flags&header.TCPFlagSyn != 0,
			Rst:   tcpHdr.Flags&header.TCPFlagRst != 0,
			Ack:   tcpHdr.Flags&header.TCPFlagAck != 0,
			Win:   tcpHdr.WindowSize,
		},
		Payload: append([]byte(nil), payload...),
	}
	if seg.Header.Ack {
		seg.Header.Ackno = seqnum.Value(tcpHdr.AckNum)
	}
	return seg, tcpHdr, nil
}

func (seg TCPSegment) String() string {
	var sb strings.Builder
	sb.WriteString("<SEQ=" + strconv.FormatUint(uint64(seg.Header.Seqno), 10) + ">")
	if seg.Header.Ack {
		sb.WriteString("<ACK=" + strconv.FormatUint(uint64(seg.Header.Ackno), 10) + ">")
	}
	sb.WriteString("<WIN=" + strconv.Itoa(int(seg.Header.Win)) + ">")
	if len(seg.Payload) > 0 {
		sb.WriteString("<DATA=" + strconv.Itoa(len(seg.Payload)) + ">")
	}
	var flags []string
	for _, f := range []struct {
		set  bool
		name string
	}{{seg.Header.Syn, "SYN"}, {seg.Header.Fin, "FIN"}, {seg.Header.Rst, "RST"}, {seg.Header.Ack, "ACK"}} {
		if f.set {
			flags = append(flags, f.name)
		}
	}
	sb.WriteString("[" + strings.Join(flags, ",") + "]")
	return sb.String()
}

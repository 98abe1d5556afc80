package iptcp_utils

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const (
	TcpHeaderLen         = header.TCPMinimumSize
	TcpPseudoHeaderLen   = 12
	IpProtoTcp           = header.TCPProtocolNumber
	MaxVirtualPacketSize = 1400
)

var ErrShortSegment = errors.New("segment shorter than tcp header")

// ComputeTCPChecksum returns the checksum over the pseudo header, the tcp
// header (with its checksum field taken as is) and the payload.
func ComputeTCPChecksum(tcpHdr *header.TCPFields, sourceIP netip.Addr, destIP netip.Addr, payload []byte) uint16 {
	pseudoHeaderBytes := make([]byte, TcpPseudoHeaderLen)

	src := sourceIP.As4()
	dst := destIP.As4()
	copy(pseudoHeaderBytes[0:4], src[:])
	copy(pseudoHeaderBytes[4:8], dst[:])
	pseudoHeaderBytes[8] = 0
	pseudoHeaderBytes[9] = uint8(IpProtoTcp)
	totalLength := TcpHeaderLen + len(payload)
	binary.BigEndian.PutUint16(pseudoHeaderBytes[10:12], uint16(totalLength))

	headerBytes := header.TCP(make([]byte, TcpHeaderLen))
	headerBytes.Encode(tcpHdr)

	checksum := header.Checksum(pseudoHeaderBytes, 0)
	checksum = header.Checksum(headerBytes, checksum)
	checksum = header.Checksum(payload, checksum)

	return checksum ^ 0xffff
}

func ParseTCPHeader(b []byte) (header.TCPFields, error) {
	if len(b) < TcpHeaderLen {
		return header.TCPFields{}, ErrShortSegment
	}
	td := header.TCP(b)
	fields := header.TCPFields{
		SrcPort:    td.SourcePort(),
		DstPort:    td.DestinationPort(),
		SeqNum:     td.SequenceNumber(),
		AckNum:     td.AckNumber(),
		DataOffset: td.DataOffset(),
		Flags:      td.Flags(),
		WindowSize: td.WindowSize(),
		Checksum:   td.Checksum(),
	}
	if int(fields.DataOffset) < TcpHeaderLen || int(fields.DataOffset) > len(b) {
		return header.TCPFields{}, errors.Errorf("bad data offset %d for %d byte segment", fields.DataOffset, len(b))
	}
	return fields, nil
}

// EncodeTCP builds header+payload with a valid checksum.
func EncodeTCP(tcpHdr header.TCPFields, sourceIP netip.Addr, destIP netip.Addr, payload []byte) []byte {
	tcpHdr.DataOffset = TcpHeaderLen
	tcpHdr.Checksum = 0
	tcpHdr.Checksum = ComputeTCPChecksum(&tcpHdr, sourceIP, destIP, payload)

	out := make([]byte, TcpHeaderLen, TcpHeaderLen+len(payload))
	header.TCP(out).Encode(&tcpHdr)
	return append(out, payload...)
}

// DecodeTCP parses and verifies a segment, returning header and payload.
func DecodeTCP(b []byte, sourceIP netip.Addr, destIP netip.Addr) (header.TCPFields, []byte, error) {
	tcpHdr, err := ParseTCPHeader(b)
	if err != nil {
		return header.TCPFields{}, nil, err
	}
	if tcpHdr.DataOffset != TcpHeaderLen {
		return header.TCPFields{}, nil, errors.Errorf("tcp options not supported (data offset %d)", tcpHdr.DataOffset)
	}
	payload := b[tcpHdr.DataOffset:]

	fromHeader := tcpHdr.Checksum
	tcpHdr.Checksum = 0
	computed := ComputeTCPChecksum(&tcpHdr, sourceIP, destIP, payload)
	if computed != fromHeader {
		return header.TCPFields{}, nil, errors.Errorf("bad tcp checksum: got %#04x, want %#04x", fromHeader, computed)
	}
	tcpHdr.Checksum = fromHeader
	return tcpHdr, payload, nil
}

// ComputeIPChecksum returns the header checksum for an IPv4 header whose
// checksum field is zero.
func ComputeIPChecksum(headerBytes []byte) uint16 {
	checksum := header.Checksum(headerBytes, 0)
	return checksum ^ 0xffff
}

// ValidateIPChecksum checks a marshaled header against the checksum it carries.
func ValidateIPChecksum(headerBytes []byte) bool {
	// summing a header including a correct checksum gives 0xffff
	return header.Checksum(headerBytes, 0) == 0xffff
}

package lnxconfig

import (
	"net/netip"
	"time"

	"tcp-tcp-team-pa/iptcp_utils"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	DEFAULT_CAPACITY  = 64000
	TIMEOUT_DFLT      = 1000 // initial retransmission timeout (ms)
	MAX_RETX_ATTEMPTS = 8
	MAX_PAYLOAD_SIZE  = 1000

	// virtual packet size - IP header size - TCP header size
	maxSegmentPayload = iptcp_utils.MaxVirtualPacketSize - 40
)

// TCPConfig holds the per-connection knobs.
type TCPConfig struct {
	SendCapacity    int     // capacity of the outbound byte stream
	RecvCapacity    int     // capacity of the inbound byte stream
	RtTimeout       uint16  // initial retransmission timeout (ms)
	FixedISN        *uint32 // random ISN when nil
	MaxRetxAttempts uint    // consecutive retransmissions before giving up
	MaxPayloadSize  int     // largest payload carried by a single segment
}

func DefaultTCPConfig() TCPConfig {
	return TCPConfig{
		SendCapacity:    DEFAULT_CAPACITY,
		RecvCapacity:    DEFAULT_CAPACITY,
		RtTimeout:       TIMEOUT_DFLT,
		MaxRetxAttempts: MAX_RETX_ATTEMPTS,
		MaxPayloadSize:  MAX_PAYLOAD_SIZE,
	}
}

// WithFixedISN returns a copy of the config that always uses isn.
func (cfg TCPConfig) WithFixedISN(isn uint32) TCPConfig {
	cfg.FixedISN = &isn
	return cfg
}

func (cfg TCPConfig) Validate() error {
	if cfg.SendCapacity <= 0 {
		return errors.Errorf("send capacity must be positive, got %d", cfg.SendCapacity)
	}
	if cfg.RecvCapacity <= 0 {
		return errors.Errorf("receive capacity must be positive, got %d", cfg.RecvCapacity)
	}
	if cfg.RecvCapacity > 0xffff {
		// the advertised window is a 16-bit field
		return errors.Errorf("receive capacity %d does not fit the window field", cfg.RecvCapacity)
	}
	if cfg.RtTimeout == 0 {
		return errors.New("retransmission timeout must be positive")
	}
	if cfg.MaxPayloadSize <= 0 || cfg.MaxPayloadSize > maxSegmentPayload {
		return errors.Errorf("max payload size %d out of range (1..%d)", cfg.MaxPayloadSize, maxSegmentPayload)
	}
	return nil
}

type InterfaceConfig struct {
	Name           string
	AssignedIP     netip.Addr
	AssignedPrefix netip.Prefix
	UDPAddr        netip.AddrPort
}

type NeighborConfig struct {
	DestAddr      netip.Addr
	UDPAddr       netip.AddrPort
	InterfaceName string
}

// IPConfig is a parsed host file.
type IPConfig struct {
	Interface InterfaceConfig
	Neighbors []NeighborConfig
	TCP       TCPConfig
}

// file layout, decoded by toml before conversion
type lnxFile struct {
	Interface struct {
		Name    string `toml:"name"`
		Address string `toml:"address"` // "10.0.0.1/24"
		UDP     string `toml:"udp"`     // "127.0.0.1:5000"
	} `toml:"interface"`
	Neighbors []struct {
		Address   string `toml:"address"`
		UDP       string `toml:"udp"`
		Interface string `toml:"interface"`
	} `toml:"neighbor"`
	TCP tcpFile `toml:"tcp"`
}

type tcpFile struct {
	SendCapacity    *int      `toml:"send_capacity"`
	RecvCapacity    *int      `toml:"recv_capacity"`
	RtTimeout       *duration `toml:"rt_timeout"`
	FixedISN        *uint32   `toml:"fixed_isn"`
	MaxRetxAttempts *uint     `toml:"max_retx_attempts"`
	MaxPayloadSize  *int      `toml:"max_payload_size"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func ParseConfig(path string) (*IPConfig, error) {
	var file lnxFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	cfg, err := file.convert()
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func ParseConfigString(data string) (*IPConfig, error) {
	var file lnxFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return file.convert()
}

func (file *lnxFile) convert() (*IPConfig, error) {
	prefix, err := netip.ParsePrefix(file.Interface.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %q address", file.Interface.Name)
	}
	udpAddr, err := netip.ParseAddrPort(file.Interface.UDP)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %q udp", file.Interface.Name)
	}
	cfg := &IPConfig{
		Interface: InterfaceConfig{
			Name:           file.Interface.Name,
			AssignedIP:     prefix.Addr(),
			AssignedPrefix: prefix.Masked(),
			UDPAddr:        udpAddr,
		},
		TCP: DefaultTCPConfig(),
	}
	if cfg.Interface.Name == "" {
		cfg.Interface.Name = "if0"
	}

	for _, n := range file.Neighbors {
		addr, err := netip.ParseAddr(n.Address)
		if err != nil {
			return nil, errors.Wrap(err, "neighbor address")
		}
		udp, err := netip.ParseAddrPort(n.UDP)
		if err != nil {
			return nil, errors.Wrapf(err, "neighbor %s udp", n.Address)
		}
		ifName := n.Interface
		if ifName == "" {
			ifName = cfg.Interface.Name
		}
		cfg.Neighbors = append(cfg.Neighbors, NeighborConfig{
			DestAddr:      addr,
			UDPAddr:       udp,
			InterfaceName: ifName,
		})
	}

	t := file.TCP
	if t.SendCapacity != nil {
		cfg.TCP.SendCapacity = *t.SendCapacity
	}
	if t.RecvCapacity != nil {
		cfg.TCP.RecvCapacity = *t.RecvCapacity
	}
	if t.RtTimeout != nil {
		ms := t.RtTimeout.Milliseconds()
		if ms <= 0 || ms > 0xffff {
			return nil, errors.Errorf("rt_timeout %s out of range", t.RtTimeout.Duration)
		}
		cfg.TCP.RtTimeout = uint16(ms)
	}
	if t.FixedISN != nil {
		isn := *t.FixedISN
		cfg.TCP.FixedISN = &isn
	}
	if t.MaxRetxAttempts != nil {
		cfg.TCP.MaxRetxAttempts = *t.MaxRetxAttempts
	}
	if t.MaxPayloadSize != nil {
		cfg.TCP.MaxPayloadSize = *t.MaxPayloadSize
	}
	if err := cfg.TCP.Validate(); err != nil {
		return nil, errors.Wrap(err, "tcp")
	}
	return cfg, nil
}

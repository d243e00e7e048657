package dissect

import (
	"net/netip"
	"strings"

	"github.com/google/gopacket/layers"
)

// LayerKind identifies the variant of a decoded Layer.
type LayerKind uint8

const (
	LayerUnknown LayerKind = iota
	LayerLink
	LayerIPv4
	LayerTCP
	LayerUDP
	LayerICMPv4
)

var layerNames = [...]string{
	LayerUnknown: "Unknown",
	LayerLink:    "Link",
	LayerIPv4:    "IPv4",
	LayerTCP:     "TCP",
	LayerUDP:     "UDP",
	LayerICMPv4:  "ICMPv4",
}

func (k LayerKind) String() string {
	if int(k) < len(layerNames) {
		return layerNames[k]
	}
	return layerNames[LayerUnknown]
}

// Protocol is the IPv4 next-protocol identifier.
type Protocol uint8

const (
	ProtocolICMPv4 Protocol = 1
	ProtocolTCP    Protocol = 6
	ProtocolUDP    Protocol = 17
)

// String uses the IANA names gopacket carries, e.g. "TCP", "ICMPv4", "GRE".
func (p Protocol) String() string {
	return layers.IPProtocol(p).String()
}

// Layer is one decoded protocol header.
type Layer interface {
	Kind() LayerKind
	// HeaderLen bytes the header occupied in the frame, options included.
	HeaderLen() int
}

// Transport is a Layer that carries ports.
type Transport interface {
	Layer
	Ports() (src, dst uint16)
}

// IPv4 flag bits, as found in the top three bits of the flags/fragment field.
const (
	IPv4MoreFragments uint8 = 1 << iota
	IPv4DontFragment
	IPv4EvilBit
)

// IPv4 network layer header.
type IPv4 struct {
	Version        uint8
	IHL            uint8 // header length in bytes
	TOS            uint8
	TotalLength    uint16
	ID             uint16
	Flags          uint8
	FragmentOffset uint16 // in 8-byte units
	TTL            uint8
	Protocol       Protocol
	Checksum       uint16
	Src            netip.Addr
	Dst            netip.Addr
	Options        []byte // opaque, not parsed
}

func (ip *IPv4) Kind() LayerKind { return LayerIPv4 }
func (ip *IPv4) HeaderLen() int { return int(ip.IHL) }

// IsFragment reports whether the datagram is any fragment of a larger one.
func (ip *IPv4) IsFragment() bool {
	return ip.Flags&IPv4MoreFragments != 0 || ip.FragmentOffset != 0
}

// TCPFlags control bits of a TCP header, NS included.
type TCPFlags uint16

const (
	TCPFin TCPFlags = 1 << iota
	TCPSyn
	TCPRst
	TCPPsh
	TCPAck
	TCPUrg
	TCPEce
	TCPCwr
	TCPNs
)

var tcpFlagNames = []struct {
	flag TCPFlags
	name string
}{
	{TCPSyn, "SYN"},
	{TCPFin, "FIN"},
	{TCPRst, "RST"},
	{TCPPsh, "PSH"},
	{TCPAck, "ACK"},
	{TCPUrg, "URG"},
	{TCPEce, "ECE"},
	{TCPCwr, "CWR"},
	{TCPNs, "NS"},
}

func (f TCPFlags) String() string {
	var names []string
	for _, n := range tcpFlagNames {
		if f&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// TCP connection-oriented transport header.
type TCP struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // header length in 32-bit words
	Flags      TCPFlags
	Window     uint16
	Checksum   uint16
	Urgent     uint16
	Options    []byte // opaque, not parsed
}

func (t *TCP) Kind() LayerKind { return LayerTCP }
func (t *TCP) HeaderLen() int { return int(t.DataOffset) * 4 }
func (t *TCP) Ports() (src, dst uint16) { return t.SrcPort, t.DstPort }

// UDP connectionless transport header.
type UDP struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16 // header plus payload
	Checksum uint16
}

func (u *UDP) Kind() LayerKind { return LayerUDP }
func (u *UDP) HeaderLen() int { return udpHeaderLen }
func (u *UDP) Ports() (src, dst uint16) { return u.SrcPort, u.DstPort }

// ICMPv4 control message header. ID and Seq hold the rest-of-header word, which
// only means identifier/sequence for echo and timestamp messages.
type ICMPv4 struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	ID       uint16
	Seq      uint16
}

func (i *ICMPv4) Kind() LayerKind { return LayerICMPv4 }
func (i *ICMPv4) HeaderLen() int { return icmpHeaderLen }

// TypeCode the gopacket representation, whose String gives names like "EchoRequest".
func (i *ICMPv4) TypeCode() layers.ICMPv4TypeCode {
	return layers.CreateICMPv4TypeCode(i.Type, i.Code)
}

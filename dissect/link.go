package dissect

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
)

const (
	ethernetHeaderLen = 14
	vlanTagLen        = 4
	maxVLANTags       = 2
	loopbackHeaderLen = 4
	linuxSLLHeaderLen = 16
	// EtherType values at or below this are 802.3 lengths, not types
	etherTypeMaxLength = 1500
)

// linkTypeIPv4 LINKTYPE_IPV4, a raw IPv4 capture.
const linkTypeIPv4 layers.LinkType = 228

// linkLayer skips the link-layer header of a frame, leaving the cursor on the
// network layer. It is deliberately not a Layer: the link header is a known
// offset per link type and no fields are kept. Frames that do not carry IPv4
// end with ErrUnsupported.
func linkLayer(c *Cursor, lt layers.LinkType) error {
	switch lt {
	case layers.LinkTypeEthernet:
		return ethernet(c)
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return loopback(c)
	case layers.LinkTypeLinuxSLL:
		return linuxSLL(c)
	case layers.LinkTypeRaw, linkTypeIPv4, 12, 14:
		// DLT_RAW is 12 or 14 depending on the platform that wrote the capture
		return nil
	default:
		return decodeErr(LayerLink, c.Pos(), ErrUnsupported, "link type %s", lt)
	}
}

func ethernet(c *Cursor) error {
	start := c.Pos()
	if c.Remaining() < ethernetHeaderLen {
		return decodeErr(LayerLink, start, ErrTruncated, "need %d bytes, have %d", ethernetHeaderLen, c.Remaining())
	}
	length := ethernetHeaderLen
	etherType, _ := c.PeekU16(12)
	for tags := 0; isVLAN(etherType); tags++ {
		if tags == maxVLANTags {
			return decodeErr(LayerLink, start, ErrMalformed, "more than %d VLAN tags", maxVLANTags)
		}
		next, err := c.PeekU16(length + 2)
		if err != nil {
			return decodeErr(LayerLink, start, ErrTruncated, "VLAN tag %d cut short", tags+1)
		}
		etherType = next
		length += vlanTagLen
	}
	// the whole header is known to be present now
	_ = c.Skip(length)
	if etherType <= etherTypeMaxLength || layers.EthernetType(etherType) != layers.EthernetTypeIPv4 {
		return decodeErr(LayerLink, start, ErrUnsupported, "ethertype %#04x", etherType)
	}
	return nil
}

func isVLAN(etherType uint16) bool {
	switch layers.EthernetType(etherType) {
	case layers.EthernetTypeDot1Q, layers.EthernetTypeQinQ:
		return true
	}
	return etherType == 0x9100
}

func loopback(c *Cursor) error {
	start := c.Pos()
	b, err := c.ReadFixed(loopbackHeaderLen)
	if err != nil {
		return decodeErr(LayerLink, start, ErrTruncated, "need %d bytes, have %d", loopbackHeaderLen, c.Remaining())
	}
	// the family is in the byte order of the host that captured it
	inet := uint32(layers.ProtocolFamilyIPv4)
	if binary.LittleEndian.Uint32(b) != inet && binary.BigEndian.Uint32(b) != inet {
		return decodeErr(LayerLink, start, ErrUnsupported, "protocol family %d", binary.LittleEndian.Uint32(b))
	}
	return nil
}

func linuxSLL(c *Cursor) error {
	start := c.Pos()
	b, err := c.ReadFixed(linuxSLLHeaderLen)
	if err != nil {
		return decodeErr(LayerLink, start, ErrTruncated, "need %d bytes, have %d", linuxSLLHeaderLen, c.Remaining())
	}
	if proto := binary.BigEndian.Uint16(b[14:16]); layers.EthernetType(proto) != layers.EthernetTypeIPv4 {
		return decodeErr(LayerLink, start, ErrUnsupported, "protocol %#04x", proto)
	}
	return nil
}

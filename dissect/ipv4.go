package dissect

import (
	"encoding/binary"
	"net/netip"
)

const (
	ipv4HeaderMinLen = 20
	ipv4Version      = 4
)

// parseIPv4 decodes an IPv4 header at the cursor. On success the cursor sits on
// the first payload byte and its window is narrowed to the datagram's total
// length, so link-layer padding stays out of the payload. On failure the cursor
// has not moved.
func parseIPv4(c *Cursor, verify bool) (*IPv4, error) {
	start := c.Pos()
	vihl, err := c.PeekU8(0)
	if err != nil {
		return nil, decodeErr(LayerIPv4, start, ErrTruncated, "no bytes for network layer")
	}
	// version first: a different family is not ours to judge for length
	if version := vihl >> 4; version != ipv4Version {
		return nil, decodeErr(LayerIPv4, start, ErrUnsupported, "ip version %d", version)
	}
	if c.Remaining() < ipv4HeaderMinLen {
		return nil, decodeErr(LayerIPv4, start, ErrTruncated, "need %d bytes, have %d", ipv4HeaderMinLen, c.Remaining())
	}
	headerLen := int(vihl&0x0f) * 4
	if headerLen < ipv4HeaderMinLen {
		return nil, decodeErr(LayerIPv4, start, ErrMalformed, "header length %d below minimum %d", headerLen, ipv4HeaderMinLen)
	}
	if headerLen > c.Remaining() {
		return nil, decodeErr(LayerIPv4, start, ErrTruncated, "header length %d, have %d", headerLen, c.Remaining())
	}
	totalLen, _ := c.PeekU16(2)
	if int(totalLen) < headerLen {
		return nil, decodeErr(LayerIPv4, start, ErrMalformed, "total length %d shorter than header length %d", totalLen, headerLen)
	}
	// a snapped capture legitimately holds less than the datagram claims
	if int(totalLen) > c.Remaining() && !c.Truncated() {
		return nil, decodeErr(LayerIPv4, start, ErrMalformed, "total length %d exceeds %d bytes in frame", totalLen, c.Remaining())
	}
	if verify && !checksumValid(c.Rest()[:headerLen]) {
		return nil, decodeErr(LayerIPv4, start, ErrChecksum, "header checksum %#04x", binary.BigEndian.Uint16(c.Rest()[10:12]))
	}

	hdr, _ := c.ReadFixed(headerLen)
	flagsFrag := binary.BigEndian.Uint16(hdr[6:8])
	ip := &IPv4{
		Version:        ipv4Version,
		IHL:            uint8(headerLen),
		TOS:            hdr[1],
		TotalLength:    totalLen,
		ID:             binary.BigEndian.Uint16(hdr[4:6]),
		Flags:          uint8(flagsFrag >> 13),
		FragmentOffset: flagsFrag & 0x1fff,
		TTL:            hdr[8],
		Protocol:       Protocol(hdr[9]),
		Checksum:       binary.BigEndian.Uint16(hdr[10:12]),
		Src:            netip.AddrFrom4([4]byte(hdr[12:16])),
		Dst:            netip.AddrFrom4([4]byte(hdr[16:20])),
	}
	if headerLen > ipv4HeaderMinLen {
		ip.Options = hdr[ipv4HeaderMinLen:]
	}
	c.Limit(int(totalLen) - headerLen)
	return ip, nil
}

// payloadComplete whether every byte of the datagram payload is in the window,
// which checksum verification of upper layers needs.
func payloadComplete(c *Cursor, ip *IPv4) bool {
	return ip != nil && !ip.IsFragment() && c.Remaining() == int(ip.TotalLength)-int(ip.IHL)
}

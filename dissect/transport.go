package dissect

import "encoding/binary"

const (
	tcpHeaderMinLen = 20
	udpHeaderLen    = 8
	icmpHeaderLen   = 8
)

// parseTCP decodes a TCP header; options are skipped as one opaque range.
func parseTCP(c *Cursor, ip *IPv4, verify bool) (Layer, error) {
	start := c.Pos()
	if c.Remaining() < tcpHeaderMinLen {
		return nil, decodeErr(LayerTCP, start, ErrTruncated, "need %d bytes, have %d", tcpHeaderMinLen, c.Remaining())
	}
	off, _ := c.PeekU8(12)
	headerLen := int(off>>4) * 4
	if headerLen < tcpHeaderMinLen {
		return nil, decodeErr(LayerTCP, start, ErrMalformed, "data offset %d below minimum", off>>4)
	}
	if headerLen > c.Remaining() {
		return nil, decodeErr(LayerTCP, start, ErrTruncated, "header length %d, have %d", headerLen, c.Remaining())
	}
	if verify && payloadComplete(c, ip) && !transportChecksumValid(ip, c.Rest()) {
		return nil, decodeErr(LayerTCP, start, ErrChecksum, "checksum %#04x", binary.BigEndian.Uint16(c.Rest()[16:18]))
	}

	hdr, _ := c.ReadFixed(headerLen)
	tcp := &TCP{
		SrcPort:    binary.BigEndian.Uint16(hdr[0:2]),
		DstPort:    binary.BigEndian.Uint16(hdr[2:4]),
		Seq:        binary.BigEndian.Uint32(hdr[4:8]),
		Ack:        binary.BigEndian.Uint32(hdr[8:12]),
		DataOffset: off >> 4,
		Flags:      TCPFlags(binary.BigEndian.Uint16(hdr[12:14]) & 0x01ff),
		Window:     binary.BigEndian.Uint16(hdr[14:16]),
		Checksum:   binary.BigEndian.Uint16(hdr[16:18]),
		Urgent:     binary.BigEndian.Uint16(hdr[18:20]),
	}
	if headerLen > tcpHeaderMinLen {
		tcp.Options = hdr[tcpHeaderMinLen:]
	}
	return tcp, nil
}

// parseUDP decodes a UDP header and narrows the window to the UDP length.
func parseUDP(c *Cursor, ip *IPv4, verify bool) (Layer, error) {
	start := c.Pos()
	if c.Remaining() < udpHeaderLen {
		return nil, decodeErr(LayerUDP, start, ErrTruncated, "need %d bytes, have %d", udpHeaderLen, c.Remaining())
	}
	length, _ := c.PeekU16(4)
	if length < udpHeaderLen {
		return nil, decodeErr(LayerUDP, start, ErrMalformed, "length %d below header size", length)
	}
	// a snapped capture or a first fragment holds less than the length claims
	partial := c.Truncated() || (ip != nil && ip.IsFragment())
	if int(length) > c.Remaining() && !partial {
		return nil, decodeErr(LayerUDP, start, ErrMalformed, "length %d exceeds %d bytes in datagram", length, c.Remaining())
	}
	checksum, _ := c.PeekU16(6)
	// zero means the sender did not compute one
	if verify && checksum != 0 && payloadComplete(c, ip) && int(length) <= c.Remaining() &&
		!transportChecksumValid(ip, c.Rest()[:length]) {
		return nil, decodeErr(LayerUDP, start, ErrChecksum, "checksum %#04x", checksum)
	}

	hdr, _ := c.ReadFixed(udpHeaderLen)
	udp := &UDP{
		SrcPort:  binary.BigEndian.Uint16(hdr[0:2]),
		DstPort:  binary.BigEndian.Uint16(hdr[2:4]),
		Length:   length,
		Checksum: checksum,
	}
	c.Limit(int(length) - udpHeaderLen)
	return udp, nil
}

// parseICMPv4 decodes the fixed 8-byte ICMP header. The message body stays in
// the tail.
func parseICMPv4(c *Cursor, ip *IPv4, verify bool) (Layer, error) {
	start := c.Pos()
	if c.Remaining() < icmpHeaderLen {
		return nil, decodeErr(LayerICMPv4, start, ErrTruncated, "need %d bytes, have %d", icmpHeaderLen, c.Remaining())
	}
	if verify && payloadComplete(c, ip) && !checksumValid(c.Rest()) {
		return nil, decodeErr(LayerICMPv4, start, ErrChecksum, "checksum %#04x", binary.BigEndian.Uint16(c.Rest()[2:4]))
	}

	hdr, _ := c.ReadFixed(icmpHeaderLen)
	return &ICMPv4{
		Type:     hdr[0],
		Code:     hdr[1],
		Checksum: binary.BigEndian.Uint16(hdr[2:4]),
		ID:       binary.BigEndian.Uint16(hdr[4:6]),
		Seq:      binary.BigEndian.Uint16(hdr[6:8]),
	}, nil
}

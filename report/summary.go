// Package report renders dissected frames as one line of text each.
package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/packetcap/go-sniff/dissect"
)

const timeFormat = "15:04:05.000000"

// Summary describes frame number n in one line, e.g.
//
//	7 12:00:01.000250 74/74 IPv4 / TCP 10.0.0.1:40000 > 10.0.0.2:80 [SYN] payload 0
//
// Only the layers that were decoded are described.
func Summary(n int, d dissect.DissectedFrame) string {
	var b strings.Builder
	info := d.Frame.Info
	fmt.Fprintf(&b, "%d %s %d/%d %s", n, info.Timestamp.Format(timeFormat), info.CaptureLength, info.Length, chain(d))

	ip := d.Network()
	switch t := d.Transport().(type) {
	case *dissect.TCP:
		fmt.Fprintf(&b, " %s:%d > %s:%d [%s] seq %d", ip.Src, t.SrcPort, ip.Dst, t.DstPort, t.Flags, t.Seq)
		if t.Flags&dissect.TCPAck != 0 {
			fmt.Fprintf(&b, " ack %d", t.Ack)
		}
		fmt.Fprintf(&b, " win %d", t.Window)
	case *dissect.UDP:
		fmt.Fprintf(&b, " %s:%d > %s:%d", ip.Src, t.SrcPort, ip.Dst, t.DstPort)
	default:
		if ip != nil {
			fmt.Fprintf(&b, " %s > %s ttl %d", ip.Src, ip.Dst, ip.TTL)
		}
	}
	if icmp := d.Control(); icmp != nil {
		fmt.Fprintf(&b, " type %d code %d (%s)", icmp.Type, icmp.Code, icmp.TypeCode())
		if icmp.Type == 0 || icmp.Type == 8 {
			fmt.Fprintf(&b, " id %d seq %d", icmp.ID, icmp.Seq)
		}
	}
	if len(d.Layers) > 0 {
		fmt.Fprintf(&b, " payload %d", len(d.Tail))
	}
	if note := stopNote(d); note != "" {
		fmt.Fprintf(&b, " [%s]", note)
	}
	return b.String()
}

// chain names the decoded layers, or the link type when none were.
func chain(d dissect.DissectedFrame) string {
	if len(d.Layers) == 0 {
		return d.Frame.LinkType.String()
	}
	names := make([]string, len(d.Layers))
	for i, l := range d.Layers {
		names[i] = l.Kind().String()
	}
	return strings.Join(names, " / ")
}

func stopNote(d dissect.DissectedFrame) string {
	if d.Stop == nil {
		return ""
	}
	reason := dissect.Reason(d.Stop)
	var de *dissect.DecodeError
	hasLayer := errors.As(d.Stop, &de)
	if reason == "unsupported" {
		ip := d.Network()
		switch {
		case ip == nil && hasLayer && de.Layer == dissect.LayerIPv4:
			return "unsupported network"
		case ip == nil:
			return "unsupported link"
		case ip.FragmentOffset != 0:
			return fmt.Sprintf("fragment id %d offset %d", ip.ID, int(ip.FragmentOffset)*8)
		default:
			return fmt.Sprintf("unsupported proto %d", uint8(ip.Protocol))
		}
	}
	if hasLayer {
		return fmt.Sprintf("%s %s", reason, de.Layer)
	}
	return reason
}

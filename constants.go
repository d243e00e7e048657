package pcap

import "github.com/google/gopacket/layers"

// link types a live Handle reports, see pcap-linktype(7) and http://www.tcpdump.org/linktypes.html.
const (
	LinkTypeNull     = layers.LinkTypeNull
	LinkTypeEthernet = layers.LinkTypeEthernet
	LinkTypeRaw      = layers.LinkTypeRaw
)

const (
	// DefaultSnaplen enough for any frame on common links, as tcpdump uses
	DefaultSnaplen int32 = 262144
	// MaxSnaplen upper bound accepted by OpenLive
	MaxSnaplen int32 = 262144
)

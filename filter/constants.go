package filter

const (
	lengthByte        int    = 1
	lengthHalf        int    = 2
	lengthWord        int    = 4
	etherTypeIPv4     uint32 = 0x0800
	afInet            uint32 = 2
	afInetSwapped     uint32 = 0x02000000
	ipVersionMask     uint32 = 0xf0
	ipVersion4        uint32 = 0x40
	fragmentMask      uint32 = 0x1fff
	ipProtocolICMP    uint32 = 0x01
	ipProtocolTCP     uint32 = 0x06
	ipProtocolUDP     uint32 = 0x11
	ipProtocolOffset  uint32 = 9
	ipFlagsOffset     uint32 = 6
	ipSourceOffset    uint32 = 12
	ipDestOffset      uint32 = 16
	portSourceOffset  uint32 = 0
	portDestOffset    uint32 = 2
	maxConditionalRun        = 255
)

type filterKind int

const (
	filterKindUnset filterKind = iota
	filterKindHost
	filterKindNet
	filterKindPort
)

var kinds = map[string]filterKind{
	"host": filterKindHost,
	"net":  filterKindNet,
	"port": filterKindPort,
}

func (k filterKind) String() string {
	for name, v := range kinds {
		if v == k {
			return name
		}
	}
	return ""
}

type filterDirection int

const (
	filterDirectionUnset filterDirection = iota
	filterDirectionSrcOrDst
	filterDirectionSrcAndDst
	filterDirectionSrc
	filterDirectionDst
)

var directions = map[string]filterDirection{
	"src":         filterDirectionSrc,
	"dst":         filterDirectionDst,
	"src and dst": filterDirectionSrcAndDst,
	"src or dst":  filterDirectionSrcOrDst,
}

type filterProtocol int

const (
	filterProtocolUnset filterProtocol = iota
	filterProtocolIP
	filterProtocolICMP
	filterProtocolTCP
	filterProtocolUDP
)

var protocols = map[string]filterProtocol{
	"ip":   filterProtocolIP,
	"icmp": filterProtocolICMP,
	"tcp":  filterProtocolTCP,
	"udp":  filterProtocolUDP,
}

// ipProtocols the IPv4 protocol numbers, for protocols that have one
var ipProtocols = map[filterProtocol]uint32{
	filterProtocolICMP: ipProtocolICMP,
	filterProtocolTCP:  ipProtocolTCP,
	filterProtocolUDP:  ipProtocolUDP,
}

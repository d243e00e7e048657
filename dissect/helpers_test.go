package dissect

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

var (
	testSrcIP  = net.IP{192, 168, 1, 1}
	testDstIP  = net.IP{192, 168, 1, 2}
	testSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	testDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// serialize builds a frame with gopacket, fixing lengths and checksums.
func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func testIPv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       0x1234,
		Flags:    layers.IPv4DontFragment,
		Protocol: proto,
		SrcIP:    testSrcIP,
		DstIP:    testDstIP,
	}
}

func testEthernet() *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       testSrcMAC,
		DstMAC:       testDstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
}

// tcpPacket IPv4+TCP with payload, no link layer.
func tcpPacket(t *testing.T, payload []byte) []byte {
	ip := testIPv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, Seq: 100, Ack: 200, SYN: true, ACK: true, Window: 65535}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, tcp, gopacket.Payload(payload))
}

// udpPacket IPv4+UDP with payload, no link layer.
func udpPacket(t *testing.T, payload []byte) []byte {
	ip := testIPv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 5000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, udp, gopacket.Payload(payload))
}

// icmpPacket IPv4+ICMP echo request with payload, no link layer.
func icmpPacket(t *testing.T, payload []byte) []byte {
	ip := testIPv4(layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       7,
		Seq:      9,
	}
	return serialize(t, ip, icmp, gopacket.Payload(payload))
}

func rawFrame(data []byte) RawFrame {
	return RawFrame{
		Data:     data,
		LinkType: layers.LinkTypeRaw,
		Info: gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, 0),
			CaptureLength: len(data),
			Length:        len(data),
		},
	}
}

func ethernetFrame(data []byte) RawFrame {
	f := rawFrame(data)
	f.LinkType = layers.LinkTypeEthernet
	return f
}

// snapped keeps only the first n bytes, as a capture with snaplen n would.
func snapped(f RawFrame, n int) RawFrame {
	f.Data = f.Data[:n]
	f.Info.CaptureLength = n
	return f
}

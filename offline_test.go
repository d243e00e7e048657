package pcap

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetcap/go-sniff/dissect"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

// testFrames an Ethernet UDP frame, an Ethernet TCP frame and an ARP frame
func testFrames(t *testing.T) [][]byte {
	eth := func(et layers.EthernetType) *layers.Ethernet {
		return &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: et,
		}
	}
	ip := func(proto layers.IPProtocol) *layers.IPv4 {
		return &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: proto, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	}

	ipu := ip(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ipu))
	udpFrame := serialize(t, eth(layers.EthernetTypeIPv4), ipu, udp, gopacket.Payload([]byte(tstMsg)))

	ipt := ip(layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, SYN: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ipt))
	tcpFrame := serialize(t, eth(layers.EthernetTypeIPv4), ipt, tcp, gopacket.Payload([]byte(tstMsg)))

	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	arpFrame := serialize(t, eth(layers.EthernetTypeARP), arp)
	return [][]byte{udpFrame, tcpFrame, arpFrame}
}

func captureInfo(i int, data []byte, snaplen int) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000+int64(i), 0).UTC(),
		CaptureLength: min(len(data), snaplen),
		Length:        len(data),
	}
}

func writePcap(t *testing.T, frames [][]byte, snaplen int) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(name)
	require.NoError(t, err)
	defer f.Close()
	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(uint32(snaplen), layers.LinkTypeEthernet))
	for i, data := range frames {
		ci := captureInfo(i, data, snaplen)
		require.NoError(t, w.WritePacket(ci, data[:ci.CaptureLength]))
	}
	return name
}

func writePcapng(t *testing.T, frames [][]byte) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "test.pcapng")
	f, err := os.Create(name)
	require.NoError(t, err)
	defer f.Close()
	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for i, data := range frames {
		require.NoError(t, w.WritePacket(captureInfo(i, data, len(data)), data))
	}
	require.NoError(t, w.Flush())
	return name
}

func readAll(t *testing.T, src dissect.Source) []dissect.RawFrame {
	t.Helper()
	var frames []dissect.RawFrame
	for f, err := range dissect.Frames(src) {
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		frames = append(frames, f)
	}
	return frames
}

func TestOfflineRoundTrip(t *testing.T) {
	frames := testFrames(t)
	for name, path := range map[string]string{
		"pcap":   writePcap(t, frames, 65535),
		"pcapng": writePcapng(t, frames),
	} {
		t.Run(name, func(t *testing.T) {
			o, err := OpenOffline(path)
			require.NoError(t, err)
			defer o.Close()
			assert.Equal(t, layers.LinkTypeEthernet, o.LinkType())

			src, err := NewSource(o, o.LinkType())
			require.NoError(t, err)
			got := readAll(t, src)
			require.Len(t, got, len(frames))

			eng := dissect.NewEngine(dissect.WithChecksumVerification(true))
			for i, f := range got {
				assert.Equal(t, frames[i], f.Data)
				assert.Equal(t, layers.LinkTypeEthernet, f.LinkType)
				assert.False(t, f.Truncated())
				assert.True(t, f.Info.Timestamp.Equal(time.Unix(1700000000+int64(i), 0)))

				// same dissection as the frame never written to disk
				want, werr := eng.Dissect(dissect.RawFrame{Data: frames[i], Info: f.Info, LinkType: layers.LinkTypeEthernet})
				d, derr := eng.Dissect(f)
				assert.Equal(t, werr, derr)
				assert.Equal(t, want.Layers, d.Layers)
				assert.Equal(t, want.Tail, d.Tail)
			}
		})
	}
}

func TestOfflineSnapped(t *testing.T) {
	frames := testFrames(t)
	o, err := OpenOffline(writePcap(t, frames, 40))
	require.NoError(t, err)
	defer o.Close()
	src, err := NewSource(o, o.LinkType())
	require.NoError(t, err)

	got := readAll(t, src)
	require.Len(t, got, len(frames))
	f := got[0]
	assert.True(t, f.Truncated())
	assert.Len(t, f.Data, 40)

	d, err := dissect.NewEngine().Dissect(f)
	require.NoError(t, err)
	// IPv4 is whole, the UDP header is cut after 6 of its 8 bytes
	require.Len(t, d.Layers, 1)
	assert.Equal(t, dissect.StateAborted, d.State)
	assert.ErrorIs(t, d.Stop, dissect.ErrTruncated)
}

func TestSourceFilter(t *testing.T) {
	frames := testFrames(t)
	o, err := OpenOffline(writePcap(t, frames, 65535))
	require.NoError(t, err)
	defer o.Close()

	src, err := NewSource(o, o.LinkType(), WithFilter("tcp port 80"))
	require.NoError(t, err)
	got := readAll(t, src)
	require.Len(t, got, 1)
	assert.Equal(t, frames[1], got[0].Data)
	assert.Equal(t, uint64(2), src.Filtered())
}

func TestSourceFilterInvalid(t *testing.T) {
	_, err := NewSource(nil, layers.LinkTypeEthernet, WithFilter("port nope nope"))
	assert.Error(t, err)
	_, err = NewSource(nil, layers.LinkTypeIEEE802_11, WithFilter("tcp"))
	assert.Error(t, err)
	src, err := NewSource(nil, layers.LinkTypeIEEE802_11, WithFilter(""))
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeIEEE802_11, src.LinkType())
}

type failingSource struct{ err error }

func (f failingSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, f.err
}

func TestSourcePassesErrors(t *testing.T) {
	for _, want := range []error{io.EOF, ErrReadTimeout, errors.New("device gone")} {
		src, err := NewSource(failingSource{want}, layers.LinkTypeEthernet)
		require.NoError(t, err)
		_, err = src.NextFrame()
		assert.Equal(t, want, err)
	}
}

func TestOpenOfflineErrors(t *testing.T) {
	_, err := OpenOffline(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	name := filepath.Join(t.TempDir(), "garbage.pcap")
	require.NoError(t, os.WriteFile(name, []byte("this is not a capture file at all"), 0o600))
	_, err = OpenOffline(name)
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.pcap")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = OpenOffline(empty)
	assert.Error(t, err)
}

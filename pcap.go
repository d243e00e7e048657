package pcap

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"

	"github.com/packetcap/go-sniff/filter"
)

var (
	// ErrReadTimeout no frame arrived within the handle's timeout. The handle is
	// still usable and the read may be retried.
	ErrReadTimeout = errors.New("pcap: read timeout")
	// ErrClosed the handle was closed.
	ErrClosed = errors.New("pcap: handle closed")
)

var _ gopacket.PacketDataSource = (*Handle)(nil)

// OpenLive open a live capture. Returns a Handle that implements https://godoc.org/github.com/google/gopacket#PacketDataSource
// so you can pass it there, or to NewSource for dissection. On Linux an empty iface
// captures on every interface, and every frame is then labelled LinkTypeEthernet, so
// frames from devices without an Ethernet header, such as tun, are not decoded past
// the link layer. BPF platforms require an iface. A timeout of zero blocks until a
// frame arrives; otherwise reads return ErrReadTimeout when it passes. Cancelling
// ctx ends every pending and future read with ctx.Err().
func OpenLive(ctx context.Context, iface string, snaplen int32, promiscuous bool, timeout time.Duration) (*Handle, error) {
	if snaplen <= 0 || snaplen > MaxSnaplen {
		return nil, fmt.Errorf("invalid snaplen %d, must be in (0, %d]", snaplen, MaxSnaplen)
	}
	if timeout < 0 {
		return nil, fmt.Errorf("invalid timeout %s", timeout)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return openLive(ctx, iface, snaplen, promiscuous, timeout)
}

// compileFilter the kernel form of a tcpdump expression for linkType
func compileFilter(expr string, linkType layers.LinkType) ([]bpf.RawInstruction, error) {
	f, err := filter.Compile(expr, linkType)
	if err != nil {
		return nil, err
	}
	return f.Raw(), nil
}

// getEndianness discover the endianness of our current system
func getEndianness() (binary.ByteOrder, error) {
	buf := [2]byte{}
	*(*uint16)(unsafe.Pointer(&buf[0])) = uint16(0xABCD)

	switch buf {
	case [2]byte{0xCD, 0xAB}:
		return binary.LittleEndian, nil
	case [2]byte{0xAB, 0xCD}:
		return binary.BigEndian, nil
	default:
		return nil, errors.New("could not determine native endianness")
	}
}

func htons(in uint16) uint16 {
	return (in<<8)&0xff00 | in>>8
}

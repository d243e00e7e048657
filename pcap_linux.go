package pcap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Handle a live capture on an AF_PACKET socket.
type Handle struct {
	context     context.Context
	close       sync.Once
	closed      atomic.Bool
	promiscuous bool
	timeout     time.Duration
	index       int
	snaplen     int32
	fd          int
	buf         []byte
	oob         []byte
	linkType    layers.LinkType
	wake        *waker
}

// ReadPacketData return the next frame. The returned slice is owned by the caller.
func (h *Handle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	for {
		if h.closed.Load() {
			return nil, ci, ErrClosed
		}
		if err := h.wake.wait(h.fd, h.timeout); err != nil {
			return nil, ci, h.waitErr(err)
		}
		// MSG_TRUNC makes recvmsg report the length on the wire, not what fit in buf
		n, oobn, _, from, err := unix.Recvmsg(h.fd, h.buf, h.oob, unix.MSG_TRUNC|unix.MSG_DONTWAIT)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			if h.closed.Load() {
				return nil, ci, ErrClosed
			}
			return nil, ci, fmt.Errorf("error reading: %w", err)
		}
		captured := min(n, len(h.buf))
		ci = gopacket.CaptureInfo{
			Timestamp:      h.timestamp(h.oob[:oobn]),
			CaptureLength:  captured,
			Length:         n,
			InterfaceIndex: h.index,
		}
		if sall, ok := from.(*unix.SockaddrLinklayer); ok {
			ci.InterfaceIndex = sall.Ifindex
		}
		data = make([]byte, captured)
		copy(data, h.buf)
		return data, ci, nil
	}
}

func (h *Handle) waitErr(err error) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if cerr := h.context.Err(); cerr != nil && errors.Is(err, errWoken) {
		return cerr
	}
	return err
}

// timestamp the kernel receive time from SCM_TIMESTAMPNS, or now if it is missing
func (h *Handle) timestamp(oob []byte) time.Time {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return time.Now()
	}
	for _, m := range msgs {
		if m.Header.Level == unix.SOL_SOCKET && m.Header.Type == unix.SCM_TIMESTAMPNS && len(m.Data) >= int(unsafe.Sizeof(unix.Timespec{})) {
			ts := *(*unix.Timespec)(unsafe.Pointer(&m.Data[0]))
			return time.Unix(ts.Unix())
		}
	}
	return time.Now()
}

// Close close sockets and release resources. A read blocked in another goroutine
// returns ErrClosed.
// Close is idempotent, and uses sync.Once to ensure it only runs once.
func (h *Handle) Close() {
	h.close.Do(func() {
		h.closed.Store(true)
		h.wake.wake()
		_ = unix.Close(h.fd)
		h.wake.close()
	})
}

// LinkType return the link type, compliant with pcap-linktype(7) and http://www.tcpdump.org/linktypes.html.
func (h *Handle) LinkType() layers.LinkType {
	return h.linkType
}

// SetBPFFilter compile a tcpdump filter expression and attach it to the socket,
// so the kernel drops non-matching frames before they are copied to us.
func (h *Handle) SetBPFFilter(expr string) error {
	raw, err := compileFilter(expr, h.linkType)
	if err != nil {
		return err
	}
	return h.setFilter(raw)
}

func (h *Handle) setFilter(raw []bpf.RawInstruction) error {
	prog := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		prog[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	if err := unix.SetsockoptSockFprog(h.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
		return fmt.Errorf("unable to set filter: %w", err)
	}
	return nil
}

func openLive(ctx context.Context, iface string, snaplen int32, promiscuous bool, timeout time.Duration) (handle *Handle, err error) {
	logger := log.WithFields(log.Fields{
		"iface":       iface,
		"snaplen":     snaplen,
		"promiscuous": promiscuous,
		"timeout":     timeout,
	})
	logger.Debug("started")
	h := &Handle{
		context:     ctx,
		snaplen:     snaplen,
		promiscuous: promiscuous,
		timeout:     timeout,
		buf:         make([]byte, snaplen),
		oob:         make([]byte, unix.CmsgSpace(int(unsafe.Sizeof(unix.Timespec{})))),
		linkType:    layers.LinkTypeEthernet,
	}
	// set up the socket - remember to switch to network socket order for the protocol int
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed opening raw socket: %w", err)
	}
	h.fd = fd
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
		}
	}()
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1); err != nil {
		return nil, fmt.Errorf("failed to enable timestamps: %w", err)
	}
	if iface != "" {
		// get our interface
		in, ierr := net.InterfaceByName(iface)
		if ierr != nil {
			return nil, fmt.Errorf("unknown interface %s: %w", iface, ierr)
		}
		h.index = in.Index

		// create the sockaddr_ll
		sa := unix.SockaddrLinklayer{
			Protocol: htons(unix.ETH_P_ALL),
			Ifindex:  in.Index,
		}
		// bind to it
		if err = unix.Bind(fd, &sa); err != nil {
			return nil, fmt.Errorf("failed to bind to %s: %w", iface, err)
		}
		if h.linkType, err = boundLinkType(fd); err != nil {
			return nil, err
		}
		if promiscuous {
			mreq := unix.PacketMreq{
				Ifindex: int32(in.Index),
				Type:    unix.PACKET_MR_PROMISC,
			}
			if err = unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
				return nil, fmt.Errorf("failed to set promiscuous for %s: %w", iface, err)
			}
		}
	}
	if h.wake, err = newWaker(ctx); err != nil {
		return nil, err
	}
	logger.WithField("linktype", h.linkType).Debug("opened")
	return h, nil
}

// boundLinkType map the hardware type of the bound interface to a link type.
// Devices without a link header, such as tun, deliver bare IP.
func boundLinkType(fd int) (layers.LinkType, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("failed to get socket name: %w", err)
	}
	sall, ok := sa.(*unix.SockaddrLinklayer)
	if !ok {
		return layers.LinkTypeEthernet, nil
	}
	switch sall.Hatype {
	case unix.ARPHRD_NONE, unix.ARPHRD_PPP, unix.ARPHRD_TUNNEL, unix.ARPHRD_IPGRE, unix.ARPHRD_SIT:
		return layers.LinkTypeRaw, nil
	}
	return layers.LinkTypeEthernet, nil
}

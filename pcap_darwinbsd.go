//go:build darwin || freebsd

package pcap

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
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

const (
	enable = 1
)

// Handle a live capture on a /dev/bpf device.
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
	// frames read from the device but not yet returned; one read may hold several
	pending  []byte
	endian   binary.ByteOrder
	linkType layers.LinkType
	wake     *waker
}

type BpfProgram struct {
	Len    uint32
	Filter *bpf.RawInstruction
}

// ReadPacketData return the next frame. The returned slice is owned by the caller.
func (h *Handle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	for len(h.pending) == 0 {
		if h.closed.Load() {
			return nil, ci, ErrClosed
		}
		if err := h.wake.wait(h.fd, h.timeout); err != nil {
			return nil, ci, h.waitErr(err)
		}
		read, err := unix.Read(h.fd, h.buf)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			if h.closed.Load() {
				return nil, ci, ErrClosed
			}
			return nil, ci, fmt.Errorf("error reading: %w", err)
		}
		h.pending = h.buf[:read]
	}
	return h.next()
}

// next separate the header and packet body of the first pending frame
func (h *Handle) next() (data []byte, ci gopacket.CaptureInfo, err error) {
	hdr := unix.BpfHdr{}
	size := int(unsafe.Sizeof(hdr))
	if len(h.pending) < size {
		h.pending = nil
		return nil, ci, errors.New("short bpf header")
	}
	if err = binary.Read(bytes.NewReader(h.pending[:size]), h.endian, &hdr); err != nil {
		h.pending = nil
		return nil, ci, fmt.Errorf("error reading bpf header: %w", err)
	}
	end := int(hdr.Hdrlen) + int(hdr.Caplen)
	if end > len(h.pending) {
		h.pending = nil
		return nil, ci, fmt.Errorf("bpf record of %d bytes overruns buffer of %d", end, len(h.pending))
	}
	captured := min(int(hdr.Caplen), int(h.snaplen))
	ci = gopacket.CaptureInfo{
		Timestamp:      time.Unix(int64(hdr.Tstamp.Sec), int64(hdr.Tstamp.Usec)*1000),
		CaptureLength:  captured,
		Length:         int(hdr.Datalen),
		InterfaceIndex: h.index,
	}
	data = make([]byte, captured)
	copy(data, h.pending[hdr.Hdrlen:])

	// records are word aligned
	advance := (end + unix.BPF_ALIGNMENT - 1) &^ (unix.BPF_ALIGNMENT - 1)
	if advance >= len(h.pending) {
		h.pending = nil
	} else {
		h.pending = h.pending[advance:]
	}
	return data, ci, nil
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

// SetBPFFilter compile a tcpdump filter expression and install it on the device.
func (h *Handle) SetBPFFilter(expr string) error {
	raw, err := compileFilter(expr, h.linkType)
	if err != nil {
		return err
	}
	return h.setFilter(raw)
}

// set a classic BPF filter on the listener.
func (h *Handle) setFilter(raw []bpf.RawInstruction) error {
	prog := BpfProgram{
		Len:    uint32(len(raw)),
		Filter: &raw[0],
	}
	if err := ioctlPtr(h.fd, unix.BIOCSETF, unsafe.Pointer(&prog)); err != nil {
		return fmt.Errorf("unable to set filter: %w", err)
	}
	// frames read before the filter was set are stale
	h.pending = nil
	return nil
}

func openLive(ctx context.Context, iface string, snaplen int32, promiscuous bool, timeout time.Duration) (handle *Handle, err error) {
	fd := -1
	logger := log.WithFields(log.Fields{
		"iface":       iface,
		"snaplen":     snaplen,
		"promiscuous": promiscuous,
		"timeout":     timeout,
	})
	logger.Debug("started")
	if iface == "" {
		return nil, errors.New("an interface is required for bpf capture")
	}
	h := &Handle{
		context:     ctx,
		snaplen:     snaplen,
		promiscuous: promiscuous,
		timeout:     timeout,
	}
	// we need to know our endianness
	if h.endian, err = getEndianness(); err != nil {
		return nil, err
	}

	// open the bpf device
	for i := 0; i < 255; i++ {
		dev := fmt.Sprintf("/dev/bpf%d", i)
		fd, err = unix.Open(dev, unix.O_RDWR, 0000)
		if fd > -1 {
			break
		}
		if err != nil && err == unix.EBUSY {
			continue
		}
		return nil, fmt.Errorf("error opening device %s: %w", dev, err)
	}
	if fd <= -1 {
		return nil, errors.New("failed to get valid bpf device")
	}
	h.fd = fd
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
		}
	}()

	// set the options
	if err = setBpfInterface(fd, iface); err != nil {
		return nil, fmt.Errorf("failed to set the BPF interface: %w", err)
	}
	if err = setBpfHeadercmpl(fd, enable); err != nil {
		return nil, fmt.Errorf("failed to set the BPF header complete option: %w", err)
	}
	if err = setBpfMonitor(fd, enable); err != nil {
		return nil, fmt.Errorf("failed to set the BPF monitor option: %w", err)
	}
	if err = setBpfImmediate(fd, enable); err != nil {
		return nil, fmt.Errorf("failed to set the BPF immediate return option: %w", err)
	}
	if promiscuous {
		if err = ioctlPtr(fd, unix.BIOCPROMISC, nil); err != nil {
			return nil, fmt.Errorf("failed to set promiscuous for %s: %w", iface, err)
		}
	}
	size, err := bpfBuflen(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer length: %w", err)
	}
	h.buf = make([]byte, size)

	if h.linkType, err = getLinkType(fd); err != nil {
		return nil, err
	}
	if h.wake, err = newWaker(ctx); err != nil {
		return nil, err
	}
	logger.WithField("linktype", h.linkType).Debug("opened")
	return h, nil
}

// because they deprecated all of the below from "syscall" and redirected to "golang.org/x/net/bpf" but did not
// create a replacement. Sigh.

type ivalue struct {
	name  [unix.IFNAMSIZ]byte
	value int16
}

func setBpfInterface(fd int, name string) error {
	var iv ivalue
	copy(iv.name[:], []byte(name))
	return ioctlPtr(fd, unix.BIOCSETIF, unsafe.Pointer(&iv))
}

func setBpfHeadercmpl(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCSHDRCMPLT, m)
}

func setBpfImmediate(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCIMMEDIATE, m)
}

func setBpfMonitor(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCSSEESENT, m)
}

func bpfBuflen(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.BIOCGBLEN)
}

func ioctlPtr(fd, arg int, valPtr unsafe.Pointer) error {
	//nolint:staticcheck // unix.SYS_IOCTL is deprecated, but golang does not provide a better alternative
	// as of this writing for passing pointers
	_, _, errno := unix.RawSyscall(unix.SYS_IOCTL, uintptr(fd), uintptr(arg), uintptr(valPtr))
	if errno != 0 {
		return fmt.Errorf("ioctl %#x: %w", arg, errno)
	}
	return nil
}

func getLinkType(fd int) (layers.LinkType, error) {
	linkType, err := unix.IoctlGetInt(fd, unix.BIOCGDLT)
	if err != nil {
		return 0, fmt.Errorf("failed to get link type: %w", err)
	}
	return layers.LinkType(linkType), nil
}

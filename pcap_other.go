//go:build !linux && !darwin && !freebsd

package pcap

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Handle live capture is not available on this platform; offline files still work.
type Handle struct{}

func (h *Handle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, ErrClosed
}

func (h *Handle) Close() {}

func (h *Handle) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (h *Handle) SetBPFFilter(expr string) error {
	_, err := compileFilter(expr, layers.LinkTypeEthernet)
	return err
}

func openLive(_ context.Context, _ string, _ int32, _ bool, _ time.Duration) (*Handle, error) {
	return nil, errors.New("live capture is not supported on " + runtime.GOOS)
}

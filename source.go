package pcap

import (
	"fmt"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/packetcap/go-sniff/dissect"
	"github.com/packetcap/go-sniff/filter"
)

// Source adapts a gopacket.PacketDataSource, such as a Handle or an Offline file,
// into a dissect.Source. Errors from the underlying source pass through unchanged,
// ErrReadTimeout and io.EOF included.
type Source struct {
	ds       gopacket.PacketDataSource
	linkType layers.LinkType
	filter   *filter.Filter
	filtered atomic.Uint64
}

var _ dissect.Source = (*Source)(nil)

type SourceOption func(*Source) error

// WithFilter drop frames that do not match the tcpdump expression, checked in
// user space. Live handles can do this in the kernel with SetBPFFilter instead.
func WithFilter(expr string) SourceOption {
	return func(s *Source) error {
		if expr == "" {
			return nil
		}
		f, err := filter.Compile(expr, s.linkType)
		if err != nil {
			return err
		}
		s.filter = f
		return nil
	}
}

func NewSource(ds gopacket.PacketDataSource, linkType layers.LinkType, opts ...SourceOption) (*Source, error) {
	s := &Source{ds: ds, linkType: linkType}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("source option: %w", err)
		}
	}
	return s, nil
}

// NextFrame read until a frame passes the filter, if any.
func (s *Source) NextFrame() (dissect.RawFrame, error) {
	for {
		data, ci, err := s.ds.ReadPacketData()
		if err != nil {
			return dissect.RawFrame{}, err
		}
		if s.filter != nil && !s.filter.Match(data) {
			s.filtered.Add(1)
			continue
		}
		if ci.CaptureLength == 0 {
			ci.CaptureLength = len(data)
		}
		return dissect.RawFrame{Data: data, Info: ci, LinkType: s.linkType}, nil
	}
}

func (s *Source) LinkType() layers.LinkType {
	return s.linkType
}

// Filtered how many frames the filter dropped so far.
func (s *Source) Filtered() uint64 {
	return s.filtered.Load()
}

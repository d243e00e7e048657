package dissect

import (
	"iter"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// RawFrame one captured link-layer frame. Data is never modified once the frame
// is created, so a frame may be shared read-only between goroutines.
type RawFrame struct {
	Data     []byte
	Info     gopacket.CaptureInfo
	LinkType layers.LinkType
}

// Truncated whether the capture kept fewer bytes than were on the wire.
func (f RawFrame) Truncated() bool {
	return f.Info.Length > 0 && f.Info.CaptureLength < f.Info.Length
}

// Source supplies raw frames one at a time. NextFrame blocks until a frame is
// available; io.EOF ends a finite source, and a cancelled context ends a live one.
type Source interface {
	NextFrame() (RawFrame, error)
}

// Frames pulls from src lazily. The sequence yields each frame with a nil error,
// and ends after yielding the first error, io.EOF included. It cannot be restarted.
func Frames(src Source) iter.Seq2[RawFrame, error] {
	return func(yield func(RawFrame, error) bool) {
		for {
			f, err := src.NextFrame()
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// State of the per-frame dissection state machine.
type State uint8

const (
	StateStart State = iota
	StateLinkParsed
	StateNetworkParsed
	StateTransportParsed
	StateDone
	StateAborted
)

var stateNames = [...]string{
	StateStart:           "start",
	StateLinkParsed:      "link-parsed",
	StateNetworkParsed:   "network-parsed",
	StateTransportParsed: "transport-parsed",
	StateDone:            "done",
	StateAborted:         "aborted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

// DissectedFrame result of dissecting one RawFrame. Layers are in wire order.
// Tail holds the undecoded bytes inside the innermost length window (the payload,
// or whatever was left when the chain stopped); Padding holds bytes past that
// window, such as Ethernet minimum-size padding.
type DissectedFrame struct {
	Frame   RawFrame
	LinkLen int
	Layers  []Layer
	Tail    []byte
	Padding []byte
	// State is StateDone when the chain ended normally, unsupported protocols
	// included, and StateAborted on a truncated or malformed header.
	State State
	// Stop is why the chain ended, nil when the last layer had no successor to decode.
	Stop error
}

// Network the IPv4 layer, if one was decoded.
func (d *DissectedFrame) Network() *IPv4 {
	for _, l := range d.Layers {
		if ip, ok := l.(*IPv4); ok {
			return ip
		}
	}
	return nil
}

// Transport the TCP or UDP layer, if one was decoded.
func (d *DissectedFrame) Transport() Transport {
	for _, l := range d.Layers {
		if t, ok := l.(Transport); ok {
			return t
		}
	}
	return nil
}

// Control the ICMPv4 layer, if one was decoded.
func (d *DissectedFrame) Control() *ICMPv4 {
	for _, l := range d.Layers {
		if icmp, ok := l.(*ICMPv4); ok {
			return icmp
		}
	}
	return nil
}

package dissect

import "errors"

// parseFunc decodes one layer above IPv4. ip is the enclosing network header,
// needed for the pseudo-header when verifying checksums.
type parseFunc func(c *Cursor, ip *IPv4, verify bool) (Layer, error)

// transports maps the IPv4 protocol field to its parser. Filled at init and only
// read afterwards, so concurrent dissection needs no locking.
var transports = [256]parseFunc{
	ProtocolICMPv4: parseICMPv4,
	ProtocolTCP:    parseTCP,
	ProtocolUDP:    parseUDP,
}

// Supported whether p has a parser.
func Supported(p Protocol) bool {
	return transports[p] != nil
}

// Engine dissects frames one at a time. It holds no per-frame state, so one Engine
// may serve any number of goroutines.
type Engine struct {
	verify bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithChecksumVerification makes a checksum mismatch stop the chain as malformed.
// Off by default: a frame with a damaged checksum is still worth inspecting.
func WithChecksumVerification(on bool) Option {
	return func(e *Engine) {
		e.verify = on
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dissect decodes f as far as it can. The returned DissectedFrame is always
// usable and holds every layer decoded before the chain stopped. The error is
// non-nil only when nothing could be decoded because the first header was
// truncated or malformed; an unsupported protocol is never an error.
func (e *Engine) Dissect(f RawFrame) (DissectedFrame, error) {
	d := DissectedFrame{Frame: f, State: StateStart}
	c := newFrameCursor(f.Data, f.Truncated())

	err := linkLayer(c, f.LinkType)
	d.LinkLen = c.Pos()
	if err != nil {
		return d.finish(c, err)
	}
	d.State = StateLinkParsed

	ip, err := parseIPv4(c, e.verify)
	if err != nil {
		return d.finish(c, err)
	}
	d.Layers = make([]Layer, 1, 2)
	d.Layers[0] = ip
	d.State = StateNetworkParsed

	switch {
	case ip.FragmentOffset != 0:
		return d.finish(c, decodeErr(LayerIPv4, c.Pos(), ErrUnsupported, "fragment at offset %d", int(ip.FragmentOffset)*8))
	case ip.TotalLength == uint16(ip.IHL):
		// nothing follows the header
		return d.finish(c, nil)
	}
	parse := transports[ip.Protocol]
	if parse == nil {
		return d.finish(c, decodeErr(LayerIPv4, c.Pos(), ErrUnsupported, "protocol %s (%d)", ip.Protocol, uint8(ip.Protocol)))
	}
	l, err := parse(c, ip, e.verify)
	if err != nil {
		return d.finish(c, err)
	}
	d.Layers = append(d.Layers, l)
	d.State = StateTransportParsed
	return d.finish(c, nil)
}

// finish ends the chain with reason err, hands the remaining bytes to the tail
// and decides whether err reaches the caller.
func (d *DissectedFrame) finish(c *Cursor, err error) (DissectedFrame, error) {
	d.Tail = c.Rest()
	d.Padding = c.Trailer()
	d.Stop = err
	if err == nil || errors.Is(err, ErrUnsupported) {
		d.State = StateDone
		return *d, nil
	}
	d.State = StateAborted
	if len(d.Layers) == 0 {
		return *d, err
	}
	return *d, nil
}

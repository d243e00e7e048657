package filter

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/net/bpf"
)

// node one element of a parsed expression. emit adds the steps that jump to
// onTrue when the element matches and to onFalse when it does not.
type node interface {
	emit(p *program, onTrue, onFalse label) error
	String() string
}

// primitive a single test such as "tcp", "src host 10.0.0.1" or "udp dst port 53".
type primitive struct {
	kind      filterKind
	direction filterDirection
	protocol  filterProtocol
	id        string
}

func (p primitive) Equal(o primitive) bool {
	return p.kind == o.kind && p.direction == o.direction && p.protocol == o.protocol && p.id == o.id
}

func (p primitive) String() string {
	var s string
	for name, v := range protocols {
		if v == p.protocol {
			s = name
		}
	}
	if p.kind == filterKindUnset {
		return s
	}
	if s != "" {
		s += " "
	}
	for name, v := range directions {
		if v == p.direction && v != filterDirectionSrcOrDst {
			s += name + " "
		}
	}
	return s + p.kind.String() + " " + p.id
}

// validate check the combination of qualifiers and the id
func (p primitive) validate() error {
	switch p.kind {
	case filterKindUnset:
		if p.protocol == filterProtocolUnset {
			return fmt.Errorf("empty primitive")
		}
		if p.id != "" {
			return fmt.Errorf("unexpected %q after %s", p.id, p)
		}
		return nil
	case filterKindHost:
		if _, err := parseHost(p.id); err != nil {
			return err
		}
	case filterKindNet:
		if _, err := parseNet(p.id); err != nil {
			return err
		}
	case filterKindPort:
		if _, err := parsePort(p.id, p.protocol); err != nil {
			return err
		}
	}
	switch {
	case p.kind == filterKindPort && (p.protocol == filterProtocolIP || p.protocol == filterProtocolICMP):
		return fmt.Errorf("port qualifier not valid for %s", p)
	case p.kind != filterKindPort && (p.protocol == filterProtocolTCP || p.protocol == filterProtocolUDP || p.protocol == filterProtocolICMP):
		return fmt.Errorf("%s qualifier not valid for %s", p.kind, p)
	}
	return nil
}

func (p primitive) emit(prog *program, onTrue, onFalse label) error {
	if p.anyIPv4() {
		prog.checkIPv4(onTrue, onFalse)
		return nil
	}
	ip := prog.newLabel()
	prog.checkIPv4(ip, onFalse)
	prog.mark(ip)

	switch p.kind {
	case filterKindUnset:
		prog.add(loadIPv4Protocol(prog.offset))
		prog.jumpIf(bpf.JumpEqual, ipProtocols[p.protocol], onTrue, onFalse)
	case filterKindHost:
		addr, err := parseHost(p.id)
		if err != nil {
			return err
		}
		prog.compareLoaded(p.direction, addr, 0, addressFields(prog.offset), onTrue, onFalse)
	case filterKindNet:
		prefix, err := parseNet(p.id)
		if err != nil {
			return err
		}
		mask := binary.BigEndian.Uint32(net.CIDRMask(prefix.Bits(), 32))
		addr := binary.BigEndian.Uint32(prefix.Addr().AsSlice())
		prog.compareLoaded(p.direction, addr, mask, addressFields(prog.offset), onTrue, onFalse)
	case filterKindPort:
		port, err := parsePort(p.id, p.protocol)
		if err != nil {
			return err
		}
		ports := prog.newLabel()
		prog.add(loadIPv4Protocol(prog.offset))
		if proto, ok := ipProtocols[p.protocol]; ok {
			prog.jumpIf(bpf.JumpEqual, proto, ports, onFalse)
		} else {
			udp := prog.newLabel()
			prog.jumpIf(bpf.JumpEqual, ipProtocolTCP, ports, udp)
			prog.mark(udp)
			prog.jumpIf(bpf.JumpEqual, ipProtocolUDP, ports, onFalse)
		}
		prog.mark(ports)
		prog.loadTransportOffset(onFalse)
		fields := [2]bpf.Instruction{loadIPv4SourcePort(prog.offset), loadIPv4DestinationPort(prog.offset)}
		prog.compareLoaded(p.direction, uint32(port), 0, fields, onTrue, onFalse)
	}
	return nil
}

// anyIPv4 whether every IPv4 frame matches, as for "ip" or "net 0.0.0.0/0"
func (p primitive) anyIPv4() bool {
	switch p.kind {
	case filterKindUnset:
		return p.protocol == filterProtocolIP
	case filterKindNet:
		prefix, err := parseNet(p.id)
		return err == nil && prefix.Bits() == 0
	}
	return false
}

func addressFields(offset uint32) [2]bpf.Instruction {
	return [2]bpf.Instruction{loadIPv4SourceAddress(offset), loadIPv4DestinationAddress(offset)}
}

// parseHost hosts must be IPv4 literals; names are not resolved
func parseHost(id string) (uint32, error) {
	addr, err := netip.ParseAddr(id)
	if err != nil || !addr.Is4() {
		return 0, fmt.Errorf("invalid IPv4 host: %q", id)
	}
	return binary.BigEndian.Uint32(addr.AsSlice()), nil
}

// parseNet accept a CIDR prefix or a plain address, which is a /32
func parseNet(id string) (netip.Prefix, error) {
	if addr, err := netip.ParseAddr(id); err == nil && addr.Is4() {
		return netip.PrefixFrom(addr, 32), nil
	}
	prefix, err := netip.ParsePrefix(id)
	if err != nil || !prefix.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("invalid IPv4 net: %q", id)
	}
	return prefix.Masked(), nil
}

// parsePort accept a number or a service name from the services database
func parsePort(id string, protocol filterProtocol) (uint16, error) {
	if n, err := strconv.ParseUint(id, 10, 16); err == nil {
		return uint16(n), nil
	}
	network := "tcp"
	if protocol == filterProtocolUDP {
		network = "udp"
	}
	n, err := net.LookupPort(network, id)
	if err != nil {
		return 0, fmt.Errorf("invalid port: %q", id)
	}
	return uint16(n), nil
}

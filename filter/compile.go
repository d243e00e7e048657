package filter

import (
	"errors"
	"fmt"

	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"
)

// ErrTooLong a conditional jump in the program would skip more than a classic
// BPF jump can encode.
var ErrTooLong = errors.New("filter program too long")

var (
	returnDrop = bpf.RetConstant{Val: 0}
	returnKeep = bpf.RetConstant{Val: 0x40000}
)

// linkTypeIPv4 LINKTYPE_IPV4
const linkTypeIPv4 layers.LinkType = 228

// label a jump target inside a program being built. Negative labels are the two
// returns at the end of every program.
type label int

const (
	labelKeep label = -1
	labelDrop label = -2
)

// step one instruction of a program being built. Conditional jumps name their
// targets by label; they are turned into skip counts by assemble.
type step struct {
	ins     bpf.Instruction
	jump    bool
	cond    bpf.JumpTest
	val     uint32
	onTrue  label
	onFalse label
}

// program collects steps for one link type.
type program struct {
	linkType layers.LinkType
	// offset of the IPv4 header from the start of the frame
	offset uint32
	steps  []step
	marks  []int
}

func newProgram(linkType layers.LinkType) (*program, error) {
	p := &program{linkType: linkType}
	switch linkType {
	case layers.LinkTypeEthernet:
		p.offset = 14
	case layers.LinkTypeLinuxSLL:
		p.offset = 16
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		p.offset = 4
	case layers.LinkTypeRaw, linkTypeIPv4, 12, 14:
		p.offset = 0
	default:
		return nil, fmt.Errorf("link type %s not supported", linkType)
	}
	return p, nil
}

func (p *program) newLabel() label {
	p.marks = append(p.marks, -1)
	return label(len(p.marks) - 1)
}

// mark place l at the next step to be added
func (p *program) mark(l label) {
	p.marks[l] = len(p.steps)
}

func (p *program) add(ins ...bpf.Instruction) {
	for _, i := range ins {
		p.steps = append(p.steps, step{ins: i})
	}
}

func (p *program) jumpIf(cond bpf.JumpTest, val uint32, onTrue, onFalse label) {
	p.steps = append(p.steps, step{jump: true, cond: cond, val: val, onTrue: onTrue, onFalse: onFalse})
}

// assemble resolve labels into skips and append the keep and drop returns.
func (p *program) assemble() ([]bpf.Instruction, error) {
	keep, drop := len(p.steps), len(p.steps)+1
	target := func(l label) int {
		switch l {
		case labelKeep:
			return keep
		case labelDrop:
			return drop
		}
		return p.marks[l]
	}
	inst := make([]bpf.Instruction, 0, len(p.steps)+2)
	for i, s := range p.steps {
		if !s.jump {
			inst = append(inst, s.ins)
			continue
		}
		st, sf := target(s.onTrue)-i-1, target(s.onFalse)-i-1
		if st < 0 || sf < 0 {
			return nil, fmt.Errorf("unresolved jump at step %d", i)
		}
		if st > maxConditionalRun || sf > maxConditionalRun {
			return nil, ErrTooLong
		}
		inst = append(inst, bpf.JumpIf{Cond: s.cond, Val: s.val, SkipTrue: uint8(st), SkipFalse: uint8(sf)})
	}
	return append(inst, returnKeep, returnDrop), nil
}

func loadIPv4Protocol(offset uint32) bpf.Instruction {
	return bpf.LoadAbsolute{Off: offset + ipProtocolOffset, Size: lengthByte}
}

func loadIPv4SourceAddress(offset uint32) bpf.Instruction {
	return bpf.LoadAbsolute{Off: offset + ipSourceOffset, Size: lengthWord}
}

func loadIPv4DestinationAddress(offset uint32) bpf.Instruction {
	return bpf.LoadAbsolute{Off: offset + ipDestOffset, Size: lengthWord}
}

func loadIPv4SourcePort(offset uint32) bpf.Instruction {
	return bpf.LoadIndirect{Off: offset + portSourceOffset, Size: lengthHalf}
}

func loadIPv4DestinationPort(offset uint32) bpf.Instruction {
	return bpf.LoadIndirect{Off: offset + portDestOffset, Size: lengthHalf}
}

// checkIPv4 jump to onTrue when the frame carries IPv4 over the program's link
// type, to onFalse otherwise.
func (p *program) checkIPv4(onTrue, onFalse label) {
	switch p.linkType {
	case layers.LinkTypeEthernet:
		p.add(bpf.LoadAbsolute{Off: 12, Size: lengthHalf})
		p.jumpIf(bpf.JumpEqual, etherTypeIPv4, onTrue, onFalse)
	case layers.LinkTypeLinuxSLL:
		p.add(bpf.LoadAbsolute{Off: 14, Size: lengthHalf})
		p.jumpIf(bpf.JumpEqual, etherTypeIPv4, onTrue, onFalse)
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		// the family is in the byte order of the capturing host
		next := p.newLabel()
		p.add(bpf.LoadAbsolute{Off: 0, Size: lengthWord})
		p.jumpIf(bpf.JumpEqual, afInetSwapped, onTrue, next)
		p.mark(next)
		p.jumpIf(bpf.JumpEqual, afInet, onTrue, onFalse)
	default:
		p.add(
			bpf.LoadAbsolute{Off: 0, Size: lengthByte},
			bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: ipVersionMask},
		)
		p.jumpIf(bpf.JumpEqual, ipVersion4, onTrue, onFalse)
	}
}

// loadTransportOffset fail to onFalse for non-first fragments, then load the
// IPv4 header length into X.
func (p *program) loadTransportOffset(onFalse label) {
	next := p.newLabel()
	p.add(bpf.LoadAbsolute{Off: p.offset + ipFlagsOffset, Size: lengthHalf})
	p.jumpIf(bpf.JumpBitsSet, fragmentMask, onFalse, next)
	p.mark(next)
	p.add(bpf.LoadMemShift{Off: p.offset})
}

// compareLoaded run load, optionally masked, and compare the result with val for
// each of the direction's fields. fields[0] is the source, fields[1] the destination.
func (p *program) compareLoaded(direction filterDirection, val uint32, mask uint32, fields [2]bpf.Instruction, onTrue, onFalse label) {
	load := func(i int) {
		p.add(fields[i])
		if mask != 0 && mask != 0xffffffff {
			p.add(bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: mask})
		}
	}
	switch direction {
	case filterDirectionSrc:
		load(0)
		p.jumpIf(bpf.JumpEqual, val, onTrue, onFalse)
	case filterDirectionDst:
		load(1)
		p.jumpIf(bpf.JumpEqual, val, onTrue, onFalse)
	case filterDirectionSrcAndDst:
		next := p.newLabel()
		load(0)
		p.jumpIf(bpf.JumpEqual, val, next, onFalse)
		p.mark(next)
		load(1)
		p.jumpIf(bpf.JumpEqual, val, onTrue, onFalse)
	default:
		next := p.newLabel()
		load(0)
		p.jumpIf(bpf.JumpEqual, val, onTrue, next)
		p.mark(next)
		load(1)
		p.jumpIf(bpf.JumpEqual, val, onTrue, onFalse)
	}
}

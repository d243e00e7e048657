package filter

import (
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"
)

// Filter a tcpdump filter expression compiled to classic BPF for one link type.
// Supported: ip, tcp, udp, icmp, host, net, port, src, dst, "src or dst",
// "src and dst", not/!, and/&&, or/|| and parentheses. Hosts must be IPv4 literals.
type Filter struct {
	expr         string
	linkType     layers.LinkType
	instructions []bpf.Instruction
	raw          []bpf.RawInstruction
	vm           *bpf.VM
}

// Compile parse expr and build its program. An empty expression matches every frame.
func Compile(expr string, linkType layers.LinkType) (*Filter, error) {
	prog, err := newProgram(linkType)
	if err != nil {
		return nil, err
	}
	f := &Filter{expr: expr, linkType: linkType}
	if e := NewExpression(expr); e == nil {
		f.instructions = []bpf.Instruction{returnKeep}
	} else {
		n, err := e.Parse()
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", expr, err)
		}
		if err := n.emit(prog, labelKeep, labelDrop); err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", expr, err)
		}
		if f.instructions, err = prog.assemble(); err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", expr, err)
		}
	}
	if f.raw, err = bpf.Assemble(f.instructions); err != nil {
		return nil, fmt.Errorf("assembling filter %q: %w", expr, err)
	}
	if f.vm, err = bpf.NewVM(f.instructions); err != nil {
		return nil, fmt.Errorf("loading filter %q: %w", expr, err)
	}
	return f, nil
}

// Match whether the frame passes the filter, run in user space.
func (f *Filter) Match(data []byte) bool {
	n, err := f.vm.Run(data)
	return err == nil && n > 0
}

// Instructions the program, ending with the keep and drop returns.
func (f *Filter) Instructions() []bpf.Instruction {
	return f.instructions
}

// Raw the assembled program, as handed to the kernel.
func (f *Filter) Raw() []bpf.RawInstruction {
	return f.raw
}

func (f *Filter) LinkType() layers.LinkType {
	return f.linkType
}

func (f *Filter) String() string {
	return f.expr
}

// Dump the program one instruction per line, like tcpdump -d.
func (f *Filter) Dump() string {
	var b strings.Builder
	for i, ins := range f.instructions {
		fmt.Fprintf(&b, "(%03d) %v\n", i, ins)
	}
	return b.String()
}

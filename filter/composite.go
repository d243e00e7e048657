package filter

// composite two nodes joined by "and" or "or". Chains are left-associative,
// as in tcpdump: "a or b and c" is "(a or b) and c".
type composite struct {
	left, right node
	and         bool
}

func (c composite) emit(p *program, onTrue, onFalse label) error {
	// the right side runs only when the left side did not already decide:
	//   - 'and': a failure of the left is straight to fail
	//   - 'or': a success of the left is straight to success
	next := p.newLabel()
	var err error
	if c.and {
		err = c.left.emit(p, next, onFalse)
	} else {
		err = c.left.emit(p, onTrue, next)
	}
	if err != nil {
		return err
	}
	p.mark(next)
	return c.right.emit(p, onTrue, onFalse)
}

func (c composite) String() string {
	joiner := " or "
	if c.and {
		joiner = " and "
	}
	return "(" + c.left.String() + joiner + c.right.String() + ")"
}

// negation inverts a node by swapping its targets; it adds no instructions.
type negation struct {
	node node
}

func (n negation) emit(p *program, onTrue, onFalse label) error {
	return n.node.emit(p, onFalse, onTrue)
}

func (n negation) String() string {
	return "not " + n.node.String()
}

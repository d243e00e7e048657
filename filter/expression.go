package filter

import (
	"errors"
	"fmt"
	"strings"
)

// Expression a tcpdump filter expression, split into words and parsed left to right.
type Expression struct {
	raw     string
	split   []string
	current int
	// the previous primitive, whose qualifiers a bare id inherits
	last *primitive
}

// parentheses and the C-style operators stand alone even without spaces around them
var wordSplitter = strings.NewReplacer("(", " ( ", ")", " ) ", "&&", " and ", "||", " or ", "!", " not ")

func NewExpression(s string) *Expression {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &Expression{
		raw:   s,
		split: strings.Fields(wordSplitter.Replace(s)),
	}
}

// HasNext if there are any more words to parse
func (e *Expression) HasNext() bool {
	return len(e.split) > e.current
}

func (e *Expression) peek() string {
	if !e.HasNext() {
		return ""
	}
	return e.split[e.current]
}

// Parse the whole expression into a tree of nodes.
func (e *Expression) Parse() (node, error) {
	n, err := e.parseJoined()
	if err != nil {
		return nil, err
	}
	if e.HasNext() {
		return nil, fmt.Errorf("unexpected %q at word %d", e.peek(), e.current+1)
	}
	return n, nil
}

func (e *Expression) parseJoined() (node, error) {
	left, err := e.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		word := e.peek()
		if word != "and" && word != "or" {
			return left, nil
		}
		e.current++
		right, err := e.parseUnary()
		if err != nil {
			return nil, err
		}
		left = composite{left: left, right: right, and: word == "and"}
	}
}

func (e *Expression) parseUnary() (node, error) {
	switch e.peek() {
	case "":
		return nil, errors.New("unexpected end of expression")
	case "not":
		e.current++
		n, err := e.parseUnary()
		if err != nil {
			return nil, err
		}
		return negation{node: n}, nil
	case "(":
		e.current++
		n, err := e.parseJoined()
		if err != nil {
			return nil, err
		}
		if e.peek() != ")" {
			return nil, fmt.Errorf("missing ')' at word %d", e.current+1)
		}
		e.current++
		return n, nil
	}
	return e.parsePrimitive()
}

// parsePrimitive read qualifiers up to and including the id.
func (e *Expression) parsePrimitive() (node, error) {
	start := e.current
	p := primitive{}

words:
	for e.HasNext() {
		word := e.split[e.current]
		switch word {
		case "and", "or", "not", "(", ")":
			break words
		case "src":
			// handle the "src or dst"/"src and dst" case
			if len(e.split) > e.current+2 && (e.split[e.current+1] == "or" || e.split[e.current+1] == "and") && e.split[e.current+2] == "dst" {
				word = strings.Join(e.split[e.current:e.current+3], " ")
				e.current += 2
			}
		}
		if kind, ok := kinds[word]; ok {
			p.kind = kind
		} else if direction, ok := directions[word]; ok {
			p.direction = direction
		} else if protocol, ok := protocols[word]; ok {
			p.protocol = protocol
		} else {
			// the id ends the primitive
			p.id = word
			e.current++
			break
		}
		e.current++
	}
	if e.current == start {
		return nil, fmt.Errorf("unexpected %q at word %d", e.peek(), e.current+1)
	}
	setPrimitiveDefaults(&p, e.last)
	if err := p.validate(); err != nil {
		return nil, err
	}
	e.last = &p
	return p, nil
}

// setPrimitiveDefaults set defaults on expressions
func setPrimitiveDefaults(p, lastPrimitive *primitive) {
	if p.direction == filterDirectionUnset && p.protocol == filterProtocolUnset && p.kind == filterKindUnset {
		// identical qualifier lists can be omitted: "port 53 or 80" is "port 53 or port 80"
		if lastPrimitive != nil && lastPrimitive.kind != filterKindUnset {
			p.direction = lastPrimitive.direction
			p.kind = lastPrimitive.kind
			p.protocol = lastPrimitive.protocol
		} else {
			p.kind = filterKindHost
		}
	}
	if p.kind == filterKindUnset && p.direction != filterDirectionUnset {
		p.kind = filterKindHost
	}
	if p.kind != filterKindUnset && p.direction == filterDirectionUnset {
		p.direction = filterDirectionSrcOrDst
	}
}

package report

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/packetcap/go-sniff/dissect"
)

// Writer prints a Summary line per frame, numbering frames from 1.
type Writer struct {
	out  io.Writer
	dump bool
	n    int
}

type Option func(*Writer)

// WithHexDump follows each line with a hex dump of the frame's undecoded tail.
func WithHexDump(on bool) Option {
	return func(w *Writer) {
		w.dump = on
	}
}

func NewWriter(out io.Writer, opts ...Option) *Writer {
	w := &Writer{out: out}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) Write(d dissect.DissectedFrame) error {
	w.n++
	if _, err := fmt.Fprintln(w.out, Summary(w.n, d)); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if w.dump && len(d.Tail) > 0 {
		if _, err := io.WriteString(w.out, hex.Dump(d.Tail)); err != nil {
			return fmt.Errorf("failed to write dump: %w", err)
		}
	}
	return nil
}

// Count frames written so far.
func (w *Writer) Count() int {
	return w.n
}

package dissect

import "encoding/binary"

// Cursor is a bounds-checked read position over a frame's bytes. Frame bytes are
// untrusted, so every read is checked against the visible end of the buffer and
// a failed read leaves the position where it was.
//
// Invariant: 0 <= pos <= end <= len(buf).
type Cursor struct {
	buf       []byte
	pos       int
	end       int
	truncated bool
}

// NewCursor returns a cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b, end: len(b)}
}

// newFrameCursor cursor over a captured frame; truncated records that the capture
// cut the frame short, so running out of bytes is expected rather than suspicious.
func newFrameCursor(b []byte, truncated bool) *Cursor {
	return &Cursor{buf: b, end: len(b), truncated: truncated}
}

// Pos current offset from the start of the buffer.
func (c *Cursor) Pos() int {
	return c.pos
}

// Remaining bytes left before the visible end.
func (c *Cursor) Remaining() int {
	return c.end - c.pos
}

// Truncated whether the underlying frame was cut short by the capture snap length.
func (c *Cursor) Truncated() bool {
	return c.truncated
}

// ReadFixed returns the next n bytes and advances past them. The returned slice
// aliases the frame buffer.
func (c *Cursor) ReadFixed(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, ErrTruncated
	}
	b := c.buf[c.pos : c.pos+n : c.pos+n]
	c.pos += n
	return b, nil
}

// Skip advances n bytes without returning them.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return ErrTruncated
	}
	c.pos += n
	return nil
}

// PeekU8 reads the byte at pos+off without advancing.
func (c *Cursor) PeekU8(off int) (uint8, error) {
	if off < 0 || off >= c.Remaining() {
		return 0, ErrTruncated
	}
	return c.buf[c.pos+off], nil
}

// PeekU16 reads a big-endian uint16 at pos+off without advancing.
func (c *Cursor) PeekU16(off int) (uint16, error) {
	if off < 0 || off+2 > c.Remaining() {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint16(c.buf[c.pos+off:]), nil
}

func (c *Cursor) ReadU8() (uint8, error) {
	b, err := c.ReadFixed(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) ReadU16() (uint16, error) {
	b, err := c.ReadFixed(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *Cursor) ReadU32() (uint32, error) {
	b, err := c.ReadFixed(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Rest the visible bytes after pos, without advancing.
func (c *Cursor) Rest() []byte {
	return c.buf[c.pos:c.end:c.end]
}

// Limit shrinks the visible window to the next n bytes. Whatever lies beyond is
// reachable through Trailer. If fewer than n bytes remain the window is left as is
// and Limit reports false.
func (c *Cursor) Limit(n int) bool {
	if n < 0 || n > c.Remaining() {
		return false
	}
	c.end = c.pos + n
	return true
}

// Trailer bytes after the visible window, i.e. everything cut off by Limit.
func (c *Cursor) Trailer() []byte {
	return c.buf[c.end:len(c.buf):len(c.buf)]
}

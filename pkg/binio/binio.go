// Package binio provides a bounded little-endian decoder for firmware
// byte buffers.
//
// Firmware replies (and the platform's audio topology table) arrive as
// raw byte spans whose declared lengths cannot be trusted. Decoder fails
// without advancing on any out-of-range read, so a truncated buffer is
// detected at the first short field rather than producing a partial
// parse.
package binio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a read would run past the end of the
// buffer. The decoder position is unchanged.
var ErrShortBuffer = errors.New("binio: read past end of buffer")

// Decoder reads little-endian values from a byte span, tracking its
// position. All reads are bounds-checked; a failed read does not move
// the position.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder wraps buf. The decoder does not copy: buf must not change
// while decoding.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

// Offset returns the current position.
func (d *Decoder) Offset() int {
	return d.off
}

// Bytes reads n bytes and returns them as a subslice of the underlying
// buffer.
func (d *Decoder) Bytes(n int) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrShortBuffer, n, d.Remaining())
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// Skip advances past n bytes.
func (d *Decoder) Skip(n int) error {
	_, err := d.Bytes(n)
	return err
}

// Uint16 reads a little-endian 16-bit value.
func (d *Decoder) Uint16() (uint16, error) {
	b, err := d.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian 32-bit value.
func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// String reads an n-byte fixed-width field and trims trailing NULs, the
// firmware's convention for short name fields.
func (d *Decoder) String(n int) (string, error) {
	b, err := d.Bytes(n)
	if err != nil {
		return "", err
	}
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end]), nil
}

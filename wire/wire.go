// Copyright (C) 2019 Nicola Murino
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package wire implements the SSH binary packet primitives described in
// RFC 4251 section 5: length-prefixed strings, uint8, uint32 and boolean
// values, big-endian on the wire
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a read runs past the end of the buffer
var ErrTruncated = errors.New("truncated buffer")

// Buffer accumulates outgoing packet payloads and sequentially decodes
// incoming ones. The zero value is an empty buffer ready for use
type Buffer struct {
	data []byte
	pos  int
}

// New returns an empty buffer for building an outgoing payload
func New() *Buffer {
	return &Buffer{}
}

// NewReader returns a buffer that decodes the given payload.
// The payload is not copied
func NewReader(data []byte) *Buffer {
	return &Buffer{data: data}
}

// AddU8 appends a single byte
func (b *Buffer) AddU8(v byte) {
	b.data = append(b.data, v)
}

// AddBool appends an SSH boolean, encoded as one byte
func (b *Buffer) AddBool(v bool) {
	if v {
		b.AddU8(1)
	} else {
		b.AddU8(0)
	}
}

// AddU32 appends a big-endian uint32
func (b *Buffer) AddU32(v uint32) {
	b.data = binary.BigEndian.AppendUint32(b.data, v)
}

// AddString appends a length-prefixed string
func (b *Buffer) AddString(s string) {
	b.AddU32(uint32(len(s)))
	b.data = append(b.data, s...)
}

// AddBytes appends a length-prefixed byte string
func (b *Buffer) AddBytes(p []byte) {
	b.AddU32(uint32(len(p)))
	b.data = append(b.data, p...)
}

// AddRaw appends raw bytes with no length prefix
func (b *Buffer) AddRaw(p []byte) {
	b.data = append(b.data, p...)
}

// GetU8 reads a single byte
func (b *Buffer) GetU8() (byte, error) {
	if b.pos+1 > len(b.data) {
		return 0, ErrTruncated
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

// GetBool reads an SSH boolean. Any non-zero byte is true
func (b *Buffer) GetBool() (bool, error) {
	v, err := b.GetU8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// GetU32 reads a big-endian uint32
func (b *Buffer) GetU32() (uint32, error) {
	if b.pos+4 > len(b.data) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

// GetBytes reads a length-prefixed byte string. The returned slice is a copy
func (b *Buffer) GetBytes() ([]byte, error) {
	length, err := b.GetU32()
	if err != nil {
		return nil, err
	}
	if uint64(b.pos)+uint64(length) > uint64(len(b.data)) {
		return nil, ErrTruncated
	}
	p := make([]byte, length)
	copy(p, b.data[b.pos:])
	b.pos += int(length)
	return p, nil
}

// GetString reads a length-prefixed string
func (b *Buffer) GetString() (string, error) {
	p, err := b.GetBytes()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// Bytes returns the accumulated payload
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes in the buffer
func (b *Buffer) Len() int {
	return len(b.data)
}

// Remaining returns the number of undecoded bytes
func (b *Buffer) Remaining() int {
	return len(b.data) - b.pos
}

// Scrub overwrites the buffer contents with zeros and resets it.
// It must be called once a payload carrying credentials has been
// handed to the transport
func (b *Buffer) Scrub() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.data = b.data[:0]
	b.pos = 0
}

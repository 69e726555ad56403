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

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	b := New()
	b.AddU8(50)
	b.AddString("alice")
	b.AddString("ssh-connection")
	b.AddString("none")
	b.AddBool(true)
	b.AddU32(0xdeadbeef)
	b.AddBytes([]byte{1, 2, 3})

	r := NewReader(b.Bytes())
	v, err := r.GetU8()
	require.NoError(t, err)
	assert.Equal(t, byte(50), v)
	s, err := r.GetString()
	require.NoError(t, err)
	assert.Equal(t, "alice", s)
	s, err = r.GetString()
	require.NoError(t, err)
	assert.Equal(t, "ssh-connection", s)
	s, err = r.GetString()
	require.NoError(t, err)
	assert.Equal(t, "none", s)
	flag, err := r.GetBool()
	require.NoError(t, err)
	assert.True(t, flag)
	u, err := r.GetU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), u)
	p, err := r.GetBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, p)
	assert.Equal(t, 0, r.Remaining())
}

func TestBufferEncoding(t *testing.T) {
	b := New()
	b.AddString("ab")
	assert.Equal(t, []byte{0, 0, 0, 2, 'a', 'b'}, b.Bytes())

	b = New()
	b.AddBool(false)
	b.AddBool(true)
	assert.Equal(t, []byte{0, 1}, b.Bytes())

	b = New()
	b.AddU32(258)
	assert.Equal(t, []byte{0, 0, 1, 2}, b.Bytes())
}

func TestBufferTruncated(t *testing.T) {
	r := NewReader([]byte{0, 0, 0, 5, 'a'})
	_, err := r.GetString()
	assert.ErrorIs(t, err, ErrTruncated)

	r = NewReader([]byte{0, 0})
	_, err = r.GetU32()
	assert.ErrorIs(t, err, ErrTruncated)

	r = NewReader(nil)
	_, err = r.GetU8()
	assert.ErrorIs(t, err, ErrTruncated)

	// length prefix larger than the remaining payload must not overflow
	r = NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	_, err = r.GetBytes()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestBufferScrub(t *testing.T) {
	b := New()
	b.AddString("hunter2")
	raw := b.Bytes()
	b.Scrub()
	assert.Equal(t, 0, b.Len())
	for _, v := range raw {
		assert.Equal(t, byte(0), v)
	}
}

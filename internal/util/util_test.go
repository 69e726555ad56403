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

package util

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"a", "b"}, "a"))
	assert.False(t, Contains([]string{"a", "b"}, "c"))
	assert.False(t, Contains(nil, "a"))
	assert.True(t, Contains([]int{1, 2, 3}, 2))
}

func TestRemoveDuplicates(t *testing.T) {
	assert.Nil(t, RemoveDuplicates(nil, false))
	assert.Equal(t, []string{"a", "b"}, RemoveDuplicates([]string{"a", "b", "a"}, false))
	assert.Equal(t, []string{"a", "b"}, RemoveDuplicates([]string{" a", "b ", "a"}, true))
}

func TestMemsetZero(t *testing.T) {
	b := []byte("sensitive")
	MemsetZero(b)
	for _, v := range b {
		assert.Equal(t, byte(0), v)
	}
	MemsetZero(nil)
}

func TestExpandPath(t *testing.T) {
	home := GetHomeDir()
	if home == "" {
		t.Skip("no home directory available")
	}
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, ".ssh", "id_rsa"), ExpandPath(filepath.Join("~", ".ssh", "id_rsa")))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, "relative", ExpandPath("relative"))
}

func TestGenerateRandomBytes(t *testing.T) {
	b := GenerateRandomBytes(32)
	assert.Len(t, b, 32)
	assert.NotEqual(t, b, GenerateRandomBytes(32))
}

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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	Init()
	err := LoadConfig(t.TempDir(), "")
	require.NoError(t, err)
	cfg := GetClientConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, 30, cfg.Timeout)
	assert.False(t, cfg.Compression)
	assert.Len(t, cfg.IdentityFiles, 3)
	assert.Equal(t, "localhost:22", cfg.Address())
}

func TestLoadConfigFromFile(t *testing.T) {
	Init()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "libssh.json")
	data := `{"client":{"host":"ssh.example.com","port":2022,"username":"alice","compression":true,` +
		`"identity_files":["/keys/id_ed25519","/keys/id_ed25519"]}}`
	require.NoError(t, os.WriteFile(configPath, []byte(data), 0644))

	err := LoadConfig(dir, "")
	require.NoError(t, err)
	cfg := GetClientConfig()
	assert.Equal(t, "ssh.example.com", cfg.Host)
	assert.Equal(t, 2022, cfg.Port)
	assert.Equal(t, "alice", cfg.Username)
	assert.True(t, cfg.Compression)
	// duplicates are removed
	assert.Equal(t, []string{"/keys/id_ed25519"}, cfg.IdentityFiles)
	assert.Equal(t, "ssh.example.com:2022", cfg.Address())
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	Init()
	err := LoadConfig(t.TempDir(), "missing.json")
	assert.Error(t, err)
}

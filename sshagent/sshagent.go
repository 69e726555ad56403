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

// Package sshagent talks to a running ssh-agent: it enumerates the held
// identities and delegates userauth signatures to the agent, so the client
// never sees the private key material
package sshagent

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/serpent213/libssh/pki"
	"github.com/serpent213/libssh/wire"
)

// ErrNotRunning is returned when no agent socket is available
var ErrNotRunning = errors.New("ssh-agent is not running")

const envAuthSock = "SSH_AUTH_SOCK"

// IsRunning returns true if an agent socket is advertised in the environment
func IsRunning() bool {
	return os.Getenv(envAuthSock) != ""
}

// Conn is a connection to a running ssh-agent
type Conn struct {
	conn   net.Conn
	client agent.ExtendedAgent
	keys   []*agent.Key
	next   int
}

// New connects to the agent advertised by SSH_AUTH_SOCK
func New() (*Conn, error) {
	sock := os.Getenv(envAuthSock)
	if sock == "" {
		return nil, ErrNotRunning
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to ssh-agent: %w", err)
	}
	return &Conn{
		conn:   conn,
		client: agent.NewClient(conn),
	}, nil
}

// Close closes the agent connection
func (c *Conn) Close() error {
	return c.conn.Close()
}

// FirstIdentity refreshes the identity list from the agent and returns the
// first one with its comment. io.EOF is returned if the agent holds no keys
func (c *Conn) FirstIdentity() (*pki.Key, string, error) {
	keys, err := c.client.List()
	if err != nil {
		return nil, "", fmt.Errorf("unable to list agent identities: %w", err)
	}
	c.keys = keys
	c.next = 0
	return c.NextIdentity()
}

// NextIdentity returns the next identity from the list fetched by
// FirstIdentity. io.EOF is returned once the list is exhausted
func (c *Conn) NextIdentity() (*pki.Key, string, error) {
	if c.next >= len(c.keys) {
		return nil, "", io.EOF
	}
	key := c.keys[c.next]
	c.next++
	return pki.NewPublicKey(key, key.Comment), key.Comment, nil
}

// SignUserauth asks the agent to sign a publickey USERAUTH_REQUEST with the
// private half of the given identity. The signed data and the returned blob
// follow RFC 4252 section 7, same as pki.SignUserauth
func (c *Conn) SignUserauth(sessionID, request []byte, key *pki.Key) ([]byte, error) {
	pub, err := ssh.ParsePublicKey(key.Blob())
	if err != nil {
		return nil, fmt.Errorf("invalid agent identity: %w", err)
	}
	buf := wire.New()
	buf.AddBytes(sessionID)
	buf.AddRaw(request)
	sig, err := c.client.Sign(pub, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("agent signature failed: %w", err)
	}
	return pki.MarshalSignature(sig), nil
}

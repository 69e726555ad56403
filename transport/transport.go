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

// Package transport implements the SSH binary packet protocol described in
// RFC 4253: version exchange, key exchange, packet framing with encryption
// and integrity, service requests and a packet pump that routes incoming
// packets to registered handlers
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/xid"
	"golang.org/x/crypto/ssh"

	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/wire"
)

const logSender = "transport"

// SSH transport layer message numbers
const (
	msgDisconnect     = 1
	msgIgnore         = 2
	msgUnimplemented  = 3
	msgDebug          = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6
	msgKexInit        = 20
	msgNewKeys        = 21
	msgKexECDHInit    = 30
	msgKexECDHReply   = 31
)

var (
	// ErrWouldBlock is returned in non-blocking mode when the operation
	// cannot complete without waiting for the peer
	ErrWouldBlock = errors.New("operation would block, try again")
	// ErrTimeout is returned when the user timeout elapses before the
	// termination condition is met
	ErrTimeout = errors.New("timeout waiting for packet")
)

// HostKeyCallback is invoked during key exchange to verify the server host
// key. Returning an error aborts the handshake
type HostKeyCallback func(address string, key ssh.PublicKey) error

// Config holds the transport settings
type Config struct {
	// ClientVersion is the identification string sent to the server,
	// without the trailing CR LF
	ClientVersion string
	// EnableCompression offers zlib@openssh.com delayed compression
	// during key exchange
	EnableCompression bool
	// HostKeyCallback verifies the server host key. If nil the key
	// fingerprint is logged and accepted
	HostKeyCallback HostKeyCallback
	// NonBlocking makes packet reads return ErrWouldBlock instead of
	// waiting for the peer
	NonBlocking bool
}

// Conn is an SSH transport connection
type Conn struct {
	conn    net.Conn
	config  Config
	id      string
	address string

	readSeq  uint32
	writeSeq uint32

	crypto crypto

	sessionID []byte
	handlers  map[byte]func(payload []byte)

	serviceRequested map[string]bool
	serviceAccepted  map[string]bool
}

// Dial connects to the given address and returns a transport connection.
// The connection is not usable until Handshake completes
func Dial(address string, config Config) (*Conn, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %q: %w", address, err)
	}
	return NewConn(conn, address, config), nil
}

// NewConn wraps an established network connection.
// The connection is not usable until Handshake completes
func NewConn(conn net.Conn, address string, config Config) *Conn {
	if config.ClientVersion == "" {
		config.ClientVersion = defaultClientVersion
	}
	return &Conn{
		conn:             conn,
		config:           config,
		id:               xid.New().String(),
		address:          address,
		handlers:         make(map[byte]func(payload []byte)),
		serviceRequested: make(map[string]bool),
		serviceAccepted:  make(map[string]bool),
	}
}

// ID returns the connection identifier used in logs
func (c *Conn) ID() string {
	return c.id
}

// Close closes the underlying connection
func (c *Conn) Close() error {
	return c.conn.Close()
}

// SetNonBlocking switches the connection between blocking and
// non-blocking mode
func (c *Conn) SetNonBlocking(value bool) {
	c.config.NonBlocking = value
}

// SessionID returns the session identifier, the exchange hash of the
// first key exchange. It is only available after Handshake
func (c *Conn) SessionID() []byte {
	return c.sessionID
}

// RegisterHandler routes incoming packets with the given message number to
// the handler. The handler receives the payload after the message byte
func (c *Conn) RegisterHandler(msgType byte, handler func(payload []byte)) {
	c.handlers[msgType] = handler
}

// SendPacket frames and sends a single packet payload.
// The payload is not retained
func (c *Conn) SendPacket(payload []byte) error {
	return c.writePacket(payload)
}

// HandlePacketsTermination reads and dispatches incoming packets until
// terminate returns true, the timeout elapses (ErrTimeout) or, in
// non-blocking mode, the read would block (ErrWouldBlock).
// A timeout of zero waits forever
func (c *Conn) HandlePacketsTermination(timeout time.Duration, terminate func() bool) error {
	var deadline time.Time
	if c.config.NonBlocking {
		deadline = time.Now().Add(time.Millisecond)
	} else if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if terminate() {
			return nil
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		payload, err := c.readPacket()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if c.config.NonBlocking {
					return ErrWouldBlock
				}
				return ErrTimeout
			}
			return err
		}
		if err := c.dispatch(payload); err != nil {
			return err
		}
	}
}

func (c *Conn) dispatch(payload []byte) error {
	if len(payload) == 0 {
		return errors.New("empty packet payload")
	}
	msgType := payload[0]
	switch msgType {
	case msgDisconnect:
		buf := wire.NewReader(payload[1:])
		reason, _ := buf.GetU32()
		description, _ := buf.GetString()
		logger.Debug(logSender, c.id, "received SSH_MSG_DISCONNECT: %d %q", reason, description)
		return fmt.Errorf("server disconnected: %s (reason %d)", description, reason)
	case msgIgnore:
		return nil
	case msgDebug:
		buf := wire.NewReader(payload[1:])
		buf.GetBool() //nolint:errcheck // the display flag is not used
		message, _ := buf.GetString()
		logger.Debug(logSender, c.id, "received SSH_MSG_DEBUG: %q", message)
		return nil
	case msgServiceAccept:
		buf := wire.NewReader(payload[1:])
		name, err := buf.GetString()
		if err != nil {
			return fmt.Errorf("invalid SSH_MSG_SERVICE_ACCEPT: %w", err)
		}
		logger.Debug(logSender, c.id, "service %q accepted", name)
		c.serviceAccepted[name] = true
		return nil
	default:
		if handler, ok := c.handlers[msgType]; ok {
			handler(payload[1:])
			return nil
		}
		logger.Debug(logSender, c.id, "unhandled packet type %d", msgType)
		return nil
	}
}

// RequestService asks the server for the named service, e.g.
// "ssh-userauth". The call is idempotent after the first success.
// In non-blocking mode ErrWouldBlock is returned until the server
// acceptance arrives; the request itself is sent only once
func (c *Conn) RequestService(name string, timeout time.Duration) error {
	if c.serviceAccepted[name] {
		return nil
	}
	if !c.serviceRequested[name] {
		buf := wire.New()
		buf.AddU8(msgServiceRequest)
		buf.AddString(name)
		if err := c.writePacket(buf.Bytes()); err != nil {
			return fmt.Errorf("unable to send service request: %w", err)
		}
		c.serviceRequested[name] = true
		logger.Debug(logSender, c.id, "service %q requested", name)
	}
	err := c.HandlePacketsTermination(timeout, func() bool {
		return c.serviceAccepted[name]
	})
	if err != nil {
		return err
	}
	if !c.serviceAccepted[name] {
		return fmt.Errorf("service %q was not accepted", name)
	}
	return nil
}

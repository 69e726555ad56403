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

package userauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/internal/util"
	"github.com/serpent213/libssh/pki"
	"github.com/serpent213/libssh/transport"
	"github.com/serpent213/libssh/wire"
)

// Config holds the session settings
type Config struct {
	// Username is the default identity to authenticate, used when a
	// driver is called with an empty username
	Username string
	// IdentityFiles are the private key paths tried by PublicKeyAuto,
	// without the ".pub" suffix
	IdentityFiles []string
	// Timeout bounds a single driver call in blocking mode.
	// Zero means wait forever
	Timeout time.Duration
	// Agent is the optional ssh-agent connection used by Agent and
	// PublicKeyAuto
	Agent Agent
	// Prompt is the optional callback used to ask for key passphrases
	Prompt pki.PromptFunc
}

// Session drives user authentication on a transport connection.
// It is not safe for concurrent use, the whole subsystem is single
// threaded by design: packet handlers run synchronously from the
// transport's read loop, inside a driver call
type Session struct {
	transport Transport
	config    Config
	id        string

	state         authState
	pending       pendingCall
	methods       Method
	banner        string
	kbdint        *kbdintSession
	err           error
	authenticated bool
}

// NewSession creates an authentication session on the given transport and
// registers the packet handlers for the authentication message range
func NewSession(t Transport, config Config) *Session {
	s := &Session{
		transport: t,
		config:    config,
		id:        util.GenerateUniqueID(),
	}
	t.RegisterHandler(msgUserauthBanner, s.handleBanner)
	t.RegisterHandler(msgUserauthFailure, s.handleFailure)
	t.RegisterHandler(msgUserauthSuccess, s.handleSuccess)
	t.RegisterHandler(msgUserauthPkOK, s.handlePkOK)
	return s
}

// Err returns the fatal session error, if any. Once set, all further
// driver calls are refused
func (s *Session) Err() error {
	return s.err
}

// Authenticated returns true once the server accepted the authentication
func (s *Session) Authenticated() bool {
	return s.authenticated
}

// Banner returns the most recent USERAUTH_BANNER sent by the server,
// or the empty string
func (s *Session) Banner() string {
	return s.banner
}

// ListMethods returns the methods the server advertised in its last
// USERAUTH_FAILURE response. It requires a previous driver call,
// usually None
func (s *Session) ListMethods() Method {
	if s == nil {
		return 0
	}
	return s.methods
}

func (s *Session) fatalf(format string, v ...any) {
	s.err = fmt.Errorf(format, v...)
	logger.Error(logSender, s.id, "%v", s.err)
}

// checkPending validates the driver entry conditions: no fatal error and
// either no pending call or a pending call belonging to this driver.
// resumed is true when the driver must skip straight to the response wait
func (s *Session) checkPending(marker pendingCall) (resumed bool, rc Result) {
	if s.err != nil {
		return false, AuthError
	}
	switch s.pending {
	case pendingNone:
		return false, AuthSuccess
	case marker:
		return true, AuthSuccess
	default:
		s.fatalf("bad call during pending SSH call %q", s.pending)
		return false, AuthError
	}
}

// requestService asks for the ssh-userauth service, 4.1 in the design:
// idempotent after the first success, AuthAgain on would block
func (s *Session) requestService() Result {
	err := s.transport.RequestService(serviceName, s.config.Timeout)
	if err == nil {
		return AuthSuccess
	}
	if errors.Is(err, transport.ErrWouldBlock) {
		return AuthAgain
	}
	s.fatalf("service request failed: %v", err)
	return AuthError
}

// buildRequest emits the USERAUTH_REQUEST prefix common to all methods
func (s *Session) buildRequest(username, method string) *wire.Buffer {
	if username == "" {
		username = s.config.Username
	}
	buf := wire.New()
	buf.AddU8(msgUserauthRequest)
	buf.AddString(username)
	buf.AddString(connectionService)
	buf.AddString(method)
	return buf
}

// sendRequest hands a built request to the transport and waits for the
// response. The buffer is scrubbed right after the send since it may
// carry credentials
func (s *Session) sendRequest(buf *wire.Buffer, marker pendingCall, st authState) Result {
	s.state = st
	s.pending = marker
	err := s.transport.SendPacket(buf.Bytes())
	buf.Scrub()
	if err != nil {
		s.pending = pendingNone
		s.fatalf("unable to send authentication request: %v", err)
		return AuthError
	}
	return s.finishPending()
}

// finishPending waits for the response and clears the pending marker on
// any terminal outcome
func (s *Session) finishPending() Result {
	rc := s.getResponse()
	if rc != AuthAgain {
		s.pending = pendingNone
	}
	return rc
}

// terminated reports whether the state machine reached a state that ends
// a driver call
func (s *Session) terminated() bool {
	switch s.state {
	case stateNone, stateKbdintSent:
		return false
	default:
		return true
	}
}

// getResponse drives the transport until the termination predicate holds
// and maps the resulting state to a driver result
func (s *Session) getResponse() Result {
	err := s.transport.HandlePacketsTermination(s.config.Timeout, s.terminated)
	if err != nil && !errors.Is(err, transport.ErrWouldBlock) && !errors.Is(err, transport.ErrTimeout) {
		s.fatalf("packet handling failed: %v", err)
		return AuthError
	}
	if !s.terminated() {
		return AuthAgain
	}
	switch s.state {
	case stateError:
		return AuthError
	case stateFailed:
		return AuthDenied
	case stateInfo:
		return AuthInfo
	case statePartial:
		return AuthPartial
	case statePkOK, stateSuccess:
		return AuthSuccess
	default:
		return AuthError
	}
}

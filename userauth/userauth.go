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

// Package userauth implements the client side of the SSH authentication
// protocol, RFC 4252, with keyboard-interactive support per RFC 4256.
// It negotiates and proves a client identity through the none, password,
// publickey (directly or via ssh-agent) and keyboard-interactive methods,
// on top of an established transport connection.
//
// All methods are session bound and re-entrant under AuthAgain: when the
// transport operates in non-blocking mode a driver may return AuthAgain
// and must then be re-invoked until it reports a terminal result
package userauth

import (
	"time"

	"github.com/serpent213/libssh/pki"
)

const logSender = "userauth"

// serviceName is the service requested before the first USERAUTH_REQUEST
const serviceName = "ssh-userauth"

// connectionService is the service access requested by every
// USERAUTH_REQUEST
const connectionService = "ssh-connection"

// KbdintMaxPrompt is the maximum number of prompts accepted in a single
// keyboard-interactive info request. It bounds the allocations a hostile
// server can force
const KbdintMaxPrompt = 32

// SSH authentication protocol message numbers
const (
	msgUserauthRequest      = 50
	msgUserauthFailure      = 51
	msgUserauthSuccess      = 52
	msgUserauthBanner       = 53
	msgUserauthPkOK         = 60
	msgUserauthInfoRequest  = 60
	msgUserauthInfoResponse = 61
)

// Result is the outcome of an authentication call
type Result int

// Authentication results
const (
	// AuthSuccess: authentication succeeded, or the offered public key
	// was accepted
	AuthSuccess Result = iota
	// AuthDenied: the server rejected the credential, try another
	// method or key
	AuthDenied
	// AuthPartial: the credential was accepted but the server requires
	// a further method
	AuthPartial
	// AuthInfo: the server sent a keyboard-interactive challenge, fill
	// in the answers and call Kbdint again
	AuthInfo
	// AuthAgain: the call would block in non-blocking mode, invoke the
	// same driver again
	AuthAgain
	// AuthError: a serious error occurred
	AuthError
)

func (r Result) String() string {
	switch r {
	case AuthSuccess:
		return "success"
	case AuthDenied:
		return "denied"
	case AuthPartial:
		return "partial"
	case AuthInfo:
		return "info"
	case AuthAgain:
		return "again"
	case AuthError:
		return "error"
	default:
		return "unknown"
	}
}

// Method is a bitset of the authentication methods the server advertised
// in its last USERAUTH_FAILURE response
type Method uint32

// Recognized authentication methods
const (
	MethodPassword Method = 1 << iota
	MethodPublicKey
	MethodHostbased
	MethodInteractive
)

func (m Method) String() string {
	names := make([]string, 0, 4)
	if m&MethodPassword != 0 {
		names = append(names, "password")
	}
	if m&MethodPublicKey != 0 {
		names = append(names, "publickey")
	}
	if m&MethodHostbased != 0 {
		names = append(names, "hostbased")
	}
	if m&MethodInteractive != 0 {
		names = append(names, "keyboard-interactive")
	}
	if len(names) == 0 {
		return "none"
	}
	result := names[0]
	for _, name := range names[1:] {
		result += "," + name
	}
	return result
}

// authState tracks the server driven authentication state machine.
// It is mutated both by the drivers issuing requests and by the packet
// handlers processing responses
type authState int

const (
	stateNone authState = iota
	stateKbdintSent
	stateInfo
	statePkOK
	statePartial
	stateFailed
	stateSuccess
	stateError
)

// pendingCall marks the driver that is currently in flight, so that a
// call returning AuthAgain can only be resumed by the same driver
type pendingCall int

const (
	pendingNone pendingCall = iota
	pendingAuthNone
	pendingAuthOfferPubkey
	pendingAuthPubkey
	pendingAuthAgent
	pendingAuthPassword
	pendingAuthKbdint
)

func (p pendingCall) String() string {
	switch p {
	case pendingNone:
		return "none"
	case pendingAuthNone:
		return "auth-none"
	case pendingAuthOfferPubkey:
		return "auth-offer-pubkey"
	case pendingAuthPubkey:
		return "auth-pubkey"
	case pendingAuthAgent:
		return "auth-agent"
	case pendingAuthPassword:
		return "auth-password"
	case pendingAuthKbdint:
		return "auth-kbdint"
	default:
		return "unknown"
	}
}

// Transport is the packet layer the authentication subsystem drives.
// transport.Conn implements it; tests use a scripted stub.
// Implementations report would-block conditions with an error matching
// transport.ErrWouldBlock and must not retain sent payloads, the caller
// scrubs buffers carrying credentials right after the send
type Transport interface {
	// RequestService asks the server for the named service. The call is
	// idempotent after the first success
	RequestService(name string, timeout time.Duration) error
	// SendPacket frames and sends one packet payload
	SendPacket(payload []byte) error
	// HandlePacketsTermination reads and dispatches incoming packets
	// until terminate returns true, the timeout elapses or the read
	// would block
	HandlePacketsTermination(timeout time.Duration, terminate func() bool) error
	// RegisterHandler routes incoming packets with the given message
	// number to the handler, which receives the payload after the
	// message byte
	RegisterHandler(msgType byte, handler func(payload []byte))
	// SessionID returns the session identifier established by the first
	// key exchange
	SessionID() []byte
	// EnableDelayedCompression activates delayed compression, if
	// negotiated. Called exactly once, on USERAUTH_SUCCESS
	EnableDelayedCompression()
}

// Agent enumerates identities held by an ssh-agent and signs on their
// behalf. sshagent.Conn implements it. Identity iteration ends with io.EOF
type Agent interface {
	FirstIdentity() (*pki.Key, string, error)
	NextIdentity() (*pki.Key, string, error)
	SignUserauth(sessionID, request []byte, key *pki.Key) ([]byte, error)
}

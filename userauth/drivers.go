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
	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/pki"
)

// None tries to authenticate through the "none" method. Most servers deny
// it but reply with the list of methods that can continue, available
// afterwards from ListMethods
func (s *Session) None(username string) Result {
	if s == nil {
		return AuthError
	}
	resumed, rc := s.checkPending(pendingAuthNone)
	if rc != AuthSuccess {
		return rc
	}
	if resumed {
		return s.finishPending()
	}
	if rc := s.requestService(); rc != AuthSuccess {
		return rc
	}
	buf := s.buildRequest(username, "none")
	return s.sendRequest(buf, pendingAuthNone, stateNone)
}

// Password tries to authenticate with the given password.
// The password must be UTF-8 encoded; it is scrubbed from the outgoing
// buffer right after the send
func (s *Session) Password(username, password string) Result {
	if s == nil {
		return AuthError
	}
	resumed, rc := s.checkPending(pendingAuthPassword)
	if rc != AuthSuccess {
		return rc
	}
	if resumed {
		return s.finishPending()
	}
	if rc := s.requestService(); rc != AuthSuccess {
		return rc
	}
	buf := s.buildRequest(username, "password")
	buf.AddBool(false)
	buf.AddString(password)
	return s.sendRequest(buf, pendingAuthPassword, stateNone)
}

// TryPublicKey offers a public key to the server without signing anything.
// AuthSuccess means the server would accept a signature made with the
// matching private key, follow up with PublicKey
func (s *Session) TryPublicKey(username string, pubkey *pki.Key) Result {
	if s == nil {
		return AuthError
	}
	if !pubkey.IsPublic() {
		s.fatalf("invalid public key")
		return AuthError
	}
	resumed, rc := s.checkPending(pendingAuthOfferPubkey)
	if rc != AuthSuccess {
		return rc
	}
	if resumed {
		return s.finishPending()
	}
	if rc := s.requestService(); rc != AuthSuccess {
		return rc
	}
	buf := s.buildRequest(username, "publickey")
	buf.AddBool(false)
	buf.AddString(pubkey.Algorithm())
	buf.AddBytes(pubkey.Blob())
	return s.sendRequest(buf, pendingAuthOfferPubkey, stateNone)
}

// PublicKey authenticates with the given private key. The signature binds
// the request to the session identifier per RFC 4252 section 7
func (s *Session) PublicKey(username string, privkey *pki.Key) Result {
	if s == nil {
		return AuthError
	}
	if !privkey.IsPrivate() {
		s.fatalf("invalid private key")
		return AuthError
	}
	resumed, rc := s.checkPending(pendingAuthPubkey)
	if rc != AuthSuccess {
		return rc
	}
	if resumed {
		return s.finishPending()
	}
	if rc := s.requestService(); rc != AuthSuccess {
		return rc
	}
	buf := s.buildRequest(username, "publickey")
	buf.AddBool(true)
	buf.AddString(privkey.Algorithm())
	buf.AddBytes(privkey.Blob())
	signature, err := pki.SignUserauth(s.transport.SessionID(), buf.Bytes(), privkey)
	if err != nil {
		s.fatalf("unable to sign authentication request: %v", err)
		return AuthError
	}
	buf.AddBytes(signature)
	return s.sendRequest(buf, pendingAuthPubkey, stateNone)
}

// agentSign authenticates with an identity held by the agent: the request
// is built as for PublicKey but the signature is delegated, the private
// key never leaves the agent
func (s *Session) agentSign(username string, key *pki.Key) Result {
	resumed, rc := s.checkPending(pendingAuthAgent)
	if rc != AuthSuccess {
		return rc
	}
	if resumed {
		return s.finishPending()
	}
	if rc := s.requestService(); rc != AuthSuccess {
		return rc
	}
	buf := s.buildRequest(username, "publickey")
	buf.AddBool(true)
	buf.AddString(key.Algorithm())
	buf.AddBytes(key.Blob())
	signature, err := s.config.Agent.SignUserauth(s.transport.SessionID(), buf.Bytes(), key)
	if err != nil {
		s.fatalf("agent signature failed: %v", err)
		return AuthError
	}
	buf.AddBytes(signature)
	return s.sendRequest(buf, pendingAuthAgent, stateNone)
}

func (s *Session) logIdentityResult(comment string, rc Result) {
	switch rc {
	case AuthSuccess:
		logger.Debug(logSender, s.id, "public key of %q accepted by server", comment)
	default:
		logger.Debug(logSender, s.id, "public key of %q refused by server", comment)
	}
}

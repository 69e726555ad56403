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
	"io"

	"github.com/serpent213/libssh/internal/logger"
)

// Agent tries public key authentication with every identity held by the
// configured ssh-agent: each key is first offered, and on acceptance the
// signature is delegated to the agent. AuthDenied is returned once the
// identity list is exhausted; protocol errors abort the cascade
func (s *Session) Agent(username string) Result {
	if s == nil {
		return AuthError
	}
	if s.config.Agent == nil {
		return AuthDenied
	}

	key, comment, err := s.config.Agent.FirstIdentity()
	for {
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fatalf("unable to get agent identity: %v", err)
			return AuthError
		}
		logger.Debug(logSender, s.id, "trying agent identity %q", comment)

		rc := s.TryPublicKey(username, key)
		if rc == AuthError {
			return rc
		}
		if rc == AuthSuccess {
			s.logIdentityResult(comment, rc)
			rc = s.agentSign(username, key)
			if rc == AuthError {
				return rc
			}
			if rc == AuthSuccess {
				return rc
			}
			logger.Debug(logSender, s.id, "server accepted public key of %q but refused the signature", comment)
		} else {
			s.logIdentityResult(comment, rc)
		}
		key, comment, err = s.config.Agent.NextIdentity()
	}
	return AuthDenied
}

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
	"strings"

	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/wire"
)

// handleBanner processes a USERAUTH_BANNER packet. The banner replaces any
// previous one and never affects the authentication state
func (s *Session) handleBanner(payload []byte) {
	buf := wire.NewReader(payload)
	banner, err := buf.GetString()
	if err != nil {
		logger.Debug(logSender, s.id, "invalid USERAUTH_BANNER packet")
		return
	}
	logger.Debug(logSender, s.id, "received USERAUTH_BANNER packet")
	s.banner = banner
}

// handleFailure processes a USERAUTH_FAILURE packet: it rebuilds the
// advertised method bitset and distinguishes partial success from plain
// denial
func (s *Session) handleFailure(payload []byte) {
	buf := wire.NewReader(payload)
	methodList, err := buf.GetString()
	if err != nil {
		s.fatalf("invalid SSH_MSG_USERAUTH_FAILURE message")
		s.state = stateError
		return
	}
	partial, err := buf.GetBool()
	if err != nil {
		s.fatalf("invalid SSH_MSG_USERAUTH_FAILURE message")
		s.state = stateError
		return
	}

	if partial {
		s.state = statePartial
		logger.Debug(logSender, s.id, "partial success, authentication that can continue: %s", methodList)
	} else {
		s.state = stateFailed
		logger.Debug(logSender, s.id, "access denied, authentication that can continue: %s", methodList)
		s.methods = 0
	}
	for _, name := range strings.Split(methodList, ",") {
		switch name {
		case "password":
			s.methods |= MethodPassword
		case "publickey":
			s.methods |= MethodPublicKey
		case "hostbased":
			s.methods |= MethodHostbased
		case "keyboard-interactive":
			s.methods |= MethodInteractive
		}
	}
}

// handleSuccess processes a USERAUTH_SUCCESS packet. This is the single
// point where delayed compression is activated
func (s *Session) handleSuccess(_ []byte) {
	logger.Debug(logSender, s.id, "authentication successful")
	s.state = stateSuccess
	s.authenticated = true
	s.transport.EnableDelayedCompression()
}

// handlePkOK processes message 60, which is USERAUTH_PK_OK or
// USERAUTH_INFO_REQUEST depending on context: the two packets share a wire
// number and are disambiguated by the current state, not by their payload
func (s *Session) handlePkOK(payload []byte) {
	if s.state == stateKbdintSent {
		logger.Debug(logSender, s.id, "keyboard-interactive context, assuming USERAUTH_INFO_REQUEST")
		s.handleInfoRequest(payload)
		return
	}
	logger.Debug(logSender, s.id, "assuming USERAUTH_PK_OK")
	s.state = statePkOK
}

// handleInfoRequest processes a keyboard-interactive USERAUTH_INFO_REQUEST:
// it replaces the kbdint scratch with the new challenge and moves the state
// to info so the driver returns AuthInfo
func (s *Session) handleInfoRequest(payload []byte) {
	buf := wire.NewReader(payload)
	name, err := buf.GetString()
	if err != nil {
		s.infoRequestFailed("invalid USERAUTH_INFO_REQUEST message")
		return
	}
	instruction, err := buf.GetString()
	if err != nil {
		s.infoRequestFailed("invalid USERAUTH_INFO_REQUEST message")
		return
	}
	// language tag, ignored
	if _, err := buf.GetString(); err != nil {
		s.infoRequestFailed("invalid USERAUTH_INFO_REQUEST message")
		return
	}
	nprompts, err := buf.GetU32()
	if err != nil {
		s.infoRequestFailed("invalid USERAUTH_INFO_REQUEST message")
		return
	}
	logger.Debug(logSender, s.id, "kbdint: %d prompts", nprompts)
	if nprompts == 0 || nprompts > KbdintMaxPrompt {
		s.infoRequestFailed("wrong number of prompts requested by the server: %d", nprompts)
		return
	}

	if s.kbdint == nil {
		s.kbdint = &kbdintSession{}
	} else {
		s.kbdint.clean()
	}
	s.kbdint.name = name
	s.kbdint.instruction = instruction
	s.kbdint.prompts = make([][]byte, 0, nprompts)
	s.kbdint.echo = make([]bool, 0, nprompts)

	for i := uint32(0); i < nprompts; i++ {
		prompt, err := buf.GetBytes()
		if err != nil {
			s.infoRequestFailed("short INFO_REQUEST packet")
			return
		}
		echo, err := buf.GetBool()
		if err != nil {
			s.infoRequestFailed("short INFO_REQUEST packet")
			return
		}
		s.kbdint.prompts = append(s.kbdint.prompts, prompt)
		s.kbdint.echo = append(s.kbdint.echo, echo)
	}
	s.state = stateInfo
}

// infoRequestFailed discards the kbdint scratch and turns a malformed
// challenge into a fatal error
func (s *Session) infoRequestFailed(format string, v ...any) {
	s.fatalf(format, v...)
	if s.kbdint != nil {
		s.kbdint.clean()
		s.kbdint = nil
	}
	s.state = stateError
}

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

	"github.com/serpent213/libssh/internal/util"
	"github.com/serpent213/libssh/wire"
)

// ErrNoKbdintSession is returned by the keyboard-interactive accessors
// when no challenge is pending
var ErrNoKbdintSession = errors.New("no keyboard-interactive exchange in progress")

// kbdintSession is the per-exchange scratch for keyboard-interactive
// authentication. It is refreshed on every USERAUTH_INFO_REQUEST and
// destroyed once the response is sent. Prompts and answers are kept as
// byte slices so they can be scrubbed before release
type kbdintSession struct {
	name        string
	instruction string
	prompts     [][]byte
	echo        []bool
	answers     [][]byte
}

func (k *kbdintSession) nprompts() int {
	return len(k.prompts)
}

// clean scrubs all prompt and answer byte ranges and resets the scratch
// for reuse
func (k *kbdintSession) clean() {
	for _, p := range k.prompts {
		util.MemsetZero(p)
	}
	for _, a := range k.answers {
		util.MemsetZero(a)
	}
	k.name = ""
	k.instruction = ""
	k.prompts = nil
	k.echo = nil
	k.answers = nil
}

// Kbdint tries to authenticate through the keyboard-interactive method.
// The first call sends the initial request; when it returns AuthInfo the
// caller inspects the prompts, fills in the answers with KbdintSetAnswer
// and calls Kbdint again to send them. The server may iterate with
// further challenges before reaching a terminal result
func (s *Session) Kbdint(username, submethods string) Result {
	if s == nil {
		return AuthError
	}
	resumed, rc := s.checkPending(pendingAuthKbdint)
	if rc != AuthSuccess {
		return rc
	}
	if resumed {
		return s.finishPending()
	}
	if s.kbdint == nil {
		return s.kbdintInit(username, submethods)
	}
	// a challenge is live: the caller has set the answers and wants
	// them delivered
	return s.kbdintSend()
}

// kbdintInit sends the first keyboard-interactive request, RFC 4256
// section 3.1
func (s *Session) kbdintInit(username, submethods string) Result {
	if rc := s.requestService(); rc != AuthSuccess {
		return rc
	}
	buf := s.buildRequest(username, "keyboard-interactive")
	// language tag, deprecated
	buf.AddString("")
	buf.AddString(submethods)
	return s.sendRequest(buf, pendingAuthKbdint, stateKbdintSent)
}

// kbdintSend emits the USERAUTH_INFO_RESPONSE with one answer per prompt,
// then scrubs and releases the scratch. Missing answers are sent as empty
// strings
func (s *Session) kbdintSend() Result {
	buf := wire.New()
	buf.AddU8(msgUserauthInfoResponse)
	buf.AddU32(uint32(s.kbdint.nprompts()))
	for i := 0; i < s.kbdint.nprompts(); i++ {
		if s.kbdint.answers != nil && s.kbdint.answers[i] != nil {
			buf.AddBytes(s.kbdint.answers[i])
		} else {
			buf.AddBytes(nil)
		}
	}
	s.kbdint.clean()
	s.kbdint = nil
	return s.sendRequest(buf, pendingAuthKbdint, stateKbdintSent)
}

// KbdintNPrompts returns the number of prompts in the pending challenge,
// or 0 when none is pending
func (s *Session) KbdintNPrompts() int {
	if s == nil || s.kbdint == nil {
		return 0
	}
	return s.kbdint.nprompts()
}

// KbdintName returns the name of the pending challenge message block
func (s *Session) KbdintName() string {
	if s == nil || s.kbdint == nil {
		return ""
	}
	return s.kbdint.name
}

// KbdintInstruction returns the instruction of the pending challenge
// message block
func (s *Session) KbdintInstruction() string {
	if s == nil || s.kbdint == nil {
		return ""
	}
	return s.kbdint.instruction
}

// KbdintPrompt returns the i-th prompt and whether the user input should
// be echoed. A false echo flag marks the answer as sensitive
func (s *Session) KbdintPrompt(i int) (string, bool, error) {
	if s == nil || s.kbdint == nil {
		return "", false, ErrNoKbdintSession
	}
	if i < 0 || i >= s.kbdint.nprompts() {
		return "", false, fmt.Errorf("prompt index %d out of range, %d prompts", i, s.kbdint.nprompts())
	}
	return string(s.kbdint.prompts[i]), s.kbdint.echo[i], nil
}

// KbdintSetAnswer sets the answer for the i-th prompt. The answer is
// copied; any previous answer is scrubbed before being replaced
func (s *Session) KbdintSetAnswer(i int, answer string) error {
	if s == nil || s.kbdint == nil {
		return ErrNoKbdintSession
	}
	if i < 0 || i >= s.kbdint.nprompts() {
		return fmt.Errorf("answer index %d out of range, %d prompts", i, s.kbdint.nprompts())
	}
	if s.kbdint.answers == nil {
		s.kbdint.answers = make([][]byte, s.kbdint.nprompts())
	}
	if s.kbdint.answers[i] != nil {
		util.MemsetZero(s.kbdint.answers[i])
	}
	s.kbdint.answers[i] = []byte(answer)
	return nil
}

// KbdintNAnswers returns the number of answer slots currently allocated
func (s *Session) KbdintNAnswers() int {
	if s == nil || s.kbdint == nil {
		return 0
	}
	return len(s.kbdint.answers)
}

// KbdintAnswer returns the i-th answer, if set
func (s *Session) KbdintAnswer(i int) (string, error) {
	if s == nil || s.kbdint == nil || s.kbdint.answers == nil {
		return "", ErrNoKbdintSession
	}
	if i < 0 || i >= len(s.kbdint.answers) {
		return "", fmt.Errorf("answer index %d out of range, %d answers", i, len(s.kbdint.answers))
	}
	return string(s.kbdint.answers[i]), nil
}

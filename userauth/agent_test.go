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
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serpent213/libssh/pki"
)

// fakeAgent holds private keys in process, enough to script the agent
// cascade without a real ssh-agent
type fakeAgent struct {
	keys     []*pki.Key
	comments []string
	next     int
	signErr  error
	listErr  error
}

func (a *fakeAgent) FirstIdentity() (*pki.Key, string, error) {
	if a.listErr != nil {
		return nil, "", a.listErr
	}
	a.next = 0
	return a.NextIdentity()
}

func (a *fakeAgent) NextIdentity() (*pki.Key, string, error) {
	if a.next >= len(a.keys) {
		return nil, "", io.EOF
	}
	key := a.keys[a.next]
	comment := a.comments[a.next]
	a.next++
	return key.PublicOnly(), comment, nil
}

func (a *fakeAgent) SignUserauth(sessionID, request []byte, key *pki.Key) ([]byte, error) {
	if a.signErr != nil {
		return nil, a.signErr
	}
	for _, held := range a.keys {
		if string(held.Blob()) == string(key.Blob()) {
			return pki.SignUserauth(sessionID, request, held)
		}
	}
	return nil, io.ErrUnexpectedEOF
}

func TestAgentCascade(t *testing.T) {
	key1 := newTestKey(t)
	key2 := newTestKey(t)
	agent := &fakeAgent{
		keys:     []*pki.Key{key1, key2},
		comments: []string{"first", "second"},
	}

	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice", Agent: agent})

	// first identity refused, second accepted and then authenticated
	stub.enqueue(failurePacket("publickey", false))
	stub.enqueue(pkOKPacket(key2.Algorithm(), key2.Blob()))
	stub.enqueue(successPacket())

	rc := s.Agent("")
	assert.Equal(t, AuthSuccess, rc)
	assert.True(t, s.Authenticated())
	assert.Equal(t, pendingNone, s.pending)

	// offer key1, offer key2, signed request for key2
	require.Len(t, stub.sent, 3)
	_, _, _, rest := parseRequestPrefix(t, stub.sent[2])
	signedFlag, err := rest.GetBool()
	require.NoError(t, err)
	assert.True(t, signedFlag)
	algo, err := rest.GetString()
	require.NoError(t, err)
	assert.Equal(t, key2.Algorithm(), algo)
	blob, err := rest.GetBytes()
	require.NoError(t, err)
	assert.Equal(t, key2.Blob(), blob)
	_, err = rest.GetBytes()
	require.NoError(t, err)
	assert.Equal(t, 0, rest.Remaining())
}

func TestAgentNoIdentities(t *testing.T) {
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice", Agent: &fakeAgent{}})

	rc := s.Agent("")
	assert.Equal(t, AuthDenied, rc)
	assert.Empty(t, stub.sent)
}

func TestAgentNotConfigured(t *testing.T) {
	s := NewSession(newStubTransport(), Config{Username: "alice"})
	assert.Equal(t, AuthDenied, s.Agent(""))
}

func TestAgentSignRefused(t *testing.T) {
	key := newTestKey(t)
	agent := &fakeAgent{
		keys:     []*pki.Key{key},
		comments: []string{"only"},
	}
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice", Agent: agent})

	// offer accepted but the signed request is denied: the cascade is
	// exhausted
	stub.enqueue(pkOKPacket(key.Algorithm(), key.Blob()))
	stub.enqueue(failurePacket("publickey", false))

	rc := s.Agent("")
	assert.Equal(t, AuthDenied, rc)
	require.Len(t, stub.sent, 2)
}

func TestAgentListError(t *testing.T) {
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice", Agent: &fakeAgent{listErr: io.ErrClosedPipe}})

	rc := s.Agent("")
	assert.Equal(t, AuthError, rc)
	assert.Error(t, s.Err())
}

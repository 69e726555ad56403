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
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/serpent213/libssh/pki"
	"github.com/serpent213/libssh/transport"
	"github.com/serpent213/libssh/wire"
)

// stubTransport scripts server behavior without sockets: packets queued
// with enqueue are delivered to the registered handlers on the next
// HandlePacketsTermination call, the onSend hook lets a test react to an
// outgoing request
type stubTransport struct {
	handlers  map[byte]func(payload []byte)
	sent      [][]byte
	queue     [][]byte
	onSend    func(payload []byte)
	sessionID []byte

	serviceErr         error
	sendErr            error
	serviceRequests    int
	nonBlocking        bool
	compressionEnabled bool
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		handlers:  make(map[byte]func(payload []byte)),
		sessionID: []byte{0xca, 0xfe, 0xba, 0xbe},
	}
}

func (t *stubTransport) RequestService(_ string, _ time.Duration) error {
	t.serviceRequests++
	return t.serviceErr
}

func (t *stubTransport) SendPacket(payload []byte) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	t.sent = append(t.sent, cp)
	if t.onSend != nil {
		t.onSend(cp)
	}
	return nil
}

func (t *stubTransport) HandlePacketsTermination(_ time.Duration, terminate func() bool) error {
	for {
		if terminate() {
			return nil
		}
		if len(t.queue) == 0 {
			if t.nonBlocking {
				return transport.ErrWouldBlock
			}
			return transport.ErrTimeout
		}
		packet := t.queue[0]
		t.queue = t.queue[1:]
		if handler, ok := t.handlers[packet[0]]; ok {
			handler(packet[1:])
		}
	}
}

func (t *stubTransport) RegisterHandler(msgType byte, handler func(payload []byte)) {
	t.handlers[msgType] = handler
}

func (t *stubTransport) SessionID() []byte {
	return t.sessionID
}

func (t *stubTransport) EnableDelayedCompression() {
	t.compressionEnabled = true
}

func (t *stubTransport) enqueue(payload []byte) {
	t.queue = append(t.queue, payload)
}

func failurePacket(methods string, partial bool) []byte {
	buf := wire.New()
	buf.AddU8(msgUserauthFailure)
	buf.AddString(methods)
	buf.AddBool(partial)
	return buf.Bytes()
}

func successPacket() []byte {
	return []byte{msgUserauthSuccess}
}

func bannerPacket(banner string) []byte {
	buf := wire.New()
	buf.AddU8(msgUserauthBanner)
	buf.AddString(banner)
	buf.AddString("en-US")
	return buf.Bytes()
}

func pkOKPacket(algo string, blob []byte) []byte {
	buf := wire.New()
	buf.AddU8(msgUserauthPkOK)
	buf.AddString(algo)
	buf.AddBytes(blob)
	return buf.Bytes()
}

type testPrompt struct {
	text string
	echo bool
}

func infoRequestPacket(name, instruction string, prompts []testPrompt) []byte {
	buf := wire.New()
	buf.AddU8(msgUserauthInfoRequest)
	buf.AddString(name)
	buf.AddString(instruction)
	buf.AddString("")
	buf.AddU32(uint32(len(prompts)))
	for _, p := range prompts {
		buf.AddString(p.text)
		buf.AddBool(p.echo)
	}
	return buf.Bytes()
}

// parseRequestPrefix decodes the common USERAUTH_REQUEST prefix from a
// sent payload and returns the remaining reader
func parseRequestPrefix(t *testing.T, payload []byte) (username, service, method string, rest *wire.Buffer) {
	t.Helper()
	rest = wire.NewReader(payload)
	msgType, err := rest.GetU8()
	require.NoError(t, err)
	require.Equal(t, byte(msgUserauthRequest), msgType)
	username, err = rest.GetString()
	require.NoError(t, err)
	service, err = rest.GetString()
	require.NoError(t, err)
	method, err = rest.GetString()
	require.NoError(t, err)
	return
}

func newTestKey(t *testing.T) *pki.Key {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return pki.NewPrivateKey(signer, "test key")
}

func TestNoneProbe(t *testing.T) {
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice"})
	stub.enqueue(failurePacket("password", false))

	rc := s.None("alice")
	assert.Equal(t, AuthDenied, rc)
	assert.Equal(t, MethodPassword, s.ListMethods())
	assert.Equal(t, pendingNone, s.pending)
	assert.Equal(t, 1, stub.serviceRequests)

	require.Len(t, stub.sent, 1)
	username, service, method, rest := parseRequestPrefix(t, stub.sent[0])
	assert.Equal(t, "alice", username)
	assert.Equal(t, "ssh-connection", service)
	assert.Equal(t, "none", method)
	assert.Equal(t, 0, rest.Remaining())
}

func TestPasswordSuccess(t *testing.T) {
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice"})

	stub.enqueue(failurePacket("password", false))
	rc := s.None("")
	assert.Equal(t, AuthDenied, rc)

	stub.onSend = func(_ []byte) {
		stub.enqueue(successPacket())
	}
	rc = s.Password("", "hunter2")
	assert.Equal(t, AuthSuccess, rc)
	assert.True(t, s.Authenticated())
	assert.True(t, stub.compressionEnabled)
	assert.Equal(t, pendingNone, s.pending)

	require.Len(t, stub.sent, 2)
	username, _, method, rest := parseRequestPrefix(t, stub.sent[1])
	assert.Equal(t, "alice", username)
	assert.Equal(t, "password", method)
	changeFlag, err := rest.GetBool()
	require.NoError(t, err)
	assert.False(t, changeFlag)
	password, err := rest.GetString()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", password)
	assert.Equal(t, 0, rest.Remaining())
}

func TestPublicKeyOfferAndSign(t *testing.T) {
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice"})
	key := newTestKey(t)

	stub.enqueue(pkOKPacket(key.Algorithm(), key.Blob()))
	rc := s.TryPublicKey("", key.PublicOnly())
	assert.Equal(t, AuthSuccess, rc)
	assert.Equal(t, pendingNone, s.pending)

	require.Len(t, stub.sent, 1)
	_, _, method, rest := parseRequestPrefix(t, stub.sent[0])
	assert.Equal(t, "publickey", method)
	signedFlag, err := rest.GetBool()
	require.NoError(t, err)
	assert.False(t, signedFlag)
	algo, err := rest.GetString()
	require.NoError(t, err)
	assert.Equal(t, key.Algorithm(), algo)
	blob, err := rest.GetBytes()
	require.NoError(t, err)
	assert.Equal(t, key.Blob(), blob)
	assert.Equal(t, 0, rest.Remaining())

	// the server accepts the key but then denies the signed request
	stub.enqueue(failurePacket("publickey,password", false))
	rc = s.PublicKey("", key)
	assert.Equal(t, AuthDenied, rc)
	assert.Equal(t, MethodPublicKey|MethodPassword, s.ListMethods())

	require.Len(t, stub.sent, 2)
	payload := stub.sent[1]
	_, _, method, rest = parseRequestPrefix(t, payload)
	assert.Equal(t, "publickey", method)
	signedFlag, err = rest.GetBool()
	require.NoError(t, err)
	assert.True(t, signedFlag)
	algo, err = rest.GetString()
	require.NoError(t, err)
	assert.Equal(t, key.Algorithm(), algo)
	blob, err = rest.GetBytes()
	require.NoError(t, err)
	assert.Equal(t, key.Blob(), blob)
	sigBlob, err := rest.GetBytes()
	require.NoError(t, err)
	assert.Equal(t, 0, rest.Remaining())

	// the signature must cover the session identifier and the request
	// up to and including the public key blob
	sigReader := wire.NewReader(sigBlob)
	format, err := sigReader.GetString()
	require.NoError(t, err)
	rawSig, err := sigReader.GetBytes()
	require.NoError(t, err)
	signedData := wire.New()
	signedData.AddBytes(stub.sessionID)
	signedData.AddRaw(payload[:len(payload)-len(sigBlob)-4])
	pub, err := ssh.ParsePublicKey(key.Blob())
	require.NoError(t, err)
	assert.NoError(t, pub.Verify(signedData.Bytes(), &ssh.Signature{Format: format, Blob: rawSig}))
}

func TestPublicKeyValidation(t *testing.T) {
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice"})
	key := newTestKey(t)

	rc := s.PublicKey("", key.PublicOnly())
	assert.Equal(t, AuthError, rc)
	assert.Error(t, s.Err())
	assert.Empty(t, stub.sent)

	s = NewSession(newStubTransport(), Config{Username: "alice"})
	rc = s.TryPublicKey("", nil)
	assert.Equal(t, AuthError, rc)
	assert.Error(t, s.Err())
}

func TestNonBlockingResumption(t *testing.T) {
	stub := newStubTransport()
	stub.nonBlocking = true
	s := NewSession(stub, Config{Username: "alice"})

	rc := s.None("")
	assert.Equal(t, AuthAgain, rc)
	assert.Equal(t, pendingAuthNone, s.pending)
	require.Len(t, stub.sent, 1)

	// still no server packet: stays pending, no new request is sent
	rc = s.None("")
	assert.Equal(t, AuthAgain, rc)
	require.Len(t, stub.sent, 1)

	stub.enqueue(successPacket())
	rc = s.None("")
	assert.Equal(t, AuthSuccess, rc)
	assert.Equal(t, pendingNone, s.pending)
	require.Len(t, stub.sent, 1)
}

func TestPendingCallMismatch(t *testing.T) {
	stub := newStubTransport()
	stub.nonBlocking = true
	s := NewSession(stub, Config{Username: "alice"})

	rc := s.None("")
	assert.Equal(t, AuthAgain, rc)
	require.Len(t, stub.sent, 1)

	rc = s.Password("", "secret")
	assert.Equal(t, AuthError, rc)
	assert.Error(t, s.Err())
	// the mismatched call must not touch the wire
	require.Len(t, stub.sent, 1)
}

func TestServiceRequestWouldBlock(t *testing.T) {
	stub := newStubTransport()
	stub.serviceErr = transport.ErrWouldBlock
	s := NewSession(stub, Config{Username: "alice"})

	rc := s.None("")
	assert.Equal(t, AuthAgain, rc)
	assert.Equal(t, pendingNone, s.pending)
	assert.Empty(t, stub.sent)

	stub.serviceErr = nil
	stub.enqueue(failurePacket("publickey", false))
	rc = s.None("")
	assert.Equal(t, AuthDenied, rc)
}

func TestBanner(t *testing.T) {
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice"})
	assert.Empty(t, s.Banner())

	stub.enqueue(bannerPacket("welcome to test"))
	stub.enqueue(failurePacket("password", false))
	rc := s.None("")
	assert.Equal(t, AuthDenied, rc)
	assert.Equal(t, "welcome to test", s.Banner())

	stub.enqueue(bannerPacket("second banner"))
	stub.enqueue(failurePacket("password", false))
	rc = s.Password("", "nope")
	assert.Equal(t, AuthDenied, rc)
	assert.Equal(t, "second banner", s.Banner())
}

func TestPartialSuccess(t *testing.T) {
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice"})

	stub.enqueue(failurePacket("keyboard-interactive,publickey", true))
	rc := s.Password("", "correct-first-factor")
	assert.Equal(t, AuthPartial, rc)
	assert.Equal(t, MethodInteractive|MethodPublicKey, s.ListMethods())
	assert.False(t, s.Authenticated())
}

func TestMalformedFailure(t *testing.T) {
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice"})

	// failure packet truncated before the partial flag
	buf := wire.New()
	buf.AddU8(msgUserauthFailure)
	buf.AddString("password")
	stub.enqueue(buf.Bytes())

	rc := s.None("")
	assert.Equal(t, AuthError, rc)
	assert.Error(t, s.Err())
	assert.Equal(t, pendingNone, s.pending)

	// the session is poisoned, further calls are refused without I/O
	sentBefore := len(stub.sent)
	rc = s.Password("", "secret")
	assert.Equal(t, AuthError, rc)
	assert.Len(t, stub.sent, sentBefore)
}

func TestMessage60Disambiguation(t *testing.T) {
	stub := newStubTransport()
	s := NewSession(stub, Config{Username: "alice"})
	key := newTestKey(t)

	// outside a keyboard-interactive exchange message 60 is PK_OK,
	// whatever its payload looks like
	stub.enqueue(infoRequestPacket("name", "instruction", []testPrompt{{text: "Password: "}}))
	rc := s.TryPublicKey("", key.PublicOnly())
	assert.Equal(t, AuthSuccess, rc)
	assert.Nil(t, s.kbdint)

	// in a keyboard-interactive exchange the same number is parsed as an
	// info request
	stub = newStubTransport()
	s = NewSession(stub, Config{Username: "alice"})
	stub.onSend = func(_ []byte) {
		stub.enqueue(infoRequestPacket("PAM", "", []testPrompt{{text: "Password: "}}))
	}
	rc = s.Kbdint("", "")
	assert.Equal(t, AuthInfo, rc)
	require.NotNil(t, s.kbdint)
	assert.Equal(t, 1, s.KbdintNPrompts())
}

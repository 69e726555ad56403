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

package transport

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/internal/util"
	"github.com/serpent213/libssh/wire"
)

const (
	defaultClientVersion = "SSH-2.0-libssh_go_0.3"

	kexAlgo         = "ecdh-sha2-nistp256"
	cipherAlgo      = "aes128-ctr"
	macAlgo         = "hmac-sha2-256"
	compressionZlib = "zlib@openssh.com"
	compressionNone = "none"

	aesKeyLen  = 16
	aesIVLen   = 16
	macKeyLen  = 32
	aesBlkSize = 16
)

var supportedHostKeyAlgos = []string{
	ssh.KeyAlgoED25519,
	ssh.KeyAlgoRSASHA512,
	ssh.KeyAlgoRSASHA256,
	ssh.KeyAlgoRSA,
	ssh.KeyAlgoECDSA256,
}

// Handshake runs the protocol version exchange and the initial key
// exchange. On return the connection is encrypted and the session
// identifier is available
func (c *Conn) Handshake() error {
	clientVersion, serverVersion, err := c.exchangeVersions()
	if err != nil {
		return fmt.Errorf("version exchange failed: %w", err)
	}
	logger.Debug(logSender, c.id, "server version %q", serverVersion)

	clientKexInit, err := c.buildKexInit()
	if err != nil {
		return err
	}
	if err := c.writePacket(clientKexInit); err != nil {
		return fmt.Errorf("unable to send KEXINIT: %w", err)
	}
	serverKexInit, err := c.readPacketType(msgKexInit)
	if err != nil {
		return fmt.Errorf("unable to read server KEXINIT: %w", err)
	}
	if err := c.negotiateAlgorithms(serverKexInit); err != nil {
		return err
	}

	ecdhKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	clientPub := ecdhKey.PublicKey().Bytes()
	buf := wire.New()
	buf.AddU8(msgKexECDHInit)
	buf.AddBytes(clientPub)
	if err := c.writePacket(buf.Bytes()); err != nil {
		return fmt.Errorf("unable to send KEX_ECDH_INIT: %w", err)
	}

	reply, err := c.readPacketType(msgKexECDHReply)
	if err != nil {
		return fmt.Errorf("unable to read KEX_ECDH_REPLY: %w", err)
	}
	r := wire.NewReader(reply[1:])
	hostKeyBlob, err := r.GetBytes()
	if err != nil {
		return fmt.Errorf("invalid KEX_ECDH_REPLY: %w", err)
	}
	serverPub, err := r.GetBytes()
	if err != nil {
		return fmt.Errorf("invalid KEX_ECDH_REPLY: %w", err)
	}
	sigBlob, err := r.GetBytes()
	if err != nil {
		return fmt.Errorf("invalid KEX_ECDH_REPLY: %w", err)
	}

	serverECDHPub, err := ecdh.P256().NewPublicKey(serverPub)
	if err != nil {
		return fmt.Errorf("invalid server ephemeral key: %w", err)
	}
	sharedSecret, err := ecdhKey.ECDH(serverECDHPub)
	if err != nil {
		return fmt.Errorf("key agreement failed: %w", err)
	}
	kBytes := toMpint(sharedSecret)

	exchangeHash := computeExchangeHash([]byte(clientVersion), []byte(serverVersion),
		clientKexInit, serverKexInit, hostKeyBlob, clientPub, serverPub, kBytes)

	if err := c.verifyHostKey(hostKeyBlob, sigBlob, exchangeHash); err != nil {
		return err
	}

	if err := c.writePacket([]byte{msgNewKeys}); err != nil {
		return fmt.Errorf("unable to send NEWKEYS: %w", err)
	}
	if _, err := c.readPacketType(msgNewKeys); err != nil {
		return fmt.Errorf("unable to read server NEWKEYS: %w", err)
	}

	c.sessionID = exchangeHash
	if err := c.activateCrypto(kBytes, exchangeHash); err != nil {
		return err
	}
	logger.Debug(logSender, c.id, "key exchange completed, delayed compression: %t",
		c.crypto.delayedCompressOut || c.crypto.delayedCompressIn)
	return nil
}

func (c *Conn) exchangeVersions() (string, string, error) {
	if _, err := c.conn.Write([]byte(c.config.ClientVersion + "\r\n")); err != nil {
		return "", "", err
	}
	// the server may send extra lines before its identification string,
	// only the line starting with SSH- counts
	reader := bufio.NewReaderSize(c.conn, 512)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "SSH-") {
			if !strings.HasPrefix(line, "SSH-2.0-") && !strings.HasPrefix(line, "SSH-1.99-") {
				return "", "", fmt.Errorf("unsupported protocol version %q", line)
			}
			// hand back the bytes the reader consumed beyond the
			// version line
			if reader.Buffered() > 0 {
				buffered, err := io.ReadAll(io.LimitReader(reader, int64(reader.Buffered())))
				if err != nil {
					return "", "", err
				}
				c.conn = &bufferedConn{Conn: c.conn, buffered: buffered}
			}
			return c.config.ClientVersion, line, nil
		}
		logger.Debug(logSender, c.id, "pre-version banner line: %q", line)
	}
}

func (c *Conn) buildKexInit() ([]byte, error) {
	compressionAlgos := compressionNone
	if c.config.EnableCompression {
		compressionAlgos = compressionZlib + "," + compressionNone
	}
	buf := wire.New()
	buf.AddU8(msgKexInit)
	buf.AddRaw(util.GenerateRandomBytes(16))
	buf.AddString(kexAlgo)
	buf.AddString(strings.Join(supportedHostKeyAlgos, ","))
	buf.AddString(cipherAlgo)
	buf.AddString(cipherAlgo)
	buf.AddString(macAlgo)
	buf.AddString(macAlgo)
	buf.AddString(compressionAlgos)
	buf.AddString(compressionAlgos)
	buf.AddString("")
	buf.AddString("")
	buf.AddBool(false)
	buf.AddU32(0)
	return buf.Bytes(), nil
}

func (c *Conn) negotiateAlgorithms(serverKexInit []byte) error {
	r := wire.NewReader(serverKexInit[1:])
	cookie := make([]byte, 16)
	for i := range cookie {
		v, err := r.GetU8()
		if err != nil {
			return fmt.Errorf("invalid server KEXINIT: %w", err)
		}
		cookie[i] = v
	}
	lists := make([]string, 10)
	for i := range lists {
		list, err := r.GetString()
		if err != nil {
			return fmt.Errorf("invalid server KEXINIT: %w", err)
		}
		lists[i] = list
	}

	serverKex := strings.Split(lists[0], ",")
	serverHostKeys := strings.Split(lists[1], ",")
	serverCiphersC2S := strings.Split(lists[2], ",")
	serverCiphersS2C := strings.Split(lists[3], ",")
	serverMACsC2S := strings.Split(lists[4], ",")
	serverMACsS2C := strings.Split(lists[5], ",")
	serverCompC2S := strings.Split(lists[6], ",")
	serverCompS2C := strings.Split(lists[7], ",")

	if !util.Contains(serverKex, kexAlgo) {
		return fmt.Errorf("no common key exchange algorithm, server offers %q", lists[0])
	}
	found := false
	for _, algo := range supportedHostKeyAlgos {
		if util.Contains(serverHostKeys, algo) {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no common host key algorithm, server offers %q", lists[1])
	}
	if !util.Contains(serverCiphersC2S, cipherAlgo) || !util.Contains(serverCiphersS2C, cipherAlgo) {
		return fmt.Errorf("no common cipher, server offers %q / %q", lists[2], lists[3])
	}
	if !util.Contains(serverMACsC2S, macAlgo) || !util.Contains(serverMACsS2C, macAlgo) {
		return fmt.Errorf("no common MAC, server offers %q / %q", lists[4], lists[5])
	}

	compOut, err := negotiateCompression(c.config.EnableCompression, serverCompC2S)
	if err != nil {
		return fmt.Errorf("client to server compression: %w", err)
	}
	compIn, err := negotiateCompression(c.config.EnableCompression, serverCompS2C)
	if err != nil {
		return fmt.Errorf("server to client compression: %w", err)
	}
	c.crypto.delayedCompressOut = compOut == compressionZlib
	c.crypto.delayedCompressIn = compIn == compressionZlib
	return nil
}

func negotiateCompression(enabled bool, serverAlgos []string) (string, error) {
	if enabled && util.Contains(serverAlgos, compressionZlib) {
		return compressionZlib, nil
	}
	if util.Contains(serverAlgos, compressionNone) {
		return compressionNone, nil
	}
	return "", fmt.Errorf("no common algorithm, server offers %q", strings.Join(serverAlgos, ","))
}

// readPacketType reads packets until one with the wanted type arrives.
// Transport chatter (IGNORE, DEBUG) is discarded
func (c *Conn) readPacketType(msgType byte) ([]byte, error) {
	for {
		payload, err := c.readPacket()
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 {
			return nil, errors.New("empty packet payload")
		}
		switch payload[0] {
		case msgType:
			return payload, nil
		case msgIgnore, msgDebug:
			continue
		case msgDisconnect:
			return nil, c.dispatch(payload)
		default:
			return nil, fmt.Errorf("unexpected packet type %d while waiting for %d", payload[0], msgType)
		}
	}
}

func (c *Conn) verifyHostKey(hostKeyBlob, sigBlob, exchangeHash []byte) error {
	hostKey, err := ssh.ParsePublicKey(hostKeyBlob)
	if err != nil {
		return fmt.Errorf("invalid host key: %w", err)
	}
	r := wire.NewReader(sigBlob)
	format, err := r.GetString()
	if err != nil {
		return fmt.Errorf("invalid host key signature: %w", err)
	}
	blob, err := r.GetBytes()
	if err != nil {
		return fmt.Errorf("invalid host key signature: %w", err)
	}
	if err := hostKey.Verify(exchangeHash, &ssh.Signature{Format: format, Blob: blob}); err != nil {
		return fmt.Errorf("host key verification failed: %w", err)
	}
	if c.config.HostKeyCallback != nil {
		return c.config.HostKeyCallback(c.address, hostKey)
	}
	logger.Info(logSender, c.id, "server host key %s %s", hostKey.Type(), ssh.FingerprintSHA256(hostKey))
	return nil
}

// computeExchangeHash computes H per RFC 5656 section 4
func computeExchangeHash(vc, vs, ic, is, ks, qc, qs, k []byte) []byte {
	h := sha256.New()
	hashString(h, vc)
	hashString(h, vs)
	hashString(h, ic)
	hashString(h, is)
	hashString(h, ks)
	hashString(h, qc)
	hashString(h, qs)
	h.Write(k) // already mpint encoded
	return h.Sum(nil)
}

func hashString(h io.Writer, s []byte) {
	var length [4]byte
	length[0] = byte(len(s) >> 24)
	length[1] = byte(len(s) >> 16)
	length[2] = byte(len(s) >> 8)
	length[3] = byte(len(s))
	h.Write(length[:])
	h.Write(s)
}

// toMpint encodes the shared secret as an SSH mpint, including the
// length prefix
func toMpint(secret []byte) []byte {
	kInt := new(big.Int).SetBytes(secret)
	kBytes := kInt.Bytes()
	if len(kBytes) > 0 && kBytes[0]&0x80 != 0 {
		kBytes = append([]byte{0x00}, kBytes...)
	}
	buf := wire.New()
	buf.AddBytes(kBytes)
	return buf.Bytes()
}

func (c *Conn) activateCrypto(kBytes, exchangeHash []byte) error {
	clientIV := c.deriveKey(kBytes, exchangeHash, 'A', aesIVLen)
	serverIV := c.deriveKey(kBytes, exchangeHash, 'B', aesIVLen)
	clientKey := c.deriveKey(kBytes, exchangeHash, 'C', aesKeyLen)
	serverKey := c.deriveKey(kBytes, exchangeHash, 'D', aesKeyLen)
	clientMacKey := c.deriveKey(kBytes, exchangeHash, 'E', macKeyLen)
	serverMacKey := c.deriveKey(kBytes, exchangeHash, 'F', macKeyLen)

	blockClient, err := aes.NewCipher(clientKey)
	if err != nil {
		return err
	}
	blockServer, err := aes.NewCipher(serverKey)
	if err != nil {
		return err
	}
	c.crypto.encrypter = cipher.NewCTR(blockClient, clientIV)
	c.crypto.decrypter = cipher.NewCTR(blockServer, serverIV)
	c.crypto.macWriter = hmac.New(sha256.New, clientMacKey)
	c.crypto.macReader = hmac.New(sha256.New, serverMacKey)
	c.crypto.blockSize = aesBlkSize
	return nil
}

// deriveKey derives a cipher or integrity key per RFC 4253 section 7.2.
// K is hashed in mpint form, H and the session identifier as raw bytes
func (c *Conn) deriveKey(k, h []byte, tag byte, length int) []byte {
	hsh := sha256.New()
	hsh.Write(k)
	hsh.Write(h)
	hsh.Write([]byte{tag})
	hsh.Write(c.sessionID)
	key := hsh.Sum(nil)
	for len(key) < length {
		hsh.Reset()
		hsh.Write(k)
		hsh.Write(h)
		hsh.Write(key)
		key = append(key, hsh.Sum(nil)...)
	}
	return key[:length]
}

// bufferedConn replays bytes the version-exchange reader consumed past the
// identification line before falling through to the network connection
type bufferedConn struct {
	net.Conn
	buffered []byte
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if len(c.buffered) > 0 {
		n := copy(p, c.buffered)
		c.buffered = c.buffered[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

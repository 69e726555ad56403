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
	"bytes"
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/internal/util"
)

const (
	plainBlockSize = 8
	minPaddingLen  = 4
	maxPacketLen   = 256 * 1024
	// deflate keeps at most 32 KB of history
	deflateDictSize = 32 * 1024
)

// crypto holds the negotiated per-direction cipher, MAC and compression
// state. The zero value is the initial plaintext state
type crypto struct {
	encrypter cipher.Stream
	decrypter cipher.Stream
	macWriter hash.Hash
	macReader hash.Hash
	blockSize int

	// delayed compression was negotiated, waiting for USERAUTH_SUCCESS
	delayedCompressIn  bool
	delayedCompressOut bool
	compressIn         bool
	compressOut        bool

	deflater       *zlib.Writer
	deflateBuf     bytes.Buffer
	inflateDict    []byte
	inflateStarted bool
}

// EnableDelayedCompression activates zlib@openssh.com compression on both
// directions. It is a no-op unless delayed compression was negotiated.
// The user authentication layer calls this exactly once, on
// SSH_MSG_USERAUTH_SUCCESS
func (c *Conn) EnableDelayedCompression() {
	if c.crypto.delayedCompressOut {
		logger.Debug(logSender, c.id, "enabling delayed compression OUT")
		c.crypto.compressOut = true
	}
	if c.crypto.delayedCompressIn {
		logger.Debug(logSender, c.id, "enabling delayed compression IN")
		c.crypto.compressIn = true
	}
}

func (c *crypto) compress(payload []byte) ([]byte, error) {
	if c.deflater == nil {
		c.deflater = zlib.NewWriter(&c.deflateBuf)
	}
	if _, err := c.deflater.Write(payload); err != nil {
		return nil, err
	}
	if err := c.deflater.Flush(); err != nil {
		return nil, err
	}
	out := make([]byte, c.deflateBuf.Len())
	copy(out, c.deflateBuf.Bytes())
	c.deflateBuf.Reset()
	return out, nil
}

func (c *crypto) decompress(payload []byte) ([]byte, error) {
	if !c.inflateStarted {
		// strip the zlib header, the deflate stream continues across
		// packets from here on
		if len(payload) < 2 {
			return nil, errors.New("short zlib stream")
		}
		payload = payload[2:]
		c.inflateStarted = true
	}
	reader := flate.NewReaderDict(bytes.NewReader(payload), c.inflateDict)
	out, err := io.ReadAll(reader)
	// each packet ends at a flush boundary, mid-stream the inflater
	// reports an unexpected EOF after draining the available output
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	c.inflateDict = append(c.inflateDict, out...)
	if len(c.inflateDict) > deflateDictSize {
		c.inflateDict = c.inflateDict[len(c.inflateDict)-deflateDictSize:]
	}
	return out, nil
}

// writePacket frames, optionally compresses and encrypts a payload and
// sends it, RFC 4253 section 6
func (c *Conn) writePacket(payload []byte) error {
	var err error
	if c.crypto.compressOut {
		payload, err = c.crypto.compress(payload)
		if err != nil {
			return fmt.Errorf("compression failed: %w", err)
		}
	}

	blockSize := plainBlockSize
	if c.crypto.encrypter != nil {
		blockSize = c.crypto.blockSize
	}
	paddingLen := blockSize - (4+1+len(payload))%blockSize
	if paddingLen < minPaddingLen {
		paddingLen += blockSize
	}
	packetLen := uint32(1 + len(payload) + paddingLen)

	packet := make([]byte, 0, 4+packetLen)
	packet = binary.BigEndian.AppendUint32(packet, packetLen)
	packet = append(packet, byte(paddingLen))
	packet = append(packet, payload...)
	packet = append(packet, util.GenerateRandomBytes(paddingLen)...)

	if c.crypto.encrypter == nil {
		_, err = c.conn.Write(packet)
		if err == nil {
			c.writeSeq++
		}
		return err
	}

	c.crypto.macWriter.Reset()
	binary.Write(c.crypto.macWriter, binary.BigEndian, c.writeSeq) //nolint:errcheck // hash writes cannot fail
	c.crypto.macWriter.Write(packet)
	mac := c.crypto.macWriter.Sum(nil)

	ciphertext := make([]byte, len(packet))
	c.crypto.encrypter.XORKeyStream(ciphertext, packet)

	if _, err = c.conn.Write(append(ciphertext, mac...)); err != nil {
		return err
	}
	c.writeSeq++
	return nil
}

// readPacket reads a single packet and returns its payload, decrypted,
// integrity checked and decompressed as needed
func (c *Conn) readPacket() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, err
	}
	if c.crypto.decrypter != nil {
		c.crypto.decrypter.XORKeyStream(header, header)
	}
	packetLen := binary.BigEndian.Uint32(header)
	if packetLen < 1+minPaddingLen || packetLen > maxPacketLen {
		return nil, fmt.Errorf("invalid packet length %d", packetLen)
	}

	body := make([]byte, packetLen)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, err
	}
	if c.crypto.decrypter != nil {
		c.crypto.decrypter.XORKeyStream(body, body)
		serverMac := make([]byte, c.crypto.macReader.Size())
		if _, err := io.ReadFull(c.conn, serverMac); err != nil {
			return nil, err
		}
		c.crypto.macReader.Reset()
		binary.Write(c.crypto.macReader, binary.BigEndian, c.readSeq) //nolint:errcheck // hash writes cannot fail
		c.crypto.macReader.Write(header)
		c.crypto.macReader.Write(body)
		if !hmac.Equal(serverMac, c.crypto.macReader.Sum(nil)) {
			return nil, fmt.Errorf("MAC mismatch on packet %d", c.readSeq)
		}
	}

	paddingLen := int(body[0])
	if paddingLen < minPaddingLen || paddingLen+1 > len(body) {
		return nil, fmt.Errorf("invalid padding length %d", paddingLen)
	}
	payload := body[1 : len(body)-paddingLen]
	c.readSeq++

	if c.crypto.compressIn {
		var err error
		payload, err = c.crypto.decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("decompression failed: %w", err)
		}
	}
	return payload, nil
}

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

// Package pki provides public and private key handling for user
// authentication: loading keys from disk, exporting public key wire blobs
// and producing the signatures defined in RFC 4252 section 7
package pki

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/serpent213/libssh/wire"
)

// ErrKeyFileNotFound is returned when the requested key file does not exist
var ErrKeyFileNotFound = errors.New("key file not found")

// PromptFunc asks the user for a credential, e.g. the passphrase for an
// encrypted private key. If echo is false the input is sensitive and must
// not be echoed back
type PromptFunc func(prompt string, echo bool) (string, error)

// Key holds a public key and, when available, the matching private half
type Key struct {
	public  ssh.PublicKey
	signer  ssh.Signer
	comment string
}

// NewPublicKey wraps an SSH public key
func NewPublicKey(pub ssh.PublicKey, comment string) *Key {
	return &Key{
		public:  pub,
		comment: comment,
	}
}

// NewPrivateKey wraps an SSH signer
func NewPrivateKey(signer ssh.Signer, comment string) *Key {
	return &Key{
		public:  signer.PublicKey(),
		signer:  signer,
		comment: comment,
	}
}

// IsPublic returns true if the key carries public key material
func (k *Key) IsPublic() bool {
	return k != nil && k.public != nil
}

// IsPrivate returns true if the key can sign
func (k *Key) IsPrivate() bool {
	return k != nil && k.signer != nil
}

// Algorithm returns the key algorithm name, e.g. "ssh-ed25519"
func (k *Key) Algorithm() string {
	return k.public.Type()
}

// Blob returns the public key in SSH wire format
func (k *Key) Blob() []byte {
	return k.public.Marshal()
}

// Comment returns the key comment, if any
func (k *Key) Comment() string {
	return k.comment
}

// PublicOnly returns a copy of the key with the private half dropped
func (k *Key) PublicOnly() *Key {
	return &Key{
		public:  k.public,
		comment: k.comment,
	}
}

// ImportPrivateKeyFile loads a private key from the given path.
// Encrypted keys are decrypted using the passphrase, or the prompt
// callback when no passphrase is given.
// ErrKeyFileNotFound is returned if the file does not exist
func ImportPrivateKeyFile(path, passphrase string, prompt PromptFunc) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyFileNotFound
		}
		return nil, fmt.Errorf("unable to read private key file %q: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missingErr *ssh.PassphraseMissingError
		if !errors.As(err, &missingErr) {
			return nil, fmt.Errorf("unable to parse private key file %q: %w", path, err)
		}
		if passphrase == "" {
			if prompt == nil {
				return nil, fmt.Errorf("private key file %q is encrypted and no passphrase is available", path)
			}
			passphrase, err = prompt(fmt.Sprintf("Passphrase for %s: ", path), false)
			if err != nil {
				return nil, fmt.Errorf("passphrase prompt failed: %w", err)
			}
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("unable to decrypt private key file %q: %w", path, err)
		}
	}
	return NewPrivateKey(signer, path), nil
}

// ImportPublicKeyFile loads a public key in authorized_keys format.
// ErrKeyFileNotFound is returned if the file does not exist
func ImportPublicKeyFile(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyFileNotFound
		}
		return nil, fmt.Errorf("unable to read public key file %q: %w", path, err)
	}
	pub, comment, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse public key file %q: %w", path, err)
	}
	return NewPublicKey(pub, comment), nil
}

// ExportPublicKeyFile writes the public half of the key to the given path
// in authorized_keys format
func ExportPublicKeyFile(key *Key, path string) error {
	if !key.IsPublic() {
		return errors.New("no public key material to export")
	}
	return os.WriteFile(path, ssh.MarshalAuthorizedKey(key.public), 0644)
}

// SignUserauth signs a publickey USERAUTH_REQUEST.
// The signed data is the session identifier, encoded as an SSH string,
// followed by the request packet from the message byte up to and including
// the public key blob, as specified in RFC 4252 section 7.
// The returned blob is the wrapped "string algorithm, string signature"
// form ready to be appended to the request
func SignUserauth(sessionID, request []byte, key *Key) ([]byte, error) {
	if !key.IsPrivate() {
		return nil, errors.New("not a private key")
	}
	buf := wire.New()
	buf.AddBytes(sessionID)
	buf.AddRaw(request)
	sig, err := key.signer.Sign(rand.Reader, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("signature failed: %w", err)
	}
	return MarshalSignature(sig), nil
}

// MarshalSignature encodes a signature as "string algorithm, string blob"
func MarshalSignature(sig *ssh.Signature) []byte {
	buf := wire.New()
	buf.AddString(sig.Format)
	buf.AddBytes(sig.Blob)
	return buf.Bytes()
}

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

	"github.com/serpent213/libssh/internal/logger"
	"github.com/serpent213/libssh/pki"
)

// PublicKeyAuto tries to authenticate automatically with public keys:
// first with the ssh-agent, if one is configured, then with every
// configured identity file. Encrypted private keys are decrypted with
// the given passphrase, or through the configured prompt callback when
// the passphrase is empty.
// When only the private key file exists, the public half is derived from
// it and persisted next to it with a ".pub" suffix, best effort
func (s *Session) PublicKeyAuto(username, passphrase string) Result {
	if s == nil {
		return AuthError
	}

	if s.config.Agent != nil {
		rc := s.Agent(username)
		if rc == AuthError || rc == AuthSuccess {
			return rc
		}
	}

	for _, privkeyFile := range s.config.IdentityFiles {
		pubkeyFile := privkeyFile + ".pub"
		logger.Debug(logSender, s.id, "trying to authenticate with %q", privkeyFile)

		var privkey *pki.Key
		pubkey, err := pki.ImportPublicKeyFile(pubkeyFile)
		if errors.Is(err, pki.ErrKeyFileNotFound) {
			// no public key file, read the private key and persist the
			// derived public half for the next run
			privkey, err = pki.ImportPrivateKeyFile(privkeyFile, passphrase, s.config.Prompt)
			if errors.Is(err, pki.ErrKeyFileNotFound) {
				logger.Debug(logSender, s.id, "private key %q does not exist", privkeyFile)
				continue
			}
			if err != nil {
				logger.Warn(logSender, s.id, "unable to read private key %q: %v", privkeyFile, err)
				continue
			}
			pubkey = privkey.PublicOnly()
			if err := pki.ExportPublicKeyFile(pubkey, pubkeyFile); err != nil {
				logger.Warn(logSender, s.id, "could not write public key to file %q: %v", pubkeyFile, err)
			}
		} else if err != nil {
			logger.Warn(logSender, s.id, "unable to import public key %q: %v", pubkeyFile, err)
			continue
		}

		rc := s.TryPublicKey(username, pubkey)
		if rc == AuthError {
			logger.Debug(logSender, s.id, "public key authentication error for %q", privkeyFile)
			return rc
		}
		if rc != AuthSuccess {
			logger.Debug(logSender, s.id, "public key for %q refused by server", privkeyFile)
			continue
		}

		// the offer was accepted, make sure the private key is loaded
		if privkey == nil {
			privkey, err = pki.ImportPrivateKeyFile(privkeyFile, passphrase, s.config.Prompt)
			if errors.Is(err, pki.ErrKeyFileNotFound) {
				logger.Debug(logSender, s.id, "private key %q does not exist", privkeyFile)
				continue
			}
			if err != nil {
				logger.Warn(logSender, s.id, "unable to read private key %q: %v", privkeyFile, err)
				continue
			}
		}

		rc = s.PublicKey(username, privkey)
		if rc == AuthError {
			return rc
		}
		if rc == AuthSuccess {
			logger.Info(logSender, s.id, "successfully authenticated using %q", privkeyFile)
			return rc
		}
		logger.Debug(logSender, s.id, "the server accepted the public key but refused the signature")
	}

	logger.Debug(logSender, s.id, "tried every public key, none matched")
	return AuthDenied
}

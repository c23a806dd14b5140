// internal/store/sealer.go
package store

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// keySalt is fixed so the same passphrase always opens the same file.
	keySalt       = "ghostwire/session-store/v1"
	keyIterations = 100_000
	keyLength     = 32
)

// fileMagic prefixes every store file.
var fileMagic = []byte("GWS1")

var errCorrupt = errors.New("store file is corrupt or the passphrase is wrong")

// sealer encrypts the serialised store with AES-256-GCM.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(passphrase string) (*sealer, error) {
	key := pbkdf2.Key([]byte(passphrase), []byte(keySalt), keyIterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

// seal returns magic || nonce || ciphertext.
func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, len(fileMagic)+len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, fileMagic...)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plaintext, fileMagic), nil
}

func (s *sealer) open(data []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(data) < len(fileMagic)+n || !bytes.Equal(data[:len(fileMagic)], fileMagic) {
		return nil, errCorrupt
	}
	body := data[len(fileMagic):]
	plaintext, err := s.aead.Open(nil, body[:n], body[n:], fileMagic)
	if err != nil {
		return nil, errCorrupt
	}
	return plaintext, nil
}

package repository

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
	nonceLen      = 24
)

var sealMagic = []byte("ESK1")

var (
	// ErrPassphraseRequired is returned when a sealed file is read without a passphrase.
	ErrPassphraseRequired = errors.New("session file is sealed; a passphrase is required")
	// ErrWrongPassphrase is returned when a sealed file cannot be opened.
	ErrWrongPassphrase = errors.New("session file could not be opened; wrong passphrase or corrupted file")
)

// Sealer encrypts session files with XSalsa20-Poly1305 under an
// Argon2id-derived key. Each seal uses a fresh salt and nonce.
type Sealer struct {
	passphrase []byte
}

// NewSealer returns a sealer for passphrase, or nil when it is empty.
func NewSealer(passphrase string) *Sealer {
	if passphrase == "" {
		return nil
	}
	return &Sealer{passphrase: []byte(passphrase)}
}

// IsSealed reports whether data carries the sealed file header.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealMagic)
}

func (s *Sealer) key(salt []byte) *[32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey(s.passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen))
	return &key
}

// Seal encrypts plaintext. Layout: magic | salt | nonce | box.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealMagic)+saltLen+nonceLen+len(plaintext)+secretbox.Overhead)
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, s.key(salt)), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return nil, ErrWrongPassphrase
	}
	data = data[len(sealMagic):]
	if len(data) < saltLen+nonceLen+secretbox.Overhead {
		return nil, ErrWrongPassphrase
	}
	salt := data[:saltLen]
	var nonce [nonceLen]byte
	copy(nonce[:], data[saltLen:saltLen+nonceLen])

	plaintext, ok := secretbox.Open(nil, data[saltLen+nonceLen:], &nonce, s.key(salt))
	if !ok {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

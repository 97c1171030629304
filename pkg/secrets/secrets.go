// Package secrets protects sensitive configuration payloads at rest.
// Keys are derived from a passphrase with scrypt and payloads sealed
// with ChaCha20-Poly1305; every Protect call uses a fresh salt and
// nonce, so protecting the same payload twice yields different bytes.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// Format marker for protected payloads.
var magic = []byte("HVSEC")

const (
	version  = 1
	saltSize = 16

	// scrypt parameters
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Protector seals and opens payloads with a passphrase-derived key.
// A Protector is safe for concurrent use.
type Protector struct {
	passphrase []byte
}

// NewProtector creates a protector from a passphrase.
func NewProtector(passphrase string) (*Protector, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required")
	}
	return &Protector{passphrase: []byte(passphrase)}, nil
}

// Protect seals a payload. The output embeds the format version, the
// scrypt salt, and the AEAD nonce; only the matching passphrase opens it.
func (p *Protector) Protect(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := p.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(magic)+2+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, magic...)
	out = binary.BigEndian.AppendUint16(out, version)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Unprotect opens a sealed payload. It fails on truncated input, an
// unknown format, a corrupted payload, or the wrong passphrase.
func (p *Protector) Unprotect(sealed []byte) ([]byte, error) {
	header := len(magic) + 2 + saltSize
	if len(sealed) < header {
		return nil, fmt.Errorf("payload too short")
	}
	if string(sealed[:len(magic)]) != string(magic) {
		return nil, fmt.Errorf("not a protected payload")
	}
	if v := binary.BigEndian.Uint16(sealed[len(magic) : len(magic)+2]); v != version {
		return nil, fmt.Errorf("unsupported payload version %d", v)
	}

	salt := sealed[len(magic)+2 : header]
	aead, err := p.aead(salt)
	if err != nil {
		return nil, err
	}

	rest := sealed[header:]
	if len(rest) < aead.NonceSize() {
		return nil, fmt.Errorf("payload too short")
	}
	nonce := rest[:aead.NonceSize()]
	ciphertext := rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	return plaintext, nil
}

func (p *Protector) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(p.passphrase, salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

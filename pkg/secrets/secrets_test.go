package secrets

import (
	"bytes"
	"testing"
)

func TestProtectUnprotectRoundTrip(t *testing.T) {
	p, err := NewProtector("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	plaintext := []byte("ssh-rsa AAAAB3... deploy key")
	sealed, err := p.Protect(plaintext)
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("sealed payload contains the plaintext")
	}

	opened, err := p.Unprotect(sealed)
	if err != nil {
		t.Fatalf("Unprotect: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round trip mismatch: %q != %q", opened, plaintext)
	}
}

func TestProtectIsSalted(t *testing.T) {
	p, err := NewProtector("passphrase")
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	a, err := p.Protect([]byte("same payload"))
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	b, err := p.Protect([]byte("same payload"))
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two Protect calls produced identical output")
	}
}

func TestUnprotectWrongPassphrase(t *testing.T) {
	p1, _ := NewProtector("first")
	p2, _ := NewProtector("second")

	sealed, err := p1.Protect([]byte("secret"))
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}

	if _, err := p2.Unprotect(sealed); err == nil {
		t.Error("expected failure with the wrong passphrase")
	}
}

func TestUnprotectCorrupted(t *testing.T) {
	p, _ := NewProtector("passphrase")

	sealed, err := p.Protect([]byte("secret"))
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}

	corrupted := append([]byte(nil), sealed...)
	corrupted[len(corrupted)-1] ^= 0xff
	if _, err := p.Unprotect(corrupted); err == nil {
		t.Error("expected failure for corrupted ciphertext")
	}
}

func TestUnprotectMalformed(t *testing.T) {
	p, _ := NewProtector("passphrase")

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"too short", []byte("HV")},
		{"wrong magic", bytes.Repeat([]byte("X"), 64)},
		{"truncated after header", append([]byte("HVSEC\x00\x01"), bytes.Repeat([]byte{0}, 16)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Unprotect(tt.payload); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewProtectorRequiresPassphrase(t *testing.T) {
	if _, err := NewProtector(""); err == nil {
		t.Error("expected error for empty passphrase")
	}
}

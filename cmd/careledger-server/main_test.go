package main

import (
	"encoding/hex"
	"testing"
)

func TestResolveEncryptionCipher_FromHex(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	cipher, generated, err := resolveEncryptionCipher(hex.EncodeToString(key))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generated {
		t.Error("expected generated=false when a key is configured")
	}
	if cipher == nil {
		t.Fatal("expected a cipher")
	}

	env, err := cipher.EncryptField([]byte("hiv panel"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plaintext, err := cipher.DecryptField(env)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plaintext) != "hiv panel" {
		t.Errorf("round trip mismatch: got %q", plaintext)
	}
}

func TestResolveEncryptionCipher_InvalidHex(t *testing.T) {
	if _, _, err := resolveEncryptionCipher("not-valid-hex!!!"); err == nil {
		t.Fatal("expected error for invalid hex, got nil")
	}
}

func TestResolveEncryptionCipher_WrongLength(t *testing.T) {
	if _, _, err := resolveEncryptionCipher("deadbeef"); err == nil {
		t.Fatal("expected error for a short key, got nil")
	}
}

func TestResolveEncryptionCipher_Ephemeral(t *testing.T) {
	cipher, generated, err := resolveEncryptionCipher("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !generated {
		t.Error("expected generated=true when no key is configured")
	}
	if cipher == nil {
		t.Fatal("expected a cipher")
	}

	// Two ephemeral ciphers must not share a key.
	other, _, err := resolveEncryptionCipher("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env, err := cipher.EncryptField([]byte("restricted note"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := other.DecryptField(env); err == nil {
		t.Error("a second ephemeral cipher should not decrypt the first's envelope")
	}
}

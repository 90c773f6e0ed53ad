package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func generateTestKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return key
}

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(generateTestKey(t))
	if err != nil {
		t.Fatalf("create cipher: %v", err)
	}
	return c
}

func TestNewCipher(t *testing.T) {
	t.Run("valid 32-byte key", func(t *testing.T) {
		c, err := NewCipher(generateTestKey(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c == nil {
			t.Fatal("expected non-nil cipher")
		}
	})

	t.Run("key too short", func(t *testing.T) {
		if _, err := NewCipher(make([]byte, 16)); err == nil {
			t.Fatal("expected error for 16-byte key")
		}
	})

	t.Run("key too long", func(t *testing.T) {
		if _, err := NewCipher(make([]byte, 64)); err == nil {
			t.Fatal("expected error for 64-byte key")
		}
	})

	t.Run("empty key", func(t *testing.T) {
		if _, err := NewCipher(nil); err == nil {
			t.Fatal("expected error for empty key")
		}
	})
}

func TestNewCipherFromHex(t *testing.T) {
	t.Run("valid hex key", func(t *testing.T) {
		hexKey := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
		if _, err := NewCipherFromHex(hexKey); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("not hex", func(t *testing.T) {
		if _, err := NewCipherFromHex("zzzz"); err == nil {
			t.Fatal("expected error for non-hex key")
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		if _, err := NewCipherFromHex("0123456789abcdef"); err == nil {
			t.Fatal("expected error for short key")
		}
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	cases := [][]byte{
		[]byte("allergy: penicillin"),
		[]byte(`{"status":"final","value":"positive"}`),
		[]byte("MRN-00012345"),
		[]byte("\x00\x01\x02binary data\xff\xfe"),
		{},
		nil,
	}

	for _, plaintext := range cases {
		env, err := c.EncryptField(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}

		if len(env.IV) == 0 || len(env.Tag) == 0 {
			t.Fatalf("encrypt %q: envelope missing iv or tag", plaintext)
		}
		if bytes.Equal(env.Ciphertext, plaintext) && len(plaintext) > 0 {
			t.Fatalf("encrypt %q: ciphertext equals plaintext", plaintext)
		}

		decrypted, err := c.DecryptField(env)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if !bytes.Equal(decrypted, plaintext) && !(len(decrypted) == 0 && len(plaintext) == 0) {
			t.Errorf("roundtrip failed: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	c := newTestCipher(t)

	env, err := c.EncryptField([]byte("hiv test result: negative"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tamper := []struct {
		name   string
		mutate func(e *Envelope)
	}{
		{"flip ciphertext bit", func(e *Envelope) { e.Ciphertext[0] ^= 0x01 }},
		{"flip tag bit", func(e *Envelope) { e.Tag[0] ^= 0x01 }},
		{"flip iv bit", func(e *Envelope) { e.IV[0] ^= 0x01 }},
		{"truncate tag", func(e *Envelope) { e.Tag = e.Tag[:8] }},
		{"empty iv", func(e *Envelope) { e.IV = nil }},
	}

	for _, tc := range tamper {
		t.Run(tc.name, func(t *testing.T) {
			mutated := Envelope{
				Ciphertext: append([]byte(nil), env.Ciphertext...),
				IV:         append([]byte(nil), env.IV...),
				Tag:        append([]byte(nil), env.Tag...),
			}
			tc.mutate(&mutated)

			plaintext, err := c.DecryptField(mutated)
			if err == nil {
				t.Fatalf("expected decryption failure, got plaintext %q", plaintext)
			}
			var decErr *DecryptionError
			if !errors.As(err, &decErr) {
				t.Fatalf("expected DecryptionError, got %T: %v", err, err)
			}
		})
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	env, err := newTestCipher(t).EncryptField([]byte("restricted note"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	other := newTestCipher(t)
	if _, err := other.DecryptField(env); err == nil {
		t.Fatal("expected decryption failure under a different key")
	}
}

func TestHash(t *testing.T) {
	d1 := HashHex([]byte("event-a"))
	d2 := HashHex([]byte("event-a"))
	d3 := HashHex([]byte("event-b"))

	if d1 != d2 {
		t.Error("digest not deterministic")
	}
	if d1 == d3 {
		t.Error("distinct inputs produced identical digest")
	}
	if len(d1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(d1))
	}
}

func TestRandomKey(t *testing.T) {
	k1, err := RandomKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, _ := RandomKey()
	if len(k1) != KeySize {
		t.Errorf("expected %d bytes, got %d", KeySize, len(k1))
	}
	if bytes.Equal(k1, k2) {
		t.Error("two generated keys are identical")
	}
}

package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	key, err := DeriveKey("correct horse battery staple", salt)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	plaintexts := []string{
		"binance-api-key-abc123",
		"",
		strings.Repeat("x", 4096),
		"спецсимволы: ключ-№1 !@#$",
	}

	for _, pt := range plaintexts {
		encrypted, err := EncryptCredential(pt, key)
		if err != nil {
			t.Fatalf("EncryptCredential: %v", err)
		}
		decrypted, err := DecryptCredential(encrypted, key)
		if err != nil {
			t.Fatalf("DecryptCredential: %v", err)
		}
		if decrypted != pt {
			t.Errorf("round trip mismatch: got %q, want %q", decrypted, pt)
		}
	}
}

func TestEncryptInvalidKeyLength(t *testing.T) {
	if _, err := EncryptCredential("secret", []byte("short")); err != ErrInvalidKeyLength {
		t.Errorf("expected ErrInvalidKeyLength, got %v", err)
	}
	if _, err := DecryptCredential("abc", []byte("short")); err != ErrInvalidKeyLength {
		t.Errorf("expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key := testKey(t)
	otherKey := testKey(t) // другая соль → другой ключ

	encrypted, err := EncryptCredential("secret", key)
	if err != nil {
		t.Fatalf("EncryptCredential: %v", err)
	}

	if _, err := DecryptCredential(encrypted, otherKey); err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptGarbage(t *testing.T) {
	key := testKey(t)

	if _, err := DecryptCredential("not-base64!!!", key); err != ErrInvalidCiphertext {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}
	// валидный base64, но короче nonce
	if _, err := DecryptCredential("YWJj", key); err != ErrCiphertextTooShort {
		t.Errorf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1, err := DeriveKey("passphrase", salt)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := DeriveKey("passphrase", salt)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same passphrase and salt must produce same key")
	}
	if len(k1) != 32 {
		t.Errorf("key length = %d, want 32", len(k1))
	}

	k3, _ := DeriveKey("other passphrase", salt)
	if bytes.Equal(k1, k3) {
		t.Error("different passphrases must produce different keys")
	}
}

func TestDeriveKeyEmptyPassphrase(t *testing.T) {
	if _, err := DeriveKey("", []byte("salt")); err != ErrEmptyPassphrase {
		t.Errorf("expected ErrEmptyPassphrase, got %v", err)
	}
}

func TestDeriveKeyBase64(t *testing.T) {
	if _, err := DeriveKeyBase64("pass", "###"); err != ErrInvalidSalt {
		t.Errorf("expected ErrInvalidSalt, got %v", err)
	}
	if _, err := DeriveKeyBase64("pass", "MDEyMzQ1Njc4OWFiY2RlZg=="); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

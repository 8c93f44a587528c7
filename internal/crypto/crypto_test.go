package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("1234567890abcdef")

	key1, err := DeriveKey("correct horse battery staple", salt)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	key2, err := DeriveKey("correct horse battery staple", salt)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Fatal("expected deterministic key derivation")
	}

	key3, err := DeriveKey("different password", salt)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	if bytes.Equal(key1, key3) {
		t.Fatal("expected different password to yield different key")
	}
}

func TestDeriveKeyRejectsBadInput(t *testing.T) {
	salt := []byte("1234567890abcdef")
	if _, err := DeriveKey("", salt); err == nil {
		t.Fatal("expected error for empty password")
	}
	if _, err := DeriveKey("password", []byte("short")); err == nil {
		t.Fatal("expected error for short salt")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := RandomKey()
	if err != nil {
		t.Fatalf("random key: %v", err)
	}

	plaintext := []byte("the eagle lands at midnight")
	ciphertext, nonce, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext leaks plaintext")
	}

	got, err := Open(key, nonce, ciphertext)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: %q vs %q", got, plaintext)
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	key, _ := RandomKey()
	other, _ := RandomKey()

	ciphertext, nonce, err := Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := Open(other, nonce, ciphertext); !errors.Is(err, ErrCipher) {
		t.Fatalf("expected ErrCipher for wrong key, got %v", err)
	}

	// flipping a single ciphertext bit must also fail authentication
	ciphertext[0] ^= 0x01
	if _, err := Open(key, nonce, ciphertext); !errors.Is(err, ErrCipher) {
		t.Fatalf("expected ErrCipher for tampered ciphertext, got %v", err)
	}
}

func TestSealNeverReusesNonce(t *testing.T) {
	key, _ := RandomKey()
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		_, nonce, err := Seal(key, []byte("same plaintext"))
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		hexNonce := hex.EncodeToString(nonce)
		if _, dup := seen[hexNonce]; dup {
			t.Fatalf("nonce %s reused after %d trials", hexNonce, i)
		}
		seen[hexNonce] = struct{}{}
	}
}

func TestSealValidation(t *testing.T) {
	key, _ := RandomKey()

	if _, _, err := Seal([]byte("short"), []byte("x")); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
	if _, _, err := Seal(key, nil); !errors.Is(err, ErrEmptyPlaintext) {
		t.Fatalf("expected ErrEmptyPlaintext, got %v", err)
	}
	if _, err := Open(key, []byte("bad"), []byte("ct")); !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce, got %v", err)
	}
}

func TestSubkeyDomainSeparation(t *testing.T) {
	key, _ := RandomKey()

	wrap, err := Subkey(key, "test/wrap")
	if err != nil {
		t.Fatalf("subkey: %v", err)
	}
	seal, err := Subkey(key, "test/seal")
	if err != nil {
		t.Fatalf("subkey: %v", err)
	}
	if bytes.Equal(wrap, seal) {
		t.Fatal("expected different labels to yield different subkeys")
	}

	again, _ := Subkey(key, "test/wrap")
	if !bytes.Equal(wrap, again) {
		t.Fatal("expected subkey derivation to be deterministic")
	}
}

package registry

import "testing"

func TestEncryptDecryptText_RoundTrip(t *testing.T) {
	ciphertext, err := encryptText("hello world", "passphrase")
	if err != nil {
		t.Fatalf("encryptText: %v", err)
	}
	if ciphertext == "hello world" {
		t.Fatal("ciphertext should not equal plaintext")
	}
	plaintext, err := decryptText(ciphertext, "passphrase")
	if err != nil {
		t.Fatalf("decryptText: %v", err)
	}
	if plaintext != "hello world" {
		t.Errorf("decryptText() = %q, want %q", plaintext, "hello world")
	}
}

func TestDecryptText_WrongPassphraseFails(t *testing.T) {
	ciphertext, err := encryptText("secret", "right")
	if err != nil {
		t.Fatalf("encryptText: %v", err)
	}
	if _, err := decryptText(ciphertext, "wrong"); err == nil {
		t.Error("expected decryption with wrong passphrase to fail")
	}
}

func TestDecryptText_MissingPrefixFails(t *testing.T) {
	if _, err := decryptText("no-prefix-here", "key"); err == nil {
		t.Error("expected error for missing envelope prefix")
	}
}

func TestEncryptText_HasVersionPrefix(t *testing.T) {
	ciphertext, err := encryptText("x", "key")
	if err != nil {
		t.Fatalf("encryptText: %v", err)
	}
	if len(ciphertext) < len(encryptionPrefix) || ciphertext[:len(encryptionPrefix)] != encryptionPrefix {
		t.Errorf("ciphertext %q missing prefix %q", ciphertext, encryptionPrefix)
	}
}

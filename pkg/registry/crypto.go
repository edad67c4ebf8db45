package registry

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptionPrefix = "v1:AES256:"
	pbkdf2Salt       = "sherpa-dns"
	pbkdf2Iterations = 100000
	pbkdf2KeyLength  = 32
)

// deriveKey derives a 32-byte key from a passphrase via PBKDF2-HMAC-SHA256
// with a fixed salt and iteration count. The first 16 bytes become the
// Fernet signing key, the last 16 the encryption key.
func deriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(pbkdf2Salt), pbkdf2Iterations, pbkdf2KeyLength, sha256.New)
}

// encryptText wraps plaintext in a Fernet-equivalent authenticated envelope
// and tags it with the "v1:AES256:" version prefix used to mark TXT
// content as encrypted.
func encryptText(plaintext, passphrase string) (string, error) {
	token, err := fernetEncrypt([]byte(plaintext), deriveKey(passphrase), time.Now())
	if err != nil {
		return "", err
	}
	return encryptionPrefix + base64.URLEncoding.EncodeToString(token), nil
}

// decryptText reverses encryptText, rejecting input that lacks the
// expected version prefix.
func decryptText(ciphertext, passphrase string) (string, error) {
	if !strings.HasPrefix(ciphertext, encryptionPrefix) {
		return "", fmt.Errorf("registry: missing %s envelope prefix", encryptionPrefix)
	}
	raw := strings.TrimPrefix(ciphertext, encryptionPrefix)
	token, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("registry: invalid envelope encoding: %w", err)
	}
	plaintext, err := fernetDecrypt(token, deriveKey(passphrase))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// fernetEncrypt builds a Fernet-format token: version byte, big-endian unix
// timestamp, random IV, AES-128-CBC ciphertext, and an HMAC-SHA256
// signature over everything preceding it.
func fernetEncrypt(plaintext, key []byte, now time.Time) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("registry: key must be 32 bytes")
	}
	signingKey, encryptionKey := key[:16], key[16:32]

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	body := make([]byte, 0, 1+8+len(iv)+len(ciphertext))
	body = append(body, 0x80)
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(now.Unix()))
	body = append(body, ts...)
	body = append(body, iv...)
	body = append(body, ciphertext...)

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(body)
	return append(body, mac.Sum(nil)...), nil
}

// fernetDecrypt verifies and decrypts a token produced by fernetEncrypt.
func fernetDecrypt(token, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("registry: key must be 32 bytes")
	}
	const headerLen = 1 + 8 + aes.BlockSize
	const sigLen = sha256.Size
	if len(token) < headerLen+sigLen {
		return nil, errors.New("registry: token too short")
	}
	signingKey, encryptionKey := key[:16], key[16:32]

	sigStart := len(token) - sigLen
	body, sig := token[:sigStart], token[sigStart:]

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, errors.New("registry: signature mismatch")
	}

	if body[0] != 0x80 {
		return nil, errors.New("registry: unsupported token version")
	}
	iv := body[9:headerLen]
	ciphertext := body[headerLen:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("registry: malformed ciphertext")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("registry: empty padded data")
	}
	padLen := int(data[len(data)-1])
	if padLen <= 0 || padLen > len(data) {
		return nil, errors.New("registry: invalid pkcs7 padding")
	}
	return data[:len(data)-padLen], nil
}

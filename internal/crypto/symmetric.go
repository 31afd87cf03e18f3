package crypto

import (
	"crypto/rand"
	"encoding/base64"

	chacha "golang.org/x/crypto/chacha20poly1305"
)

// seal encrypts plaintext under key and returns base64(nonce || ciphertext).
func seal(key []byte, plaintext string) (string, error) {
	aead, err := chacha.New(key)
	if err != nil {
		return "", ErrEncryptionFailed.WithDetails(err.Error())
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", ErrEncryptionFailed.WithDetails(err.Error())
	}
	ct := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// open reverses seal. The bool reports whether the input was a valid
// envelope; callers treat false as "already plaintext" and keep the original.
func open(key []byte, envelope string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", false
	}
	aead, err := chacha.New(key)
	if err != nil {
		return "", false
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", false
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", false
	}
	return string(pt), true
}

package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize          = 32 // AES-256
	saltSize         = 16
	pbkdf2Iterations = 100000
)

// Encryptor seals archive payloads with AES-256-GCM.
//
// Sealed layout: nonce || ciphertext. Passphrase keys are salted per archive
// and the salt is prepended: salt || nonce || ciphertext.
type Encryptor struct {
	config EncryptionConfig
}

// NewEncryptor creates an encryptor for config
func NewEncryptor(config EncryptionConfig) *Encryptor {
	return &Encryptor{config: config}
}

// Enabled reports whether payloads are encrypted
func (e *Encryptor) Enabled() bool {
	return e.config.Enabled
}

// Algorithm names the cipher in use
func (e *Encryptor) Algorithm() string {
	if !e.config.Enabled {
		return "NONE"
	}
	return "AES-256-GCM"
}

// Encrypt seals data. Disabled encryption returns data unchanged.
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	if !e.config.Enabled {
		return data, nil
	}

	var salt []byte
	if e.config.usesPassphrase() {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, NewEncryptionError("failed to generate salt", err)
		}
	}

	gcm, err := e.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewEncryptionError("failed to generate nonce", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Decrypt opens data sealed by Encrypt
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	if !e.config.Enabled {
		return data, nil
	}

	var salt []byte
	if e.config.usesPassphrase() {
		if len(data) < saltSize {
			return nil, NewEncryptionError("encrypted data too short", nil)
		}
		salt, data = data[:saltSize], data[saltSize:]
	}

	gcm, err := e.aead(salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, NewEncryptionError("encrypted data too short", nil)
	}
	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt archive (wrong key or corrupted data)", err)
	}
	return plaintext, nil
}

func (e *Encryptor) aead(salt []byte) (cipher.AEAD, error) {
	key, err := e.config.GetEncryptionKey(salt)
	if err != nil {
		return nil, NewEncryptionError("failed to get encryption key", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

// GenerateKey returns a random 256-bit key
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

// DeriveKey derives a 256-bit key from a passphrase with PBKDF2-SHA256
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// ValidateKey rejects keys of the wrong size and trivially weak keys
func ValidateKey(key []byte) error {
	if len(key) != keySize {
		return NewEncryptionError(fmt.Sprintf("key must be %d bytes for AES-256, got %d", keySize, len(key)), nil)
	}
	zeros, ones := true, true
	for _, b := range key {
		zeros = zeros && b == 0x00
		ones = ones && b == 0xFF
	}
	if zeros || ones {
		return NewEncryptionError("key must not be all zeros or all ones", nil)
	}
	return nil
}

// SaveKeyToFile writes key to path, readable by the owner only
func SaveKeyToFile(key []byte, path string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return NewEncryptionError("failed to save key to file", err)
	}
	return nil
}

// EncodeKey returns the hex form accepted by the env key source
func EncodeKey(key []byte) string {
	return hex.EncodeToString(key)
}

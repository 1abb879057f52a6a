package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"smsrelay/internal/constants"
	"smsrelay/internal/models"
)

const (
	// MinSecretLength is the shortest accepted encryption secret.
	MinSecretLength = 32

	keySize      = 32 // AES-256
	nonceSize    = 12
	minSaltSize  = 16
	pbkdf2Rounds = 100000
	sealedPrefix = "v1."
)

// ErrSealedValue is returned for stored values that cannot be opened.
var ErrSealedValue = errors.New("sealed value is corrupt or bound to another work item")

// Encryptor seals queued payloads at rest. Every sealed value is bound to
// the work id it belongs to, so a payload copied onto another row fails to
// open. A disabled Encryptor passes values through unchanged.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from config. Secret and salt come from
// SMSRELAY_ENCRYPTION_SECRET and SMSRELAY_ENCRYPTION_SALT.
func NewEncryptor(cfg models.EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return &Encryptor{}, nil
	}

	key, err := deriveKey(cfg.Secret, cfg.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Enabled reports whether values are actually encrypted.
func (e *Encryptor) Enabled() bool {
	return e != nil && e.aead != nil
}

// Seal encrypts plaintext for the work item workID.
func (e *Encryptor) Seal(plaintext []byte, workID string) (string, error) {
	if !e.Enabled() {
		return string(plaintext), nil
	}

	buf := make([]byte, nonceSize, nonceSize+len(plaintext)+e.aead.Overhead())
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	buf = e.aead.Seal(buf, buf[:nonceSize], plaintext, []byte(workID))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Open reverses Seal. Values written while encryption was off are returned
// as they are.
func (e *Encryptor) Open(sealed, workID string) ([]byte, error) {
	if len(sealed) < len(sealedPrefix) || sealed[:len(sealedPrefix)] != sealedPrefix {
		if e.Enabled() && sealed != "" && sealed[0] != '{' {
			return nil, ErrSealedValue
		}
		return []byte(sealed), nil
	}
	if !e.Enabled() {
		return nil, fmt.Errorf("payload is encrypted but encryption is disabled")
	}

	data, err := base64.RawURLEncoding.DecodeString(sealed[len(sealedPrefix):])
	if err != nil || len(data) < nonceSize {
		return nil, ErrSealedValue
	}
	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(workID))
	if err != nil {
		return nil, ErrSealedValue
	}
	return plaintext, nil
}

func deriveKey(secret, salt string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("SMSRELAY_ENCRYPTION_SECRET environment variable is required when encryption is enabled")
	}
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", MinSecretLength)
	}
	if salt == "" {
		salt = constants.EncryptionSalt
	}
	if len(salt) < minSaltSize {
		return nil, fmt.Errorf("encryption salt must be at least %d characters long", minSaltSize)
	}
	return pbkdf2.Key([]byte(secret), []byte(salt), pbkdf2Rounds, keySize, sha256.New), nil
}

// Package lessoncrypt derives per-user keys and seals lesson records with AES-256-GCM.
package lessoncrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"

	"cic-sync/internal/domain"
	"golang.org/x/crypto/pbkdf2"
)

// MinIterations is the lowest PBKDF2 iteration count accepted.
const MinIterations = 100000

const keyLength = 32

// DefaultSalt is used when no salt is configured.
const DefaultSalt = "cic-lesson-salt-v1"

// DefaultSecret is the application-wide master secret mixed into every user key.
const DefaultSecret = "cic-app-master-secret"

// Key is a derived AES-256-GCM key. The raw bytes are not retained.
type Key struct {
	aead cipher.AEAD
}

// Deriver turns identities into keys.
type Deriver struct {
	secret     string
	salt       string
	iterations int
}

// NewDeriver configures a Deriver. Empty values fall back to the defaults and
// iteration counts below MinIterations are raised to it.
func NewDeriver(secret, salt string, iterations int) *Deriver {
	if secret == "" {
		secret = DefaultSecret
	}
	if salt == "" {
		salt = DefaultSalt
	}
	if iterations < MinIterations {
		iterations = MinIterations
	}
	return &Deriver{secret: secret, salt: salt, iterations: iterations}
}

// Derive returns the key for userID using the configured salt.
func (d *Deriver) Derive(userID string) (Key, error) {
	return d.DeriveWithSalt(userID, d.salt)
}

// DeriveWithSalt returns the key for userID and an explicit salt.
func (d *Deriver) DeriveWithSalt(userID, salt string) (Key, error) {
	if userID == "" {
		return Key{}, fmt.Errorf("%w: empty identity for key derivation", domain.ErrSecurityViolation)
	}
	if salt == "" {
		salt = d.salt
	}
	material := []byte(d.secret + userID)
	raw := pbkdf2.Key(material, []byte(salt), d.iterations, keyLength, sha256.New)
	return newKey(raw)
}

// DeriveUserKey derives a key with the default secret and iteration count.
func DeriveUserKey(userID, salt string) (Key, error) {
	return NewDeriver("", salt, MinIterations).Derive(userID)
}

func newKey(raw []byte) (Key, error) {
	block, err := aes.NewCipher(raw)
	if err != nil {
		return Key{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Key{}, err
	}
	return Key{aead: gcm}, nil
}

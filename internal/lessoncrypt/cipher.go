package lessoncrypt

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cic-sync/internal/domain"
)

const nonceSize = 12

var errNoKey = errors.New("key not initialized")

// Encrypt serializes data to JSON (strings are sealed as-is), seals it under a
// fresh nonce and returns base64(nonce || ciphertext || tag).
func Encrypt(data any, key Key) (string, error) {
	if key.aead == nil {
		return "", errNoKey
	}
	var plain []byte
	switch v := data.(type) {
	case string:
		plain = []byte(v)
	case []byte:
		plain = v
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshal record: %w", err)
		}
		plain = raw
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := key.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. The plaintext is JSON-decoded when
// possible, otherwise returned as a string. Every failure wraps domain.ErrDecryption.
func Decrypt(blob string, key Key) (any, error) {
	plain, err := open(blob, key)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(plain, &out); err != nil {
		return string(plain), nil
	}
	return out, nil
}

// DecryptInto opens blob and decodes the JSON plaintext into v.
func DecryptInto(blob string, key Key, v any) error {
	plain, err := open(blob, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("%w: plaintext is not a record: %v", domain.ErrDecryption, err)
	}
	return nil
}

func open(blob string, key Key) ([]byte, error) {
	if key.aead == nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, errNoKey)
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed blob", domain.ErrDecryption)
	}
	if len(raw) < nonceSize+key.aead.Overhead() {
		return nil, fmt.Errorf("%w: blob too short", domain.ErrDecryption)
	}
	plain, err := key.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", domain.ErrDecryption)
	}
	return plain, nil
}

package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"cic-sync/internal/domain"
	"cic-sync/internal/lessoncrypt"
)

// Payload is a decoded remote document body: either PlainPayload (documents
// written before encryption existed) or EncryptedPayload.
type Payload interface {
	isPayload()
}

// PlainPayload is a legacy unencrypted lesson.
type PlainPayload struct {
	Lesson domain.Lesson
}

// EncryptedPayload wraps a LessonCipher blob.
type EncryptedPayload struct {
	Blob        string
	ID          string
	DriveFileID string
}

func (PlainPayload) isPayload()     {}
func (EncryptedPayload) isPayload() {}

type envelope struct {
	EncryptedContent string `json:"encryptedContent"`
	ID               string `json:"id,omitempty"`
	DriveFileID      string `json:"driveFileId,omitempty"`
}

// DecodePayload classifies a raw document body by its shape.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("remote body is not a json object: %w", err)
	}
	if field, ok := probe["encryptedContent"]; ok {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if env.EncryptedContent == "" {
			return nil, fmt.Errorf("empty encrypted envelope: %s", field)
		}
		return EncryptedPayload{Blob: env.EncryptedContent, ID: env.ID, DriveFileID: env.DriveFileID}, nil
	}
	var lesson domain.Lesson
	if err := json.Unmarshal(raw, &lesson); err != nil {
		return nil, fmt.Errorf("decode plain lesson: %w", err)
	}
	return PlainPayload{Lesson: lesson}, nil
}

// OpenPayload returns the lesson inside p, decrypting with key when needed.
func OpenPayload(p Payload, key lessoncrypt.Key) (domain.Lesson, error) {
	switch v := p.(type) {
	case PlainPayload:
		return v.Lesson, nil
	case EncryptedPayload:
		var lesson domain.Lesson
		if err := lessoncrypt.DecryptInto(v.Blob, key, &lesson); err != nil {
			return domain.Lesson{}, err
		}
		return lesson, nil
	default:
		return domain.Lesson{}, errors.New("unknown payload variant")
	}
}

func seal(record any, id, driveFileID string, key lessoncrypt.Key) (json.RawMessage, error) {
	blob, err := lessoncrypt.Encrypt(record, key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{EncryptedContent: blob, ID: id, DriveFileID: driveFileID})
}

package domain

import "errors"

var (
	// ErrSecurityViolation is returned when user-scoped storage is used without an active session.
	ErrSecurityViolation = errors.New("security violation")
	// ErrDecryption indicates content cannot be read with the current identity's key.
	ErrDecryption = errors.New("decryption failed")
	// ErrReauthNeeded signals an expired or invalid remote credential.
	ErrReauthNeeded = errors.New("reauthentication needed")
	// ErrInvalidLesson is returned for lessons without an id.
	ErrInvalidLesson = errors.New("invalid lesson")
	// ErrDocumentNotFound indicates the remote store has no document for a file id.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrQuotaExceeded is returned by local backends that are out of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrRemoteUnavailable is returned when no remote store is configured.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
)

package auth

import (
	"context"
	"sync"

	"cic-sync/internal/domain"
)

// StaticIdentity is an app.Identity for a user whose token is obtained out of
// band, such as the WebSocket bridge or the CLI. EnsureDriveAccess re-issues a
// token when a Tokens issuer is attached.
type StaticIdentity struct {
	mu     sync.RWMutex
	userID string
	token  string
	issuer *Tokens
}

func NewStaticIdentity(userID, token string, issuer *Tokens) *StaticIdentity {
	return &StaticIdentity{userID: userID, token: token, issuer: issuer}
}

func (s *StaticIdentity) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *StaticIdentity) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetUser switches the identity to another user.
func (s *StaticIdentity) SetUser(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.token = token
}

// SetToken replaces the current token.
func (s *StaticIdentity) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *StaticIdentity) EnsureDriveAccess(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issuer == nil {
		if s.token == "" {
			return "", domain.ErrReauthNeeded
		}
		return s.token, nil
	}
	token, err := s.issuer.Issue(s.userID)
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

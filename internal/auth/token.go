package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrNoToken is returned when no bearer token is available.
var ErrNoToken = errors.New("no bearer token")

// Identity is the signed-in dashboard user.
type Identity struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
}

// TokenSource supplies the bearer token for outgoing backend calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed token.
type Static string

// Token implements TokenSource.
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Session holds the token and identity of one signed-in user. The token is
// replaced on re-login; cleared on logout or after the backend rejects it.
type Session struct {
	mu       sync.RWMutex
	token    string
	identity Identity
}

// NewSession creates a session for the given identity.
func NewSession(token string, id Identity) *Session {
	return &Session{token: token, identity: id}
}

// Token implements TokenSource.
func (s *Session) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// SetToken replaces the bearer token.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear drops the token so later calls fail fast with ErrNoToken.
func (s *Session) Clear() { s.SetToken("") }

// Identity returns the current user.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

package session

import (
	"context"
	"errors"
	"sync"
)

// MemoryRefreshStore keeps refresh tokens in process memory. Suited for
// tests and single-instance runs; revocation does not survive restarts.
type MemoryRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken
}

// NewMemoryRefreshStore builds an empty store.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{tokens: make(map[string]*RefreshToken)}
}

// Create implements RefreshStore.
func (s *MemoryRefreshStore) Create(_ context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[tok.ID]; ok {
		return errors.New("session: refresh token id collision")
	}
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

// Find implements RefreshStore.
func (s *MemoryRefreshStore) Find(_ context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrRefreshNotFound
	}
	cp := *tok
	return &cp, nil
}

// MarkRevoked implements RefreshStore. Revocation is single-use: a record
// that is missing or already revoked reports ErrRefreshNotFound.
func (s *MemoryRefreshStore) MarkRevoked(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok || tok.Revoked {
		return ErrRefreshNotFound
	}
	tok.Revoked = true
	return nil
}

// MarkRevokedByUser implements RefreshStore.
func (s *MemoryRefreshStore) MarkRevokedByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

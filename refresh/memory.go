package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/authguard/clock"
	"github.com/google/uuid"
)

// MemoryStore is an in-process [Store]. All operations take one mutex, which
// makes rotation trivially atomic.
type MemoryStore struct {
	mu        sync.Mutex
	clock     clock.Clock
	byHash    map[string]*StoredToken
	byAccount map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore. A nil clock uses wall time.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:     clock.OrReal(clk),
		byHash:    make(map[string]*StoredToken),
		byAccount: make(map[string]map[string]struct{}),
	}
}

// Issue implements [Store].
func (s *MemoryStore) Issue(ctx context.Context, accountID, tokenValue string, expiresAt time.Time) (StoredToken, error) {
	if err := ctx.Err(); err != nil {
		return StoredToken{}, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(accountID, HashToken(tokenValue), now, expiresAt), nil
}

// Rotate implements [Store].
func (s *MemoryStore) Rotate(ctx context.Context, oldTokenValue, accountID, newTokenValue string, expiresAt time.Time) (StoredToken, bool, error) {
	if err := ctx.Err(); err != nil {
		return StoredToken{}, false, err
	}
	oldHash := HashToken(oldTokenValue)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.byHash[oldHash]
	if old == nil || old.AccountID != accountID || !old.Valid(now) {
		return StoredToken{}, false, nil
	}
	return s.replaceLocked(accountID, HashToken(newTokenValue), now, expiresAt), true, nil
}

// replaceLocked revokes the account's tokens and stores hash. s.mu must be held.
func (s *MemoryStore) replaceLocked(accountID, hash string, now, expiresAt time.Time) StoredToken {
	hashes := s.byAccount[accountID]
	if hashes == nil {
		hashes = make(map[string]struct{})
		s.byAccount[accountID] = hashes
	}
	for h := range hashes {
		if tok := s.byHash[h]; tok != nil {
			tok.Revoked = true
		}
	}

	tok := &StoredToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if prev := s.byHash[hash]; prev != nil && prev.AccountID != accountID {
		s.unindex(prev.AccountID, hash)
	}
	s.byHash[hash] = tok
	hashes[hash] = struct{}{}
	return *tok
}

// GetValid implements [Store].
func (s *MemoryStore) GetValid(ctx context.Context, tokenValue string) (StoredToken, bool, error) {
	if err := ctx.Err(); err != nil {
		return StoredToken{}, false, err
	}
	hash := HashToken(tokenValue)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	tok := s.byHash[hash]
	if tok == nil || !tok.Valid(now) {
		return StoredToken{}, false, nil
	}
	return *tok, true, nil
}

// Revoke implements [Store].
func (s *MemoryStore) Revoke(ctx context.Context, tokenValue string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	hash := HashToken(tokenValue)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	tok := s.byHash[hash]
	if tok == nil || !tok.Valid(now) {
		return false, nil
	}
	tok.Revoked = true
	return true, nil
}

// RevokeAllForAccount implements [Store].
func (s *MemoryStore) RevokeAllForAccount(ctx context.Context, accountID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for h := range s.byAccount[accountID] {
		tok := s.byHash[h]
		if tok != nil && tok.Valid(now) {
			tok.Revoked = true
			revoked++
		}
	}
	return revoked, nil
}

// SweepExpired implements [Store].
func (s *MemoryStore) SweepExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for h, tok := range s.byHash {
		if tok.ExpiresAt.After(now) {
			continue
		}
		delete(s.byHash, h)
		s.unindex(tok.AccountID, h)
		removed++
	}
	return removed, nil
}

// Len returns the number of stored tokens, revoked ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHash)
}

func (s *MemoryStore) unindex(accountID, hash string) {
	hashes := s.byAccount[accountID]
	delete(hashes, hash)
	if len(hashes) == 0 {
		delete(s.byAccount, accountID)
	}
}

package authguard

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MemoryIdentities is an in-process IdentityProvider for tests, examples
// and the load generator. Identifiers are matched case-insensitively.
type MemoryIdentities struct {
	hasher PasswordHasher

	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryIdentities returns an empty provider that hashes with hasher.
func NewMemoryIdentities(hasher PasswordHasher) *MemoryIdentities {
	return &MemoryIdentities{hasher: hasher, accounts: make(map[string]Account)}
}

// Register hashes plain and stores a new account under identifier. The
// account ID is a random UUID.
func (m *MemoryIdentities) Register(identifier, plain string) (Account, error) {
	key := normalizeIdentifier(identifier)
	if key == "" {
		return Account{}, errors.New("identifier required")
	}
	hash, err := m.hasher.HashPassword(plain)
	if err != nil {
		return Account{}, err
	}
	acct := Account{ID: uuid.NewString(), Identifier: identifier, PasswordHash: hash}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[key]; ok {
		return Account{}, errors.New("identifier already registered")
	}
	m.accounts[key] = acct
	return acct, nil
}

func (m *MemoryIdentities) GetAccountByIdentifier(ctx context.Context, identifier string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[normalizeIdentifier(identifier)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

package repository

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/iliyamo/member-onboarding/internal/model"
)

// MemoryUsers is the STORE_DRIVER=memory counterpart of UserRepo.  Lookups
// report sql.ErrNoRows like the MySQL repository so handlers treat both
// the same way.
type MemoryUsers struct {
	mu     sync.Mutex
	hasher PasswordHasher
	users  map[uint64]model.User
	nextID uint64
	now    func() time.Time
}

func NewMemoryUsers(hasher PasswordHasher) *MemoryUsers {
	return &MemoryUsers{
		hasher: hasher,
		users:  map[uint64]model.User{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryUsers) Create(_ context.Context, email, password, role string) (uint64, error) {
	email = normalizeEmail(email)
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return 0, ErrEmailExists
		}
	}
	m.nextID++
	now := m.now()
	m.users[m.nextID] = model.User{
		ID: m.nextID, Email: email, PasswordHash: hash, Role: role,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	return m.nextID, nil
}

func (m *MemoryUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	email = normalizeEmail(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, sql.ErrNoRows
}

func (m *MemoryUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return model.User{}, sql.ErrNoRows
}

// MemoryTokens keeps refresh token hashes in memory.
type MemoryTokens struct {
	mu     sync.Mutex
	tokens map[string]model.RefreshToken
	now    func() time.Time
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{
		tokens: map[string]model.RefreshToken{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryTokens) StoreRefresh(_ context.Context, userID uint64, tokenHash string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenHash] = model.RefreshToken{
		UserID: userID, TokenHash: tokenHash, ExpiresAt: exp, CreatedAt: m.now(),
	}
	return nil
}

func (m *MemoryTokens) ValidateRefresh(_ context.Context, tokenHash string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if !ok || t.RevokedAt != nil || m.now().After(t.ExpiresAt) {
		return 0, sql.ErrNoRows
	}
	return t.UserID, nil
}

func (m *MemoryTokens) RevokeByHash(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[tokenHash]; ok && t.RevokedAt == nil {
		now := m.now()
		t.RevokedAt = &now
		m.tokens[tokenHash] = t
	}
	return nil
}

func (m *MemoryTokens) RevokeAllForUser(_ context.Context, userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for h, t := range m.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
			m.tokens[h] = t
		}
	}
	return nil
}

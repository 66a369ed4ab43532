package identity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Account is the provider's stored record: the public Identity plus the
// credential material that never leaves this package.
type Account struct {
	ID                string
	Email             string
	DisplayName       string
	EmailVerified     bool
	PasswordHash      []byte
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PasswordChangedAt time.Time
}

// Identity returns the public view of the account.
func (a *Account) Identity() *Identity {
	return &Identity{
		ID:            a.ID,
		Email:         a.Email,
		DisplayName:   a.DisplayName,
		EmailVerified: a.EmailVerified,
	}
}

func copyAccount(a *Account) *Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.PasswordHash != nil {
		cp.PasswordHash = append([]byte(nil), a.PasswordHash...)
	}
	return &cp
}

// AccountStore persists accounts. Get methods return nil, nil when the
// account does not exist; Create and Update return ErrAccountExists when the
// email is taken.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	Update(ctx context.Context, a *Account) error
}

// MemoryAccountStore is an in-memory AccountStore.
type MemoryAccountStore struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string
}

// NewMemoryAccountStore returns an empty store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryAccountStore) Create(_ context.Context, a *Account) error {
	if a == nil || a.ID == "" {
		return ErrAccountNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.ID]; ok {
		return ErrAccountExists
	}
	if _, ok := s.byEmail[a.Email]; ok {
		return ErrAccountExists
	}
	s.byID[a.ID] = copyAccount(a)
	s.byEmail[a.Email] = a.ID
	return nil
}

func (s *MemoryAccountStore) GetByID(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyAccount(s.byID[id]), nil
}

func (s *MemoryAccountStore) GetByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, nil
	}
	return copyAccount(s.byID[id]), nil
}

// List returns accounts newest first, without password hashes.
func (s *MemoryAccountStore) List(_ context.Context) ([]*Account, error) {
	s.mu.RLock()
	out := make([]*Account, 0, len(s.byID))
	for _, a := range s.byID {
		cp := copyAccount(a)
		cp.PasswordHash = nil
		out = append(out, cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryAccountStore) Update(_ context.Context, a *Account) error {
	if a == nil {
		return ErrAccountNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[a.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if a.Email != old.Email {
		if _, taken := s.byEmail[a.Email]; taken {
			return ErrAccountExists
		}
		delete(s.byEmail, old.Email)
		s.byEmail[a.Email] = a.ID
	}
	s.byID[a.ID] = copyAccount(a)
	return nil
}

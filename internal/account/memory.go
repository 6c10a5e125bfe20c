package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"herbalyze.org/internal/ids"
)

// MemoryStore implements Store with in-process concurrency safety. Used by
// tests and local development without Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byEmail  map[string]string
	byWallet map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		byWallet: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, a *Account) error {
	if a == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = ids.New()
	}
	if _, ok := s.accounts[a.ID]; ok {
		return ErrAlreadyExists
	}
	email := strings.ToLower(strings.TrimSpace(a.Email))
	if email != "" {
		if _, ok := s.byEmail[email]; ok {
			return ErrAlreadyExists
		}
	}
	wallet := NormalizeWallet(a.WalletAddress)
	if wallet != "" {
		if _, ok := s.byWallet[wallet]; ok {
			return ErrWalletTaken
		}
	}
	if a.Role == "" {
		a.Role = RolePatient
	}
	if !a.Role.Valid() {
		return ErrInvalidRole
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Email = email
	a.WalletAddress = wallet

	cp := *a
	s.accounts[a.ID] = &cp
	if email != "" {
		s.byEmail[email] = a.ID
	}
	if wallet != "" {
		s.byWallet[wallet] = a.ID
	}
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(id)
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	return s.find(id)
}

func (s *MemoryStore) FindByWallet(ctx context.Context, walletAddress string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byWallet[NormalizeWallet(walletAddress)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.find(id)
}

func (s *MemoryStore) LinkWallet(ctx context.Context, id, walletAddress string) error {
	wallet := NormalizeWallet(walletAddress)
	if wallet == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if owner, taken := s.byWallet[wallet]; taken && owner != id {
		return ErrWalletTaken
	}
	if a.WalletAddress != "" && a.WalletAddress != wallet {
		delete(s.byWallet, a.WalletAddress)
	}
	a.WalletAddress = wallet
	a.UpdatedAt = time.Now().UTC()
	s.byWallet[wallet] = id
	return nil
}

func (s *MemoryStore) SetChallenge(ctx context.Context, id, nonce string, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Challenge = nonce
	a.ChallengeSetAt = issuedAt.UTC()
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ConsumeChallenge(ctx context.Context, id, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if nonce == "" || a.Challenge != nonce {
		return ErrChallengeConsumed
	}
	a.Challenge = ""
	a.ChallengeSetAt = time.Time{}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetDoctorRequest(ctx context.Context, id string, creds DoctorCredentials) error {
	if !creds.Complete() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	cp := creds
	a.Doctor = &cp
	a.Role = RolePendingDoctor
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetRole(ctx context.Context, id string, role Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Role = role
	if role == RolePatient {
		a.Doctor = nil
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, id, status string) error {
	if status != StatusActive && status != StatusPending {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// find returns a copy so callers never alias internal state.
func (s *MemoryStore) find(id string) (*Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	if a.Doctor != nil {
		creds := *a.Doctor
		cp.Doctor = &creds
	}
	return &cp, nil
}

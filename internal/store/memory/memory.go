package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/store"
)

type Store struct {
	mu             sync.RWMutex
	records        map[string][]domain.ProductRecord
	accountsByID   map[string]domain.Account
	accountsByName map[string]string
	kv             map[string][]byte
	publications   map[string]domain.Publication
	now            func() time.Time
}

func New() *Store {
	return &Store{
		records:        make(map[string][]domain.ProductRecord),
		accountsByID:   make(map[string]domain.Account),
		accountsByName: make(map[string]string),
		kv:             make(map[string][]byte),
		publications:   make(map[string]domain.Publication),
		now:            time.Now,
	}
}

// NewWithClock is used by tests that need to move past publication expiry.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) ListRecords(_ context.Context, owner string) ([]domain.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.records[owner]), nil
}

func (s *Store) GetRecord(_ context.Context, owner string, id string) (*domain.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := indexOf(s.records[owner], id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	rec := s.records[owner][idx]
	return &rec, nil
}

func (s *Store) GetRecords(_ context.Context, owner string, ids []string) (map[string]domain.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make(map[string]domain.ProductRecord, len(ids))
	for _, rec := range s.records[owner] {
		if _, ok := wanted[rec.ID]; ok {
			out[rec.ID] = rec
		}
	}
	return out, nil
}

func (s *Store) InsertRecord(_ context.Context, owner string, rec domain.ProductRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.records[owner], rec.ID) >= 0 {
		return store.ErrConflict
	}
	s.records[owner] = append(s.records[owner], rec)
	return nil
}

func (s *Store) ReplaceRecord(_ context.Context, owner string, rec domain.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := indexOf(s.records[owner], rec.ID)
	if idx < 0 {
		return store.ErrNotFound
	}
	s.records[owner][idx] = rec
	return nil
}

func (s *Store) DeleteRecord(_ context.Context, owner string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := indexOf(s.records[owner], id)
	if idx < 0 {
		return store.ErrNotFound
	}
	s.records[owner] = slices.Delete(s.records[owner], idx, idx+1)
	return nil
}

func (s *Store) CreateAccount(_ context.Context, account domain.Account) error {
	if strings.TrimSpace(account.ID) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accountsByID[account.ID]; exists {
		return store.ErrConflict
	}
	if account.Username != "" {
		if _, taken := s.accountsByName[account.Username]; taken {
			return store.ErrConflict
		}
		s.accountsByName[account.Username] = account.ID
	}
	s.accountsByID[account.ID] = account
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accountsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *Store) GetAccountByUsername(_ context.Context, username string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountsByName[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	account := s.accountsByID[id]
	return &account, nil
}

func (s *Store) RegisterAccount(_ context.Context, id string, username string, passwordHash string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if account.Registered {
		return nil, store.ErrConflict
	}
	if _, taken := s.accountsByName[username]; taken {
		return nil, store.ErrConflict
	}

	account.Username = username
	account.PasswordHash = passwordHash
	account.Registered = true
	s.accountsByID[id] = account
	s.accountsByName[username] = id
	return &account, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(val), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[key] = slices.Clone(value)
	return nil
}

func (s *Store) Update(_ context.Context, key string, fn store.UpdateFunc) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.kv[key]
	next, err := fn(slices.Clone(current), ok)
	if err != nil {
		return nil, err
	}
	s.kv[key] = slices.Clone(next)
	return next, nil
}

func (s *Store) PutPublication(_ context.Context, pub domain.Publication) error {
	if pub.Token == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.publications[pub.Token] = clonePublication(pub)
	return nil
}

func (s *Store) GetPublication(_ context.Context, token string) (*domain.Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pub, ok := s.publications[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	if pub.Expired(s.now()) {
		delete(s.publications, token)
		return nil, store.ErrNotFound
	}
	out := clonePublication(pub)
	return &out, nil
}

func (s *Store) UpdatePublicationSettings(_ context.Context, token string, seller domain.VirtualSellerConfig, mask domain.VisibleAttributeMask, at time.Time) (*domain.Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pub, ok := s.publications[token]
	if !ok || pub.Expired(s.now()) {
		return nil, store.ErrNotFound
	}
	pub.Seller = seller
	pub.Mask = mask
	pub.UpdatedAt = at
	s.publications[token] = pub
	out := clonePublication(pub)
	return &out, nil
}

func (s *Store) DeletePublication(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.publications, token)
	return nil
}

func indexOf(records []domain.ProductRecord, id string) int {
	return slices.IndexFunc(records, func(r domain.ProductRecord) bool {
		return r.ID == id
	})
}

func clonePublication(src domain.Publication) domain.Publication {
	dst := src
	dst.IDs = slices.Clone(src.IDs)
	return dst
}

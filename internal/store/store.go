package store

import (
	"context"
	"errors"
	"time"

	"stockia/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("already exists")
)

// Repository persists confirmed inventory records and accounts. Records are
// scoped to an owner and listed in insertion order.
type Repository interface {
	ListRecords(ctx context.Context, owner string) ([]domain.ProductRecord, error)
	GetRecord(ctx context.Context, owner string, id string) (*domain.ProductRecord, error)
	GetRecords(ctx context.Context, owner string, ids []string) (map[string]domain.ProductRecord, error)
	InsertRecord(ctx context.Context, owner string, rec domain.ProductRecord) error
	ReplaceRecord(ctx context.Context, owner string, rec domain.ProductRecord) error
	DeleteRecord(ctx context.Context, owner string, id string) error

	CreateAccount(ctx context.Context, account domain.Account) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	RegisterAccount(ctx context.Context, id string, username string, passwordHash string) (*domain.Account, error)
}

// KeyValue is the durable store behind the quota ledger. Update applies fn to
// the current value and stores its result atomically; an error from fn aborts
// the write and is returned unchanged.
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)
}

// UpdateFunc receives the stored value (ok is false when absent) and returns
// the value to store.
type UpdateFunc func(current []byte, ok bool) ([]byte, error)

// PublicationStore associates share tokens with their seller settings.
// Expired entries behave as missing.
type PublicationStore interface {
	PutPublication(ctx context.Context, pub domain.Publication) error
	GetPublication(ctx context.Context, token string) (*domain.Publication, error)
	UpdatePublicationSettings(ctx context.Context, token string, seller domain.VirtualSellerConfig, mask domain.VisibleAttributeMask, at time.Time) (*domain.Publication, error)
	DeletePublication(ctx context.Context, token string) error
}

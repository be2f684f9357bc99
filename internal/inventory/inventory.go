package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/events"
	"stockia/backend/internal/logging"
	"stockia/backend/internal/store"
)

// Store is one owner's confirmed inventory. Records are listed in insertion
// order and identifiers are unique.
type Store struct {
	repo      store.Repository
	owner     string
	publisher events.Publisher
	logger    *zap.Logger
}

func New(repo store.Repository, owner string, publisher events.Publisher, logger *zap.Logger) *Store {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Store{
		repo:      repo,
		owner:     owner,
		publisher: publisher,
		logger:    logging.OrNop(logger).Named("inventory").With(zap.String("owner", owner)),
	}
}

func (s *Store) List(ctx context.Context) ([]domain.ProductRecord, error) {
	return s.repo.ListRecords(ctx, s.owner)
}

func (s *Store) Get(ctx context.Context, id string) (domain.ProductRecord, bool, error) {
	rec, err := s.repo.GetRecord(ctx, s.owner, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ProductRecord{}, false, nil
	}
	if err != nil {
		return domain.ProductRecord{}, false, err
	}
	return *rec, true, nil
}

// Add appends rec. The caller guarantees the identifier is new.
func (s *Store) Add(ctx context.Context, rec domain.ProductRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.InsertRecord(ctx, s.owner, normalize(rec)); err != nil {
		return err
	}
	s.announce(ctx, domain.EventRecordConfirmed, rec.ID)
	return nil
}

func (s *Store) Replace(ctx context.Context, rec domain.ProductRecord) error {
	if err := s.repo.ReplaceRecord(ctx, s.owner, normalize(rec)); err != nil {
		return err
	}
	s.announce(ctx, domain.EventRecordConfirmed, rec.ID)
	return nil
}

// Update patches one field. An unknown id is a no-op and reports false.
func (s *Store) Update(ctx context.Context, id string, field string, value string) (domain.ProductRecord, bool, error) {
	f, err := domain.ParseField(field)
	if err != nil {
		return domain.ProductRecord{}, false, err
	}
	current, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		return domain.ProductRecord{}, false, err
	}
	updated, err := domain.ApplyField(current, f, value)
	if err != nil {
		return domain.ProductRecord{}, false, err
	}
	err = s.repo.ReplaceRecord(ctx, s.owner, updated)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ProductRecord{}, false, nil
	}
	if err != nil {
		return domain.ProductRecord{}, false, err
	}
	return updated, true, nil
}

// Remove deletes id. Removing a missing id is not an error.
func (s *Store) Remove(ctx context.Context, id string) error {
	err := s.repo.DeleteRecord(ctx, s.owner, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.announce(ctx, domain.EventRecordRemoved, id)
	return nil
}

func (s *Store) announce(ctx context.Context, eventType domain.EventType, id string) {
	err := s.publisher.Publish(ctx, domain.InventoryEvent{
		Type:     eventType,
		Owner:    s.owner,
		RecordID: id,
		At:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("inventory event dropped", zap.String("type", string(eventType)), zap.String("record_id", id), zap.Error(err))
	}
}

func normalize(rec domain.ProductRecord) domain.ProductRecord {
	if rec.Quantity < 0 {
		rec.Quantity = 0
	}
	rec.Confidence = domain.ClampConfidence(rec.Confidence)
	return rec
}

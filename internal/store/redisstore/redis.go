package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/store"
)

const (
	kvPrefix          = "stockia:kv:"
	publicationPrefix = "stockia:share:"

	maxUpdateAttempts = 16
)

// Store keeps quota state and share publications in redis. Publication
// expiry is delegated to key TTLs.
type Store struct {
	client *redis.Client
	now    func() time.Time
}

func NewClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func New(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, kvPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, kvPrefix+key, value, 0).Err()
}

// Update is an optimistic WATCH/MULTI loop: a concurrent writer on the same
// key makes the transaction fail and fn runs again on the fresh value.
func (s *Store) Update(ctx context.Context, key string, fn store.UpdateFunc) ([]byte, error) {
	key = kvPrefix + key
	var out []byte
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		ok := true
		if errors.Is(err, redis.Nil) {
			current, ok = nil, false
		} else if err != nil {
			return err
		}

		next, err := fn(current, ok)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("update %s: %w", key, redis.TxFailedErr)
}

func (s *Store) PutPublication(ctx context.Context, pub domain.Publication) error {
	if pub.Token == "" {
		return store.ErrInvalidInput
	}
	ttl := pub.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return store.ErrInvalidInput
	}
	payload, err := json.Marshal(pub)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, publicationPrefix+pub.Token, payload, ttl).Err()
}

func (s *Store) GetPublication(ctx context.Context, token string) (*domain.Publication, error) {
	val, err := s.client.Get(ctx, publicationPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var pub domain.Publication
	if err := json.Unmarshal(val, &pub); err != nil {
		return nil, err
	}
	if pub.Expired(s.now()) {
		return nil, store.ErrNotFound
	}
	return &pub, nil
}

func (s *Store) UpdatePublicationSettings(ctx context.Context, token string, seller domain.VirtualSellerConfig, mask domain.VisibleAttributeMask, at time.Time) (*domain.Publication, error) {
	pub, err := s.GetPublication(ctx, token)
	if err != nil {
		return nil, err
	}
	pub.Seller = seller
	pub.Mask = mask
	pub.UpdatedAt = at

	payload, err := json.Marshal(pub)
	if err != nil {
		return nil, err
	}
	// KeepTTL preserves the original validity window.
	if err := s.client.Set(ctx, publicationPrefix+token, payload, redis.KeepTTL).Err(); err != nil {
		return nil, err
	}
	return pub, nil
}

func (s *Store) DeletePublication(ctx context.Context, token string) error {
	return s.client.Del(ctx, publicationPrefix+token).Err()
}

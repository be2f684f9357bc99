package redisstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("STOCKIA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set STOCKIA_TEST_REDIS_ADDR to run redis integration test")
	}
	s := New(NewClient(addr, "", 0))
	require.NoError(t, s.Ping(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPublicationRoundTripAndUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	token := fmt.Sprintf("it-%d", time.Now().UnixNano())
	now := time.Now().UTC()
	t.Cleanup(func() { _ = s.DeletePublication(ctx, token) })

	require.NoError(t, s.PutPublication(ctx, domain.Publication{
		Token: token, Owner: "acc", IDs: []string{"a"},
		Seller: domain.DefaultSellerConfig(), Mask: domain.DefaultMask(),
		CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Minute),
	}))

	updated, err := s.UpdatePublicationSettings(ctx, token, domain.DefaultSellerConfig(), domain.VisibleAttributeMask{Brand: true}, now)
	require.NoError(t, err)
	assert.True(t, updated.Mask.Brand)

	ttl, err := s.client.TTL(ctx, publicationPrefix+token).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.DeletePublication(ctx, token))
	_, err = s.GetPublication(ctx, token)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestKeyValueRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := fmt.Sprintf("it-kv-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = s.client.Del(ctx, kvPrefix+key).Err() })

	require.NoError(t, s.Set(ctx, key, []byte(`{"used":3}`)))
	val, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"used":3}`, string(val))
}

func TestKeyValueUpdateUnderContention(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := fmt.Sprintf("it-kv-incr-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = s.client.Del(ctx, kvPrefix+key).Err() })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, key, func(current []byte, ok bool) ([]byte, error) {
				n := 0
				if ok {
					n, _ = strconv.Atoi(string(current))
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	val, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "8", string(val))
}

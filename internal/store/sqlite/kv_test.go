package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stockia.db")

	kv, err := Open(ctx, path)
	require.NoError(t, err)

	_, ok, err := kv.Get(ctx, "stockia_credits:acc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "stockia_credits:acc-1", []byte(`{"used":1,"total":5,"registered":false}`)))
	require.NoError(t, kv.Set(ctx, "stockia_credits:acc-1", []byte(`{"used":2,"total":5,"registered":false}`)))
	require.NoError(t, kv.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	val, ok, err := reopened.Get(ctx, "stockia_credits:acc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"used":2,"total":5,"registered":false}`, string(val))
}

func TestKVUpdateIsReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	kv, err := Open(ctx, filepath.Join(t.TempDir(), "stockia.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	incr := func(current []byte, ok bool) ([]byte, error) {
		n := 0
		if ok {
			n, _ = strconv.Atoi(string(current))
		}
		return []byte(strconv.Itoa(n + 1)), nil
	}
	for i := 0; i < 3; i++ {
		_, err := kv.Update(ctx, "counter", incr)
		require.NoError(t, err)
	}

	_, err = kv.Update(ctx, "counter", func([]byte, bool) ([]byte, error) {
		return nil, errors.New("refused")
	})
	require.EqualError(t, err, "refused")

	val, ok, err := kv.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", string(val))
}

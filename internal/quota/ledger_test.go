package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/store"
	"stockia/backend/internal/store/memory"
)

func seed(t *testing.T, kv *memory.Store, owner string, state string) {
	t.Helper()
	require.NoError(t, kv.Set(context.Background(), Key(owner), []byte(state)))
}

func TestOpenDefaultsWhenNothingStored(t *testing.T) {
	l, err := Open(context.Background(), memory.New(), "acc-1", 5, 5)
	require.NoError(t, err)

	assert.Equal(t, domain.QuotaState{Used: 0, Total: 5, Registered: false}, l.State())
	assert.True(t, l.CanConsume())
}

func TestConsumeReachesCap(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	seed(t, kv, "acc-1", `{"used":4,"total":5,"registered":false}`)

	l, err := Open(ctx, kv, "acc-1", 5, 5)
	require.NoError(t, err)

	state, err := l.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaState{Used: 5, Total: 5, Registered: false}, state)
	assert.False(t, l.CanConsume())

	_, err = l.Consume(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 5, l.State().Used)

	raw, ok, err := kv.Get(ctx, Key("acc-1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"used":5,"total":5,"registered":false}`, string(raw))
}

func TestRegisterRaisesCapOnce(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	seed(t, kv, "acc-1", `{"used":3,"total":5,"registered":false}`)

	l, err := Open(ctx, kv, "acc-1", 5, 5)
	require.NoError(t, err)

	state, err := l.Register(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaState{Used: 3, Total: 10, Registered: true}, state)

	again, err := l.Register(ctx)
	require.NoError(t, err)
	assert.Equal(t, state, again)

	reopened, err := Open(ctx, kv, "acc-1", 5, 5)
	require.NoError(t, err)
	assert.Equal(t, state, reopened.State())
}

func TestUsedIsMonotonic(t *testing.T) {
	ctx := context.Background()
	l, err := Open(ctx, memory.New(), "acc-1", 3, 5)
	require.NoError(t, err)

	prev := l.State().Used
	for i := 0; i < 10; i++ {
		if i == 5 {
			_, err := l.Register(ctx)
			require.NoError(t, err)
		}
		state, _ := l.Consume(ctx)
		assert.GreaterOrEqual(t, state.Used, prev)
		assert.LessOrEqual(t, state.Used, state.Total)
		prev = state.Used
	}
	assert.Equal(t, 8, l.State().Used)
}

type failingKV struct {
	*memory.Store
}

func (failingKV) Update(context.Context, string, store.UpdateFunc) ([]byte, error) {
	return nil, errors.New("disk full")
}

func TestFailedPersistLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	l, err := Open(ctx, failingKV{memory.New()}, "acc-1", 5, 5)
	require.NoError(t, err)

	_, err = l.Consume(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, l.State().Used)
}

func TestOpenRejectsCorruptState(t *testing.T) {
	kv := memory.New()
	seed(t, kv, "acc-1", `not json`)

	_, err := Open(context.Background(), kv, "acc-1", 5, 5)
	assert.Error(t, err)
}

func TestLedgersSharingAStoreNeverLowerUsed(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()

	a, err := Open(ctx, kv, "acc-1", 5, 5)
	require.NoError(t, err)
	b, err := Open(ctx, kv, "acc-1", 5, 5)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := a.Consume(ctx)
		require.NoError(t, err)
	}
	assert.True(t, b.CanConsume(), "b still holds its opening copy")

	state, err := b.Consume(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, domain.QuotaState{Used: 5, Total: 5}, state)
	assert.False(t, b.CanConsume())

	raw, _, err := kv.Get(ctx, Key("acc-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"used":5,"total":5,"registered":false}`, string(raw))
}

func TestLedgersSharingAStoreInterleave(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()

	a, err := Open(ctx, kv, "acc-1", 5, 5)
	require.NoError(t, err)
	b, err := Open(ctx, kv, "acc-1", 5, 5)
	require.NoError(t, err)

	_, err = a.Consume(ctx)
	require.NoError(t, err)
	state, err := b.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Used)

	state, err = a.Register(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaState{Used: 2, Total: 10, Registered: true}, state)

	state, err = b.Register(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, state.Total, "bonus applies once across ledgers")

	synced, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, state, synced)
}

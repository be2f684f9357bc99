package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/store"
)

const (
	keyPrefix = "stockia_credits:"

	DefaultFreeAnalyses      = 5
	DefaultRegistrationBonus = 5
)

var ErrExhausted = errors.New("analysis quota exhausted")

func Key(owner string) string {
	return keyPrefix + owner
}

// Ledger counts analyses consumed by one owner. The store is the source of
// truth: every mutation is a read-modify-write against it, so ledgers for the
// same owner in different processes never lower used or pass the cap. The
// in-memory copy serves State and CanConsume between Syncs.
type Ledger struct {
	mu    sync.Mutex
	kv    store.KeyValue
	key   string
	free  int
	bonus int
	state domain.QuotaState
}

func Open(ctx context.Context, kv store.KeyValue, owner string, free int, bonus int) (*Ledger, error) {
	if kv == nil {
		return nil, errors.New("quota: key-value store is required")
	}
	if free < 0 {
		free = DefaultFreeAnalyses
	}
	if bonus < 0 {
		bonus = DefaultRegistrationBonus
	}

	l := &Ledger{
		kv:    kv,
		key:   Key(owner),
		free:  free,
		bonus: bonus,
		state: domain.QuotaState{Total: free},
	}
	if _, err := l.Sync(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Sync reloads the stored state. On error the cached copy is kept.
func (l *Ledger) Sync(ctx context.Context) (domain.QuotaState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, ok, err := l.kv.Get(ctx, l.key)
	if err != nil {
		return l.state, fmt.Errorf("quota: load %s: %w", l.key, err)
	}
	state, err := l.decode(raw, ok)
	if err != nil {
		return l.state, err
	}
	l.state = state
	return state, nil
}

func (l *Ledger) State() domain.QuotaState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Ledger) CanConsume() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Used < l.state.Total
}

// Consume records one successful analysis. It refuses to move past the stored
// cap so used never exceeds total.
func (l *Ledger) Consume(ctx context.Context) (domain.QuotaState, error) {
	return l.mutate(ctx, func(state *domain.QuotaState) error {
		if state.Used >= state.Total {
			return ErrExhausted
		}
		state.Used++
		return nil
	})
}

// Register raises the cap by the registration bonus. Only the first call has
// an effect.
func (l *Ledger) Register(ctx context.Context) (domain.QuotaState, error) {
	return l.mutate(ctx, func(state *domain.QuotaState) error {
		if !state.Registered {
			state.Registered = true
			state.Total += l.bonus
		}
		return nil
	})
}

// mutate applies change to the stored state atomically. The cached copy
// follows the store on success and on ErrExhausted; any other failure leaves
// it untouched.
func (l *Ledger) mutate(ctx context.Context, change func(*domain.QuotaState) error) (domain.QuotaState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var seen, next domain.QuotaState
	_, err := l.kv.Update(ctx, l.key, func(current []byte, ok bool) ([]byte, error) {
		state, err := l.decode(current, ok)
		if err != nil {
			return nil, err
		}
		seen = state
		if err := change(&state); err != nil {
			return nil, err
		}
		next = state
		return json.Marshal(state)
	})
	switch {
	case errors.Is(err, ErrExhausted):
		l.state = seen
		return seen, ErrExhausted
	case err != nil:
		return l.state, fmt.Errorf("quota: save %s: %w", l.key, err)
	}
	l.state = next
	return next, nil
}

func (l *Ledger) decode(raw []byte, ok bool) (domain.QuotaState, error) {
	if !ok {
		return domain.QuotaState{Total: l.free}, nil
	}
	var saved domain.QuotaState
	if err := json.Unmarshal(raw, &saved); err != nil {
		return domain.QuotaState{}, fmt.Errorf("quota: decode %s: %w", l.key, err)
	}
	if saved.Used < 0 {
		saved.Used = 0
	}
	return saved, nil
}

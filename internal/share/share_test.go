package share

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/store"
	"stockia/backend/internal/store/memory"
)

type fixture struct {
	svc   *Service
	repo  *memory.Store
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	f.repo = memory.NewWithClock(func() time.Time { return f.clock })
	f.svc = New(Config{
		Records:  f.repo,
		Registry: f.repo,
		Now:      func() time.Time { return f.clock },
	})
	ctx := context.Background()
	for _, rec := range []domain.ProductRecord{
		{ID: "a", Name: "Cola", Brand: "Acme", Category: "Drinks", Quantity: 4, Price: "$2", ImageURL: "data:image/png;base64,AQ==", VerifiedImageURL: "https://img.example/cola.jpg"},
		{ID: "b", Name: "Chips", Brand: "Crunch", Category: "Snacks", Quantity: 9, Price: "$3", ImageURL: "https://img.example/chips.jpg"},
	} {
		require.NoError(t, f.repo.InsertRecord(ctx, "acc-1", rec))
	}
	return f
}

func TestPublishRejectsUnknownRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.DeleteRecord(ctx, "acc-1", "b"))

	_, err := f.svc.Publish(ctx, "acc-1", []string{"a", "b"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownRecord)

	token, _ := EncodeToken([]string{"a", "b"})
	_, err = f.repo.GetPublication(ctx, token)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPublishRejectsEmptySelectionAndBadBehavior(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Publish(ctx, "acc-1", nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmptySelection)

	seller := domain.DefaultSellerConfig()
	seller.Behavior = "grumpy"
	_, err = f.svc.Publish(ctx, "acc-1", []string{"a"}, &seller, nil)
	assert.ErrorIs(t, err, ErrInvalidBehavior)
}

func TestPublishScopesRecordsToOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Publish(context.Background(), "acc-2", []string{"a"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownRecord)
}

func TestPublishAndViewAppliesMask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seller := domain.DefaultSellerConfig()
	seller.Behavior = ""
	seller.PhoneNumber = "+1 (555) 010-2000"
	pub, err := f.svc.Publish(ctx, "acc-1", []string{"b", "a"}, &seller, &domain.VisibleAttributeMask{Category: true, Price: true})
	require.NoError(t, err)
	assert.Equal(t, domain.BehaviorFriendly, pub.Seller.Behavior)
	assert.Equal(t, f.clock.Add(DefaultTTL), pub.ExpiresAt)

	catalog, err := f.svc.View(ctx, pub.Token)
	require.NoError(t, err)
	require.Len(t, catalog.Products, 2)

	chips := catalog.Products[0]
	assert.Equal(t, "b", chips.ID)
	require.NotNil(t, chips.Category)
	assert.Equal(t, "Snacks", *chips.Category)
	require.NotNil(t, chips.Price)
	assert.Nil(t, chips.Quantity)
	assert.Nil(t, chips.Brand)
	assert.Equal(t, "https://wa.me/15550102000?text=Hi+Sofia%21+I%27m+interested+in+Chips.", chips.ContactURL)

	assert.Equal(t, "https://img.example/cola.jpg", catalog.Products[1].ImageURL)
}

func TestViewSkipsRemovedRecordsAndExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pub, err := f.svc.Publish(ctx, "acc-1", []string{"a", "b"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.repo.DeleteRecord(ctx, "acc-1", "a"))

	catalog, err := f.svc.View(ctx, pub.Token)
	require.NoError(t, err)
	require.Len(t, catalog.Products, 1)
	assert.Equal(t, "b", catalog.Products[0].ID)
	assert.Empty(t, catalog.Products[0].ContactURL)

	f.clock = f.clock.Add(DefaultTTL)
	_, err = f.svc.View(ctx, pub.Token)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.View(ctx, "%%%")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUpdateSettingsKeepsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pub, err := f.svc.Publish(ctx, "acc-1", []string{"a"}, nil, nil)
	require.NoError(t, err)

	seller := domain.DefaultSellerConfig()
	seller.Name = "Marco"
	seller.Behavior = domain.BehaviorCasual
	updated, err := f.svc.UpdateSettings(ctx, "acc-1", pub.Token, seller, domain.VisibleAttributeMask{Brand: true})
	require.NoError(t, err)
	assert.Equal(t, pub.Token, updated.Token)
	assert.Equal(t, pub.ExpiresAt, updated.ExpiresAt)

	catalog, err := f.svc.View(ctx, pub.Token)
	require.NoError(t, err)
	assert.Equal(t, "Marco", catalog.Seller.Name)
	require.NotNil(t, catalog.Products[0].Brand)
	assert.Nil(t, catalog.Products[0].Category)

	_, err = f.svc.UpdateSettings(ctx, "acc-2", pub.Token, seller, domain.DefaultMask())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepublishKeepsCreationTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Publish(ctx, "acc-1", []string{"a"}, nil, nil)
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Hour)
	second, err := f.svc.Publish(ctx, "acc-1", []string{"a"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
}

func TestUnpublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pub, err := f.svc.Publish(ctx, "acc-1", []string{"a"}, nil, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Unpublish(ctx, "acc-2", pub.Token), ErrNotFound)
	require.NoError(t, f.svc.Unpublish(ctx, "acc-1", pub.Token))
	_, err = f.svc.View(ctx, pub.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

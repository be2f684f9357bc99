package share

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/events"
	"stockia/backend/internal/logging"
	"stockia/backend/internal/store"
)

const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrUnknownRecord   = errors.New("selected product is not in the inventory")
	ErrInvalidBehavior = errors.New("unknown seller behavior")
	ErrNotFound        = errors.New("catalog not found or expired")
)

type Config struct {
	Records   store.Repository
	Registry  store.PublicationStore
	Publisher events.Publisher
	TTL       time.Duration
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service publishes inventory selections as public catalogs. The seller
// settings and mask live in the registry keyed by token, so they can change
// without issuing a new link.
type Service struct {
	records   store.Repository
	registry  store.PublicationStore
	publisher events.Publisher
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Noop{}
	}
	return &Service{
		records:   cfg.Records,
		registry:  cfg.Registry,
		publisher: cfg.Publisher,
		ttl:       cfg.TTL,
		logger:    logging.OrNop(cfg.Logger).Named("share"),
		now:       cfg.Now,
	}
}

// Publish validates the selection against owner's inventory and registers a
// catalog for it. Republishing the same selection refreshes its settings and
// validity window under the same token.
func (s *Service) Publish(ctx context.Context, owner string, ids []string, seller *domain.VirtualSellerConfig, mask *domain.VisibleAttributeMask) (domain.Publication, error) {
	token, err := EncodeToken(ids)
	if err != nil {
		return domain.Publication{}, err
	}

	found, err := s.records.GetRecords(ctx, owner, ids)
	if err != nil {
		return domain.Publication{}, err
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return domain.Publication{}, fmt.Errorf("%w: %s", ErrUnknownRecord, id)
		}
	}

	cfg := domain.DefaultSellerConfig()
	if seller != nil {
		cfg = *seller
	}
	if cfg, err = normalizeSeller(cfg); err != nil {
		return domain.Publication{}, err
	}
	visible := domain.DefaultMask()
	if mask != nil {
		visible = *mask
	}

	now := s.now().UTC()
	pub := domain.Publication{
		Token:     token,
		Owner:     owner,
		IDs:       append([]string(nil), ids...),
		Seller:    cfg,
		Mask:      visible,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	existing, err := s.registry.GetPublication(ctx, token)
	switch {
	case err == nil && existing.Owner != owner:
		return domain.Publication{}, store.ErrConflict
	case err == nil:
		pub.CreatedAt = existing.CreatedAt
	case !errors.Is(err, store.ErrNotFound):
		return domain.Publication{}, err
	}

	if err := s.registry.PutPublication(ctx, pub); err != nil {
		return domain.Publication{}, err
	}
	s.announce(ctx, owner, token)
	return pub, nil
}

// UpdateSettings changes seller and mask of an owner's catalog in place.
func (s *Service) UpdateSettings(ctx context.Context, owner string, token string, seller domain.VirtualSellerConfig, mask domain.VisibleAttributeMask) (domain.Publication, error) {
	if _, err := s.owned(ctx, owner, token); err != nil {
		return domain.Publication{}, err
	}
	seller, err := normalizeSeller(seller)
	if err != nil {
		return domain.Publication{}, err
	}
	updated, err := s.registry.UpdatePublicationSettings(ctx, token, seller, mask, s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return domain.Publication{}, ErrNotFound
	}
	if err != nil {
		return domain.Publication{}, err
	}
	return *updated, nil
}

func (s *Service) Unpublish(ctx context.Context, owner string, token string) error {
	if _, err := s.owned(ctx, owner, token); err != nil {
		return err
	}
	return s.registry.DeletePublication(ctx, token)
}

// View renders the public projection of a catalog. Records removed from the
// inventory since publishing are skipped.
func (s *Service) View(ctx context.Context, token string) (domain.SharedCatalog, error) {
	ids, err := DecodeToken(token)
	if err != nil {
		return domain.SharedCatalog{}, err
	}
	pub, err := s.registry.GetPublication(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SharedCatalog{}, ErrNotFound
	}
	if err != nil {
		return domain.SharedCatalog{}, err
	}

	found, err := s.records.GetRecords(ctx, pub.Owner, ids)
	if err != nil {
		return domain.SharedCatalog{}, err
	}

	products := make([]domain.SharedProduct, 0, len(ids))
	for _, id := range ids {
		rec, ok := found[id]
		if !ok {
			continue
		}
		products = append(products, Project(rec, pub.Mask, pub.Seller))
	}

	return domain.SharedCatalog{
		Token:     token,
		Seller:    pub.Seller,
		Products:  products,
		ExpiresAt: pub.ExpiresAt,
	}, nil
}

// Project applies the visibility mask to one record.
func Project(rec domain.ProductRecord, mask domain.VisibleAttributeMask, seller domain.VirtualSellerConfig) domain.SharedProduct {
	image := rec.ImageURL
	if rec.VerifiedImageURL != "" {
		image = rec.VerifiedImageURL
	}
	out := domain.SharedProduct{
		ID:          rec.ID,
		Name:        rec.Name,
		ImageURL:    image,
		Description: rec.Description,
		ContactURL:  WhatsAppLink(seller.PhoneNumber, fmt.Sprintf("Hi %s! I'm interested in %s.", seller.Name, rec.Name)),
	}
	if mask.Category {
		out.Category = &rec.Category
	}
	if mask.Quantity {
		out.Quantity = &rec.Quantity
	}
	if mask.Brand {
		out.Brand = &rec.Brand
	}
	if mask.Price {
		out.Price = &rec.Price
	}
	return out
}

// WhatsAppLink returns "" when phone holds no digits.
func WhatsAppLink(phone string, message string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	return "https://wa.me/" + digits.String() + "?text=" + url.QueryEscape(message)
}

func (s *Service) owned(ctx context.Context, owner string, token string) (*domain.Publication, error) {
	pub, err := s.registry.GetPublication(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if pub.Owner != owner {
		return nil, ErrNotFound
	}
	return pub, nil
}

func (s *Service) announce(ctx context.Context, owner string, token string) {
	err := s.publisher.Publish(ctx, domain.InventoryEvent{
		Type:  domain.EventCatalogPublished,
		Owner: owner,
		Token: token,
		At:    s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("catalog event dropped", zap.Error(err))
	}
}

func normalizeSeller(cfg domain.VirtualSellerConfig) (domain.VirtualSellerConfig, error) {
	cfg.Behavior = domain.SellerBehavior(strings.ToLower(strings.TrimSpace(string(cfg.Behavior))))
	if cfg.Behavior == "" {
		cfg.Behavior = domain.BehaviorFriendly
	}
	if !cfg.Behavior.Valid() {
		return cfg, fmt.Errorf("%w: %q", ErrInvalidBehavior, cfg.Behavior)
	}
	cfg.PhoneNumber = strings.TrimSpace(cfg.PhoneNumber)
	return cfg, nil
}

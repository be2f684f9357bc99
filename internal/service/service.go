package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stockia/backend/internal/capture"
	"stockia/backend/internal/domain"
	"stockia/backend/internal/events"
	"stockia/backend/internal/inventory"
	"stockia/backend/internal/logging"
	"stockia/backend/internal/pipeline"
	"stockia/backend/internal/quota"
	"stockia/backend/internal/share"
	"stockia/backend/internal/store"
	"stockia/backend/internal/xid"
)

var ErrUnauthenticated = errors.New("authentication required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Config struct {
	Repo      store.Repository
	QuotaKV   store.KeyValue
	Registry  store.PublicationStore
	Analyzer  pipeline.Analyzer
	Publisher events.Publisher

	// Zero selects the quota package defaults; config.Load never yields zero.
	FreeAnalyses      int
	RegistrationBonus int
	PromptDelay       time.Duration
	ShareTTL          time.Duration
	Logger            *zap.Logger
}

// session is the per-owner state container: one ledger, one inventory view
// and one draft pipeline.
type session struct {
	ledger    *quota.Ledger
	inventory *inventory.Store
	pipeline  *pipeline.Reconciler
}

type Service struct {
	cfg    Config
	share  *share.Service
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func New(cfg Config) *Service {
	if cfg.Publisher == nil {
		cfg.Publisher = events.Noop{}
	}
	if cfg.FreeAnalyses <= 0 {
		cfg.FreeAnalyses = quota.DefaultFreeAnalyses
	}
	if cfg.RegistrationBonus <= 0 {
		cfg.RegistrationBonus = quota.DefaultRegistrationBonus
	}
	logger := logging.OrNop(cfg.Logger)

	return &Service{
		cfg: cfg,
		share: share.New(share.Config{
			Records:   cfg.Repo,
			Registry:  cfg.Registry,
			Publisher: cfg.Publisher,
			TTL:       cfg.ShareTTL,
			Logger:    logger,
		}),
		logger:   logger.Named("service"),
		sessions: make(map[string]*session),
	}
}

// CreateGuest opens an anonymous account with the free allowance.
func (s *Service) CreateGuest(ctx context.Context) (domain.Account, domain.QuotaState, error) {
	account := domain.Account{
		ID:        xid.New("acc"),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.cfg.Repo.CreateAccount(ctx, account); err != nil {
		return domain.Account{}, domain.QuotaState{}, err
	}
	sess, err := s.sessionFor(ctx, domain.Actor{Subject: account.ID, Role: domain.RoleGuest})
	if err != nil {
		return domain.Account{}, domain.QuotaState{}, err
	}
	s.logger.Info("guest account created", zap.String("account_id", account.ID))
	return account, sess.ledger.State(), nil
}

// CompleteRegistration grants the registration bonus once the account holds
// credentials. Calling it again changes nothing.
func (s *Service) CompleteRegistration(ctx context.Context) (domain.QuotaState, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Subject == "" {
		return domain.QuotaState{}, ErrUnauthenticated
	}
	account, err := s.cfg.Repo.GetAccount(ctx, actor.Subject)
	if err != nil {
		return domain.QuotaState{}, err
	}
	if !account.Registered {
		return domain.QuotaState{}, fmt.Errorf("%w: account has no credentials", store.ErrInvalidInput)
	}
	sess, err := s.sessionFor(ctx, actor)
	if err != nil {
		return domain.QuotaState{}, err
	}
	return sess.ledger.Register(ctx)
}

func (s *Service) Quota(ctx context.Context) (domain.QuotaState, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return domain.QuotaState{}, err
	}
	return sess.ledger.State(), nil
}

func (s *Service) Session(ctx context.Context) (domain.SessionSnapshot, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	return sess.pipeline.Snapshot(), nil
}

func (s *Service) Capture(ctx context.Context, src capture.Source) (domain.SessionSnapshot, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	return sess.pipeline.Capture(ctx, src)
}

func (s *Service) AnalyzeNext(ctx context.Context) (domain.SessionSnapshot, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	return sess.pipeline.AnalyzeNext(ctx)
}

func (s *Service) EditDraft(ctx context.Context, req domain.FieldPatchRequest) (domain.ProductRecord, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return domain.ProductRecord{}, err
	}
	return sess.pipeline.EditDraft(req.Field, domain.StringValue(req.Value))
}

func (s *Service) ConfirmDraft(ctx context.Context) (domain.ProductRecord, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return domain.ProductRecord{}, err
	}
	return sess.pipeline.Confirm(ctx)
}

func (s *Service) DiscardDraft(ctx context.Context) error {
	sess, err := s.current(ctx)
	if err != nil {
		return err
	}
	return sess.pipeline.Discard()
}

func (s *Service) DismissPrompt(ctx context.Context) error {
	sess, err := s.current(ctx)
	if err != nil {
		return err
	}
	sess.pipeline.DismissPrompt()
	return nil
}

func (s *Service) ListInventory(ctx context.Context) ([]domain.ProductRecord, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return sess.inventory.List(ctx)
}

// UpdateRecord patches one field of a confirmed record. A missing record is
// reported as store.ErrNotFound without touching anything.
func (s *Service) UpdateRecord(ctx context.Context, id string, req domain.FieldPatchRequest) (domain.ProductRecord, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return domain.ProductRecord{}, err
	}
	rec, ok, err := sess.inventory.Update(ctx, strings.TrimSpace(id), req.Field, domain.StringValue(req.Value))
	if err != nil {
		return domain.ProductRecord{}, err
	}
	if !ok {
		return domain.ProductRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Service) RemoveRecord(ctx context.Context, id string) error {
	sess, err := s.current(ctx)
	if err != nil {
		return err
	}
	return sess.inventory.Remove(ctx, strings.TrimSpace(id))
}

func (s *Service) ExportInventory(ctx context.Context, w io.Writer) error {
	records, err := s.ListInventory(ctx)
	if err != nil {
		return err
	}
	return inventory.ExportCSV(w, records)
}

func (s *Service) Publish(ctx context.Context, req domain.PublishRequest) (domain.PublishResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.PublishResponse{}, err
	}
	ids := make([]string, 0, len(req.IDs))
	for _, id := range req.IDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	pub, err := s.share.Publish(ctx, actor.Subject, ids, req.Seller, req.Mask)
	if err != nil {
		return domain.PublishResponse{}, err
	}
	s.logger.Info("catalog published", zap.String("owner", actor.Subject), zap.Int("products", len(ids)))
	return publishResponse(pub), nil
}

func (s *Service) UpdatePublication(ctx context.Context, token string, req domain.PublishSettingsRequest) (domain.PublishResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.PublishResponse{}, err
	}
	pub, err := s.share.UpdateSettings(ctx, actor.Subject, token, req.Seller, req.Mask)
	if err != nil {
		return domain.PublishResponse{}, err
	}
	return publishResponse(pub), nil
}

func (s *Service) Unpublish(ctx context.Context, token string) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	return s.share.Unpublish(ctx, actor.Subject, token)
}

// SharedCatalog is public and needs no actor.
func (s *Service) SharedCatalog(ctx context.Context, token string) (domain.SharedCatalog, error) {
	return s.share.View(ctx, token)
}

// Close stops pending prompt timers.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.pipeline.Close()
	}
}

func publishResponse(pub domain.Publication) domain.PublishResponse {
	return domain.PublishResponse{
		Token:     pub.Token,
		Path:      "/shared/" + pub.Token,
		ExpiresAt: pub.ExpiresAt,
	}
}

func (s *Service) actor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Subject == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

func (s *Service) current(ctx context.Context) (*session, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return s.sessionFor(ctx, actor)
}

// sessionFor returns the owner's session, opening its ledger on first use.
// A registered actor whose ledger missed the bonus is brought up to date.
func (s *Service) sessionFor(ctx context.Context, actor domain.Actor) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[actor.Subject]
	if !ok {
		ledger, err := quota.Open(ctx, s.cfg.QuotaKV, actor.Subject, s.cfg.FreeAnalyses, s.cfg.RegistrationBonus)
		if err != nil {
			return nil, err
		}
		inv := inventory.New(s.cfg.Repo, actor.Subject, s.cfg.Publisher, s.cfg.Logger)
		sess = &session{
			ledger:    ledger,
			inventory: inv,
			pipeline: pipeline.New(pipeline.Config{
				Owner:       actor.Subject,
				Analyzer:    s.cfg.Analyzer,
				Ledger:      ledger,
				Inventory:   inv,
				PromptDelay: s.cfg.PromptDelay,
				Logger:      s.cfg.Logger,
			}),
		}
		s.sessions[actor.Subject] = sess
	}

	if actor.Role == domain.RoleUser && !sess.ledger.State().Registered {
		if _, err := sess.ledger.Register(ctx); err != nil {
			s.logger.Warn("failed to apply registration bonus", zap.String("owner", actor.Subject), zap.Error(err))
		}
	}
	return sess, nil
}

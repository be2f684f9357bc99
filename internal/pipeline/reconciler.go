package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"stockia/backend/internal/capture"
	"stockia/backend/internal/domain"
	"stockia/backend/internal/gateway"
	"stockia/backend/internal/logging"
	"stockia/backend/internal/xid"
)

const DefaultPromptDelay = 2 * time.Second

var (
	ErrBusy           = errors.New("another capture is in progress")
	ErrNoDraft        = errors.New("no draft awaiting confirmation")
	ErrNothingQueued  = errors.New("no queued captures")
	ErrQuotaExhausted = errors.New("analysis quota exhausted")
)

// QuotaError is returned when the quota gate blocks an analysis. It matches
// ErrQuotaExhausted.
type QuotaError struct {
	Prompt domain.Prompt
	State  domain.QuotaState
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %d of %d used (%s)", ErrQuotaExhausted, e.State.Used, e.State.Total, e.Prompt.Kind)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExhausted
}

type Analyzer interface {
	AnalyzeImage(ctx context.Context, prompt string, image *capture.Image) (gateway.ParsedFields, error)
	SearchReferenceImage(ctx context.Context, query string) string
}

type Ledger interface {
	State() domain.QuotaState
	CanConsume() bool
	Consume(ctx context.Context) (domain.QuotaState, error)
	Sync(ctx context.Context) (domain.QuotaState, error)
}

// Inventory is the confirmed record list a draft is promoted into.
type Inventory interface {
	Get(ctx context.Context, id string) (domain.ProductRecord, bool, error)
	Add(ctx context.Context, rec domain.ProductRecord) error
	Replace(ctx context.Context, rec domain.ProductRecord) error
}

type Config struct {
	Owner       string
	Analyzer    Analyzer
	Ledger      Ledger
	Inventory   Inventory
	PromptDelay time.Duration
	Logger      *zap.Logger

	// OnPrompt, when set, is called from the prompt timer goroutine.
	OnPrompt func(domain.Prompt)
	Now      func() time.Time
}

type job struct {
	image   *capture.Image
	barcode string
}

// Reconciler is the draft pipeline of one user. Captures are serialised:
// while one is capturing, analysing or awaiting confirmation, new captures
// fail with ErrBusy.
type Reconciler struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	draft       *domain.ProductRecord
	queue       []capture.Image
	prompt      *domain.Prompt
	promptTimer *time.Timer
}

func New(cfg Config) *Reconciler {
	if cfg.PromptDelay <= 0 {
		cfg.PromptDelay = DefaultPromptDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger).Named("pipeline").With(zap.String("owner", cfg.Owner)),
		state:  StateIdle,
	}
}

func (r *Reconciler) Snapshot() domain.SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	quota := r.cfg.Ledger.State()
	snap := domain.SessionSnapshot{
		State:     string(r.state),
		Queued:    len(r.queue),
		Quota:     quota,
		Remaining: quota.Remaining(),
	}
	if r.draft != nil {
		draft := *r.draft
		snap.Draft = &draft
	}
	if r.prompt != nil {
		prompt := *r.prompt
		snap.Prompt = &prompt
	}
	return snap
}

// Capture runs src and analyses its first payload. Extra images of a batch
// are queued for AnalyzeNext.
func (r *Reconciler) Capture(ctx context.Context, src capture.Source) (domain.SessionSnapshot, error) {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return domain.SessionSnapshot{}, ErrBusy
	}
	if err := r.move(EventCapture); err != nil {
		r.mu.Unlock()
		return domain.SessionSnapshot{}, err
	}
	r.mu.Unlock()

	res, err := src.Capture(ctx)
	if err != nil {
		event := EventCaptureFailed
		if errors.Is(err, context.Canceled) {
			event = EventCancel
		}
		r.mu.Lock()
		_ = r.move(event)
		r.mu.Unlock()
		return domain.SessionSnapshot{}, err
	}

	r.syncQuota(ctx)
	r.mu.Lock()
	if err := r.gate(); err != nil {
		r.mu.Unlock()
		return domain.SessionSnapshot{}, err
	}
	var next job
	switch res.Kind {
	case capture.KindBarcode:
		next.barcode = res.Barcode
	default:
		if len(res.Images) == 0 {
			_ = r.move(EventCaptureFailed)
			r.mu.Unlock()
			return domain.SessionSnapshot{}, capture.ErrNoPayload
		}
		first := res.Images[0]
		next.image = &first
		r.queue = append(r.queue, res.Images[1:]...)
	}
	_ = r.move(EventCaptured)
	r.mu.Unlock()

	if err := r.analyze(ctx, next); err != nil {
		return domain.SessionSnapshot{}, err
	}
	return r.Snapshot(), nil
}

// AnalyzeNext analyses the oldest queued image of an earlier batch.
func (r *Reconciler) AnalyzeNext(ctx context.Context) (domain.SessionSnapshot, error) {
	r.syncQuota(ctx)
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return domain.SessionSnapshot{}, ErrBusy
	}
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return domain.SessionSnapshot{}, ErrNothingQueued
	}
	if err := r.gate(); err != nil {
		r.mu.Unlock()
		return domain.SessionSnapshot{}, err
	}
	img := r.queue[0]
	r.queue = r.queue[1:]
	_ = r.move(EventNext)
	r.mu.Unlock()

	if err := r.analyze(ctx, job{image: &img}); err != nil {
		return domain.SessionSnapshot{}, err
	}
	return r.Snapshot(), nil
}

// syncQuota picks up consumption recorded by other processes before the gate.
// The cached state stands in when the store cannot be read.
func (r *Reconciler) syncQuota(ctx context.Context) {
	if _, err := r.cfg.Ledger.Sync(ctx); err != nil {
		r.logger.Warn("quota sync failed, using cached state", zap.Error(err))
	}
}

// gate applies the quota check. Callers hold r.mu.
func (r *Reconciler) gate() error {
	if r.cfg.Ledger.CanConsume() {
		return nil
	}
	_ = r.move(EventBlocked)
	state := r.cfg.Ledger.State()
	return &QuotaError{Prompt: domain.PromptFor(state, r.cfg.Now()), State: state}
}

// analyze runs outside the lock with the state held at analyzing. Once issued
// the call is not cancelled by the caller; the gateway timeout bounds it.
func (r *Reconciler) analyze(ctx context.Context, j job) error {
	ctx = context.WithoutCancel(ctx)

	prompt := gateway.ImagePrompt
	confidence := domain.ImageConfidence
	if j.image == nil {
		prompt = gateway.BarcodePrompt(j.barcode)
		confidence = domain.BarcodeConfidence
	}

	fields, err := r.cfg.Analyzer.AnalyzeImage(ctx, prompt, j.image)
	if err != nil {
		r.mu.Lock()
		_ = r.move(EventAnalysisFailed)
		r.mu.Unlock()
		r.logger.Warn("analysis failed", zap.Error(err))
		return err
	}

	draft := gateway.ToRecord(fields, confidence)
	draft.ID = xid.New("item")
	if j.image == nil && draft.Barcode == domain.FallbackBarcode {
		draft.Barcode = j.barcode
	}

	reference := r.cfg.Analyzer.SearchReferenceImage(ctx, gateway.ReferenceQuery(nonFallback(draft.Brand, domain.FallbackBrand), draft.Name))
	switch {
	case j.image != nil:
		draft.ImageURL = dataURI(*j.image)
		draft.VerifiedImageURL = reference
	case reference != "":
		draft.ImageURL = reference
		draft.VerifiedImageURL = reference
	default:
		draft.ImageURL = domain.PlaceholderImageURL
	}

	state, err := r.cfg.Ledger.Consume(ctx)
	if err != nil {
		r.logger.Error("quota consume failed", zap.Error(err))
		state = r.cfg.Ledger.State()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.draft = &draft
	_ = r.move(EventAnalyzed)
	if err == nil && state.Used == state.Total {
		r.schedulePrompt(state)
	}
	return nil
}

// EditDraft replaces one field of the pending draft.
func (r *Reconciler) EditDraft(field string, value string) (domain.ProductRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateAwaitingConfirmation || r.draft == nil {
		return domain.ProductRecord{}, ErrNoDraft
	}
	f, err := domain.ParseField(field)
	if err != nil {
		return domain.ProductRecord{}, err
	}
	updated, err := domain.ApplyField(*r.draft, f, value)
	if err != nil {
		return domain.ProductRecord{}, err
	}
	if err := r.move(EventEdit); err != nil {
		return domain.ProductRecord{}, err
	}
	r.draft = &updated
	return updated, nil
}

// Confirm promotes the draft, replacing an existing record with the same id.
// On store failure the draft stays pending.
func (r *Reconciler) Confirm(ctx context.Context) (domain.ProductRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateAwaitingConfirmation || r.draft == nil {
		return domain.ProductRecord{}, ErrNoDraft
	}
	draft := *r.draft

	_, exists, err := r.cfg.Inventory.Get(ctx, draft.ID)
	if err != nil {
		return domain.ProductRecord{}, err
	}
	if exists {
		err = r.cfg.Inventory.Replace(ctx, draft)
	} else {
		err = r.cfg.Inventory.Add(ctx, draft)
	}
	if err != nil {
		return domain.ProductRecord{}, err
	}

	_ = r.move(EventConfirm)
	r.draft = nil
	r.logger.Info("draft confirmed", zap.String("record_id", draft.ID), zap.Bool("replaced", exists))
	return draft, nil
}

func (r *Reconciler) Discard() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateAwaitingConfirmation || r.draft == nil {
		return ErrNoDraft
	}
	_ = r.move(EventDiscard)
	r.draft = nil
	return nil
}

func (r *Reconciler) DismissPrompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompt = nil
}

// Close stops a pending prompt timer.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.promptTimer != nil {
		r.promptTimer.Stop()
		r.promptTimer = nil
	}
}

// schedulePrompt is called with r.mu held.
func (r *Reconciler) schedulePrompt(state domain.QuotaState) {
	if r.promptTimer != nil {
		r.promptTimer.Stop()
	}
	r.promptTimer = time.AfterFunc(r.cfg.PromptDelay, func() {
		prompt := domain.PromptFor(state, r.cfg.Now())
		r.mu.Lock()
		r.prompt = &prompt
		r.promptTimer = nil
		r.mu.Unlock()
		if r.cfg.OnPrompt != nil {
			r.cfg.OnPrompt(prompt)
		}
	})
}

// move applies event to the current state. Callers hold r.mu.
func (r *Reconciler) move(event Event) error {
	next, err := Transition(r.state, event)
	if err != nil {
		r.logger.Error("rejected transition", zap.Error(err))
		return err
	}
	r.state = next
	return nil
}

func dataURI(img capture.Image) string {
	return fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Bytes))
}

func nonFallback(value string, fallback string) string {
	if value == fallback {
		return ""
	}
	return value
}

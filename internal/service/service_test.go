package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"stockia/backend/internal/capture"
	"stockia/backend/internal/domain"
	"stockia/backend/internal/gateway"
	"stockia/backend/internal/pipeline"
	"stockia/backend/internal/share"
	"stockia/backend/internal/store"
	"stockia/backend/internal/store/memory"
)

type stubAnalyzer struct {
	fields gateway.ParsedFields
	err    error
	calls  int
}

func (s *stubAnalyzer) AnalyzeImage(_ context.Context, _ string, _ *capture.Image) (gateway.ParsedFields, error) {
	s.calls++
	return s.fields, s.err
}

func (s *stubAnalyzer) SearchReferenceImage(context.Context, string) string { return "" }

func newTestService(analyzer pipeline.Analyzer) (*Service, *memory.Store) {
	repo := memory.New()
	svc := New(Config{
		Repo:     repo,
		QuotaKV:  repo,
		Registry: repo,
		Analyzer: analyzer,
	})
	return svc, repo
}

func guestContext(t *testing.T, svc *Service) (context.Context, domain.Account) {
	t.Helper()
	account, quota, err := svc.CreateGuest(context.Background())
	if err != nil {
		t.Fatalf("create guest failed: %v", err)
	}
	if quota != (domain.QuotaState{Used: 0, Total: 5}) {
		t.Fatalf("unexpected guest quota: %+v", quota)
	}
	return WithActor(context.Background(), domain.Actor{Subject: account.ID, Role: domain.RoleGuest}), account
}

func barcode(code string) capture.Source { return capture.DecodedCode(code) }

func TestOperationsRequireActor(t *testing.T) {
	svc, _ := newTestService(&stubAnalyzer{})
	if _, err := svc.Quota(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := svc.Publish(context.Background(), domain.PublishRequest{IDs: []string{"a"}}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestCaptureConfirmPublishFlow(t *testing.T) {
	analyzer := &stubAnalyzer{fields: gateway.ParsedFields{"productName": "Oat Milk", "category": "Dairy alternatives", "quantity": 6.0}}
	svc, _ := newTestService(analyzer)
	defer svc.Close()
	ctx, _ := guestContext(t, svc)

	snap, err := svc.Capture(ctx, barcode("8712345678906"))
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if snap.Draft == nil || snap.Draft.Name != "Oat Milk" || snap.Quota.Used != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if _, err := svc.EditDraft(ctx, domain.FieldPatchRequest{Field: "price", Value: 3.5}); err != nil {
		t.Fatalf("edit draft failed: %v", err)
	}
	confirmed, err := svc.ConfirmDraft(ctx)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.Price != "3.5" {
		t.Fatalf("expected edited price, got %q", confirmed.Price)
	}

	list, err := svc.ListInventory(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one inventory record, got %d (%v)", len(list), err)
	}

	resp, err := svc.Publish(ctx, domain.PublishRequest{IDs: []string{confirmed.ID}})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if !strings.HasPrefix(resp.Path, "/shared/") {
		t.Fatalf("unexpected share path %q", resp.Path)
	}

	catalog, err := svc.SharedCatalog(context.Background(), resp.Token)
	if err != nil {
		t.Fatalf("shared catalog failed: %v", err)
	}
	if len(catalog.Products) != 1 || catalog.Products[0].Brand != nil || catalog.Products[0].Category == nil {
		t.Fatalf("expected default mask projection, got %+v", catalog.Products)
	}
}

func TestPublishUnknownRecordProducesNoToken(t *testing.T) {
	svc, _ := newTestService(&stubAnalyzer{fields: gateway.ParsedFields{}})
	ctx, _ := guestContext(t, svc)

	if _, err := svc.Capture(ctx, barcode("1")); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	rec, err := svc.ConfirmDraft(ctx)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	_, err = svc.Publish(ctx, domain.PublishRequest{IDs: []string{rec.ID, "item-missing"}})
	if !errors.Is(err, share.ErrUnknownRecord) {
		t.Fatalf("expected ErrUnknownRecord, got %v", err)
	}
}

func TestRegistrationRaisesCapOnce(t *testing.T) {
	svc, repo := newTestService(&stubAnalyzer{fields: gateway.ParsedFields{}})
	ctx, account := guestContext(t, svc)

	for i := 0; i < 3; i++ {
		if _, err := svc.Capture(ctx, barcode("1")); err != nil {
			t.Fatalf("capture %d failed: %v", i, err)
		}
		if err := svc.DiscardDraft(ctx); err != nil {
			t.Fatalf("discard failed: %v", err)
		}
	}

	if _, err := svc.CompleteRegistration(ctx); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected registration without credentials to fail, got %v", err)
	}
	if _, err := repo.RegisterAccount(context.Background(), account.ID, "maria", "hash"); err != nil {
		t.Fatalf("register account failed: %v", err)
	}

	state, err := svc.CompleteRegistration(ctx)
	if err != nil {
		t.Fatalf("complete registration failed: %v", err)
	}
	if state != (domain.QuotaState{Used: 3, Total: 10, Registered: true}) {
		t.Fatalf("unexpected quota after registration: %+v", state)
	}

	userCtx := WithActor(context.Background(), domain.Actor{Subject: account.ID, Username: "maria", Role: domain.RoleUser})
	again, err := svc.Quota(userCtx)
	if err != nil {
		t.Fatalf("quota failed: %v", err)
	}
	if again.Total != 10 {
		t.Fatalf("expected cap to stay at 10, got %d", again.Total)
	}
}

func TestQuotaExhaustionBlocksCapture(t *testing.T) {
	analyzer := &stubAnalyzer{fields: gateway.ParsedFields{}}
	svc, _ := newTestService(analyzer)
	ctx, _ := guestContext(t, svc)

	for i := 0; i < 5; i++ {
		if _, err := svc.Capture(ctx, barcode("1")); err != nil {
			t.Fatalf("capture %d failed: %v", i, err)
		}
		if err := svc.DiscardDraft(ctx); err != nil {
			t.Fatalf("discard failed: %v", err)
		}
	}

	_, err := svc.Capture(ctx, barcode("1"))
	var quotaErr *pipeline.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if quotaErr.Prompt.Kind != domain.PromptRegister {
		t.Fatalf("expected register prompt, got %s", quotaErr.Prompt.Kind)
	}
	if analyzer.calls != 5 {
		t.Fatalf("expected 5 gateway calls, got %d", analyzer.calls)
	}
}

func TestGatewayFailureKeepsQuota(t *testing.T) {
	svc, _ := newTestService(&stubAnalyzer{err: &gateway.Error{Reason: gateway.ReasonMissingCredential}})
	ctx, _ := guestContext(t, svc)

	_, err := svc.Capture(ctx, barcode("1"))
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) || gwErr.Reason != gateway.ReasonMissingCredential {
		t.Fatalf("expected missing credential error, got %v", err)
	}
	snap, err := svc.Session(ctx)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	if snap.State != string(pipeline.StateIdle) || snap.Quota.Used != 0 {
		t.Fatalf("expected idle session with untouched quota, got %+v", snap)
	}
}

func TestUpdateRemoveAndExport(t *testing.T) {
	svc, _ := newTestService(&stubAnalyzer{fields: gateway.ParsedFields{"productName": "X", "category": "C", "quantity": 3.0}})
	ctx, _ := guestContext(t, svc)

	if _, err := svc.Capture(ctx, barcode("1")); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	rec, err := svc.ConfirmDraft(ctx)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if _, err := svc.UpdateRecord(ctx, rec.ID, domain.FieldPatchRequest{Field: "confidence", Value: 90}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := svc.UpdateRecord(ctx, "item-missing", domain.FieldPatchRequest{Field: "brand", Value: "x"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing record, got %v", err)
	}

	var buf bytes.Buffer
	if err := svc.ExportInventory(ctx, &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if buf.String() != "Product Name,Category,Quantity,Confidence\nX,C,3,90%\n" {
		t.Fatalf("unexpected export: %q", buf.String())
	}

	if err := svc.RemoveRecord(ctx, rec.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := svc.RemoveRecord(ctx, rec.ID); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
}

func TestSessionsAreIsolatedPerOwner(t *testing.T) {
	svc, _ := newTestService(&stubAnalyzer{fields: gateway.ParsedFields{}})
	first, _ := guestContext(t, svc)
	second, _ := guestContext(t, svc)

	if _, err := svc.Capture(first, barcode("1")); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if _, err := svc.Capture(second, barcode("2")); err != nil {
		t.Fatalf("second owner should not be busy: %v", err)
	}
	if _, err := svc.Capture(first, barcode("3")); !errors.Is(err, pipeline.ErrBusy) {
		t.Fatalf("expected ErrBusy for first owner, got %v", err)
	}
}

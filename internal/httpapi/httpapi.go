package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"stockia/backend/internal/capture"
	"stockia/backend/internal/domain"
	"stockia/backend/internal/gateway"
	"stockia/backend/internal/logging"
	"stockia/backend/internal/pipeline"
	"stockia/backend/internal/service"
	"stockia/backend/internal/share"
	"stockia/backend/internal/store"
)

const (
	maxJSONBody     = 1 << 20
	maxImageBytes   = 10 << 20
	maxUploadMemory = 32 << 20
	maxBatchFiles   = 20
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *zap.Logger
	loginLimiter  *attemptLimiter
	guestLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logger:        logging.OrNop(logger).Named("httpapi"),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		guestLimiter:  newAttemptLimiter(10, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[key][:0:0]
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.recoverer)
	r.Use(a.withSecurityHeaders)
	r.Use(a.logRequests)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/guest", a.handleGuest)
		r.Post("/auth/login", a.handleLogin)
		r.Get("/shared/{token}", a.handleShared)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Post("/auth/register", a.handleRegister)
			r.Get("/quota", a.handleQuota)
			r.Get("/session", a.handleSession)
			r.Delete("/session/prompt", a.handleDismissPrompt)

			r.Post("/captures/files", a.handleCaptureFiles)
			r.Post("/captures/camera", a.handleCaptureCamera)
			r.Post("/captures/barcode", a.handleCaptureBarcode)

			r.Post("/drafts/next", a.handleAnalyzeNext)
			r.Patch("/drafts/current", a.handleEditDraft)
			r.Post("/drafts/current/confirm", a.handleConfirmDraft)
			r.Post("/drafts/current/discard", a.handleDiscardDraft)

			r.Get("/inventory", a.handleInventory)
			r.Get("/inventory/export.csv", a.handleExport)
			r.Patch("/inventory/{id}", a.handleUpdateRecord)
			r.Delete("/inventory/{id}", a.handleRemoveRecord)

			r.Post("/publications", a.handlePublish)
			r.Put("/publications/{token}", a.handleUpdatePublication)
			r.Delete("/publications/{token}", a.handleUnpublish)
		})
	})

	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleGuest(w http.ResponseWriter, r *http.Request) {
	if !a.guestLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many guest sessions"))
		return
	}

	account, quota, err := a.service.CreateGuest(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeToken(w, http.StatusCreated, account, quota)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	account, err := a.auth.Register(r.Context(), actor.Subject, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrUsernameTaken):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusUnauthorized, errors.New("account no longer exists"))
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}

	quota, err := a.service.CompleteRegistration(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeToken(w, http.StatusOK, account, quota)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.writeServiceError(w, err)
		return
	}

	ctx := service.WithActor(r.Context(), domain.Actor{Subject: account.ID, Username: account.Username, Role: domain.RoleUser})
	quota, err := a.service.Quota(ctx)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeToken(w, http.StatusOK, account, quota)
}

func (a *API) writeToken(w http.ResponseWriter, status int, account domain.Account, quota domain.QuotaState) {
	token, role, expiresAt, err := a.auth.Issue(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, status, domain.TokenResponse{
		AccessToken: token,
		Role:        role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Quota:       quota,
	})
}

func (a *API) handleQuota(w http.ResponseWriter, r *http.Request) {
	quota, err := a.service.Quota(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quota)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	snap, err := a.service.Session(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleDismissPrompt(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DismissPrompt(r.Context()); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCaptureFiles(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchFiles*maxImageBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, errors.New(`no files in field "files"`))
		return
	}
	if len(headers) > maxBatchFiles {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at most %d files per batch", maxBatchFiles))
		return
	}

	files := make([]capture.FileInput, 0, len(headers))
	for _, fh := range headers {
		files = append(files, capture.FileInput{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Open:     openPart(fh),
		})
	}
	a.runCapture(w, r, capture.FileSource{Files: files, MaxBytes: maxImageBytes})
}

func openPart(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return fh.Open()
	}
}

func (a *API) handleCaptureCamera(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("camera frame too large"))
		return
	}
	frame := capture.Image{Name: "camera", Bytes: data, MimeType: r.Header.Get("Content-Type")}
	a.runCapture(w, r, capture.Camera{Device: capture.FrameDevice{Frame: frame}})
}

func (a *API) handleCaptureBarcode(w http.ResponseWriter, r *http.Request) {
	var req domain.BarcodeCaptureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.runCapture(w, r, capture.DecodedCode(req.Code))
}

func (a *API) runCapture(w http.ResponseWriter, r *http.Request, src capture.Source) {
	snap, err := a.service.Capture(r.Context(), src)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleAnalyzeNext(w http.ResponseWriter, r *http.Request) {
	snap, err := a.service.AnalyzeNext(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleEditDraft(w http.ResponseWriter, r *http.Request) {
	var req domain.FieldPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	draft, err := a.service.EditDraft(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": draft})
}

func (a *API) handleConfirmDraft(w http.ResponseWriter, r *http.Request) {
	record, err := a.service.ConfirmDraft(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": record})
}

func (a *API) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DiscardDraft(r.Context()); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.ListInventory(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []domain.ProductRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("stockia-inventory-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := a.service.ExportInventory(r.Context(), w); err != nil {
		a.logger.Error("inventory export failed", zap.Error(err))
	}
}

func (a *API) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req domain.FieldPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := a.service.UpdateRecord(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": record})
}

func (a *API) handleRemoveRecord(w http.ResponseWriter, r *http.Request) {
	if err := a.service.RemoveRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req domain.PublishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Publish(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleUpdatePublication(w http.ResponseWriter, r *http.Request) {
	var req domain.PublishSettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.UpdatePublication(r.Context(), chi.URLParam(r, "token"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Unpublish(r.Context(), chi.URLParam(r, "token")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleShared(w http.ResponseWriter, r *http.Request) {
	catalog, err := a.service.SharedCatalog(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

// writeServiceError maps domain errors to statuses. Analysis failures carry a
// readable message even when the status is 5xx.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var (
		quotaErr  *pipeline.QuotaError
		gwErr     *gateway.Error
		deviceErr *capture.DeviceError
	)
	switch {
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":  quotaErr.Error(),
			"prompt": quotaErr.Prompt,
			"quota":  quotaErr.State,
		})
	case errors.As(err, &gwErr):
		status := http.StatusBadGateway
		switch gwErr.Reason {
		case gateway.ReasonMissingCredential:
			status = http.StatusServiceUnavailable
		case gateway.ReasonTimeout:
			status = http.StatusGatewayTimeout
		}
		a.logger.Warn("analysis failed", zap.String("reason", string(gwErr.Reason)), zap.Int("upstream_status", gwErr.Status), zap.Error(err))
		body := map[string]any{"error": gwErr.Message(), "reason": gwErr.Reason}
		if gwErr.Status != 0 {
			body["upstream_status"] = gwErr.Status
		}
		writeJSON(w, status, body)
	case errors.As(err, &deviceErr):
		writeError(w, http.StatusUnprocessableEntity, deviceErr)
	case errors.Is(err, service.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, pipeline.ErrBusy),
		errors.Is(err, pipeline.ErrNoDraft),
		errors.Is(err, pipeline.ErrNothingQueued),
		errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, capture.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, capture.ErrNoPayload),
		errors.Is(err, capture.ErrEmptyCode),
		errors.Is(err, capture.ErrUnsupportedType),
		errors.Is(err, domain.ErrUnknownField),
		errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, share.ErrEmptySelection),
		errors.Is(err, share.ErrUnknownRecord),
		errors.Is(err, share.ErrInvalidBehavior):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, share.ErrInvalidToken),
		errors.Is(err, share.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, errors.New("request cancelled"))
	default:
		a.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("handler panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx messages are meant for the user.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

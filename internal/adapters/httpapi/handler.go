package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/usecase"
)

const (
	maxJSONBodySize         = 1 << 20
	defaultMaxUploadBytes   = 10 << 20
	defaultLiveWriteTimeout = 10 * time.Second
)

// NotificationInbox hands out the pending notifications of one owner.
type NotificationInbox interface {
	Drain(ownerID string) []domain.Notification
}

// Deps are the services the HTTP surface is built on. Inbox, FilesDir, Ready
// and FeedStats are optional.
type Deps struct {
	Auth       *usecase.AuthService
	Workspaces *usecase.Workspaces
	Data       *usecase.DataAccess
	Hub        *usecase.SubscriptionHub
	Audit      *usecase.AuditService
	Schemas    *usecase.SchemaService
	Inbox      NotificationInbox
	Logger     *zap.Logger

	// FilesDir is served under /files/ when set.
	FilesDir       string
	MaxUploadBytes int64
	Ready          func(ctx context.Context) error
	FeedStats      func() usecase.ChangeFeedStats
}

type Handler struct {
	auth       *usecase.AuthService
	workspaces *usecase.Workspaces
	data       *usecase.DataAccess
	hub        *usecase.SubscriptionHub
	audit      *usecase.AuditService
	schemas    *usecase.SchemaService
	inbox      NotificationInbox
	logger     *zap.Logger

	filesDir       string
	maxUploadBytes int64
	ready          func(ctx context.Context) error
	feedStats      func() usecase.ChangeFeedStats
}

func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		auth:           deps.Auth,
		workspaces:     deps.Workspaces,
		data:           deps.Data,
		hub:            deps.Hub,
		audit:          deps.Audit,
		schemas:        deps.Schemas,
		inbox:          deps.Inbox,
		logger:         deps.Logger,
		filesDir:       deps.FilesDir,
		maxUploadBytes: deps.MaxUploadBytes,
		ready:          deps.Ready,
		feedStats:      deps.FeedStats,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Post("/v1/auth/signup", h.signup)
	r.Post("/v1/auth/login", h.login)
	if h.filesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(h.filesDir))))
	}

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireSession)
		pr.Post("/v1/auth/logout", h.logout)
		pr.Get("/v1/auth/me", h.me)

		for _, collection := range domain.Collections {
			pr.Route("/v1/"+collection, func(cr chi.Router) {
				cr.Get("/", h.listRecords(collection))
				cr.Post("/", h.addRecord(collection))
				cr.Patch("/", h.batchUpdateRecords(collection))
				cr.Get("/{id}", h.getRecord(collection))
				cr.Patch("/{id}", h.updateRecord(collection))
				cr.Delete("/{id}", h.deleteRecord(collection))
			})
		}

		pr.Get("/v1/state", h.stateSnapshot)
		pr.Get("/v1/dashboard", h.dashboard)
		pr.Get("/v1/activity", h.activity)
		pr.Get("/v1/notifications", h.notifications)
		pr.Get("/v1/validate", h.validate)

		pr.Put("/v1/schemas/{collection}", h.putSchema)
		pr.Get("/v1/schemas/{collection}", h.getSchema)
		pr.Delete("/v1/schemas/{collection}", h.deleteSchema)

		pr.Get("/v1/live/dashboard", h.liveDashboard)
		pr.Get("/v1/live/{collection}", h.liveCollection)
		pr.Get("/v1/live/{collection}/{id}", h.liveItem)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
			return
		}
	}
	body := map[string]any{"ok": true}
	if h.feedStats != nil {
		body["changeFeed"] = h.feedStats()
	}
	writeJSON(w, http.StatusOK, body)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

// decodeJSON reads exactly one JSON value from the body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, strict bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		zap.L().Error("encode json response", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	var sv *domain.ErrSchemaViolation
	var upload *domain.UploadError
	switch {
	case errors.As(err, &sv):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "schema validation failed",
			"details": sv.Errors,
		})
	case errors.Is(err, domain.ErrInvalidKey),
		errors.Is(err, domain.ErrInvalidCollection),
		errors.Is(err, domain.ErrInvalidSchema),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, domain.ErrEmailInUse):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, rootMessage(err))
	case errors.Is(err, domain.ErrWrongPassword), errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &upload):
		writeError(w, http.StatusBadGateway, "file upload failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		zap.L().Error("unhandled request error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// rootMessage hides the operation wrapping and reports the sentinel.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrInvalidKey, domain.ErrInvalidCollection, domain.ErrInvalidEmail,
		domain.ErrWeakPassword, domain.ErrUserNotFound, domain.ErrNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

package httpapi

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/usecase"
)

func (h *Handler) stateSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r.Context()).workspace.State.Snapshot())
}

// dashboard reloads every list and summarizes them. Lists that fail to load
// are counted as empty.
func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	ws := sessionFrom(r.Context()).workspace
	if err := ws.Load(r.Context()); err != nil {
		h.logger.Warn("dashboard load incomplete", zap.String("owner", ws.OwnerID), zap.Error(err))
	}
	lists := make(map[string][]domain.Record, len(domain.Collections))
	for _, collection := range domain.Collections {
		lists[collection] = ws.State.List(collection).Items()
	}
	writeJSON(w, http.StatusOK, usecase.Summarize(lists))
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := domain.AuditFilter{
		OwnerID:    sessionFrom(r.Context()).user.UID,
		Collection: q.Get("collection"),
		RecordID:   q.Get("record_id"),
		Action:     q.Get("action"),
		Limit:      limit,
	}
	if raw := q.Get("before"); raw != "" {
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || before <= 0 {
			writeError(w, http.StatusBadRequest, "before must be a positive integer")
			return
		}
		filter.BeforeID = before
	}

	events, err := h.audit.List(r.Context(), filter)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	items := []domain.Notification{}
	if h.inbox != nil {
		items = h.inbox.Drain(sessionFrom(r.Context()).user.UID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// validate checks whichever identity fields are present in the query.
func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	checks := map[string]func(string) bool{
		"email":  domain.ValidateEmail,
		"mobile": domain.ValidateMobile,
		"pan":    domain.ValidatePAN,
		"aadhar": domain.ValidateAadhar,
	}
	q := r.URL.Query()
	out := make(map[string]bool)
	for name, check := range checks {
		if q.Has(name) {
			out[name] = check(q.Get(name))
		}
	}
	if len(out) == 0 {
		writeError(w, http.StatusBadRequest, "nothing to validate")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

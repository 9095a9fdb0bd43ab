package httpapi

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type schemaResponse struct {
	Collection string          `json:"collection"`
	Schema     json.RawMessage `json:"schema"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// requireCollection accepts only the five domain collections.
func requireCollection(w http.ResponseWriter, collection string) bool {
	if !slices.Contains(domain.Collections, collection) {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidCollection.Error())
		return false
	}
	return true
}

func toSchemaResponse(s domain.CollectionSchema) schemaResponse {
	return schemaResponse{
		Collection: s.Collection,
		Schema:     s.Schema,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func (h *Handler) putSchema(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !requireCollection(w, collection) {
		return
	}
	var schema json.RawMessage
	if !decodeJSON(w, r, &schema, false) {
		return
	}
	saved, err := h.schemas.Upsert(r.Context(), sessionFrom(r.Context()).user.UID, collection, schema)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchemaResponse(saved))
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !requireCollection(w, collection) {
		return
	}
	schema, err := h.schemas.Get(r.Context(), sessionFrom(r.Context()).user.UID, collection)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchemaResponse(schema))
}

func (h *Handler) deleteSchema(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !requireCollection(w, collection) {
		return
	}
	deleted, err := h.schemas.Delete(r.Context(), sessionFrom(r.Context()).user.UID, collection)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, domain.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

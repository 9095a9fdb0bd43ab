package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/usecase"
)

const (
	dateLayout    = "2006-01-02"
	maxBatchItems = 100
)

type batchUpdateRequest struct {
	Items []usecase.BatchUpdateItem `json:"items"`
}

func (h *Handler) listRecords(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r.Context())
		q := r.URL.Query()

		if field := q.Get("field"); field != "" {
			recs, err := h.data.SearchByField(r.Context(), collection, s.user.UID, field, q.Get("value"))
			if err != nil {
				handleDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": recs})
			return
		}

		if q.Has("from") || q.Has("to") {
			from, to, ok := parseRange(w, q.Get("from"), q.Get("to"))
			if !ok {
				return
			}
			recs, err := h.data.GetByDateRange(r.Context(), collection, s.user.UID, from, to)
			if err != nil {
				handleDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": recs})
			return
		}

		d, _ := s.workspace.Dispatcher(collection)
		recs, err := d.Get(r.Context())
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": recs})
	}
}

func (h *Handler) getRecord(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, _ := sessionFrom(r.Context()).workspace.Dispatcher(collection)
		rec, found, err := d.Find(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleDomainError(w, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, domain.ErrNotFound.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) addRecord(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields, files, ok := h.readPayload(w, r)
		if !ok {
			return
		}
		d, _ := sessionFrom(r.Context()).workspace.Dispatcher(collection)
		rec, err := d.Add(r.Context(), fields, files)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func (h *Handler) updateRecord(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields, files, ok := h.readPayload(w, r)
		if !ok {
			return
		}
		d, _ := sessionFrom(r.Context()).workspace.Dispatcher(collection)
		rec, err := d.Update(r.Context(), chi.URLParam(r, "id"), fields, files)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// batchUpdateRecords applies {"items":[{"id":..,"data":{..}}]} in order.
func (h *Handler) batchUpdateRecords(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchUpdateRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}
		if len(req.Items) == 0 || len(req.Items) > maxBatchItems {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("items must hold 1 to %d updates", maxBatchItems))
			return
		}
		for _, item := range req.Items {
			if item.ID == "" || item.Data == nil {
				writeError(w, http.StatusBadRequest, "every item needs an id and a data object")
				return
			}
		}
		d, _ := sessionFrom(r.Context()).workspace.Dispatcher(collection)
		recs, err := d.BatchUpdate(r.Context(), req.Items)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": recs})
	}
}

func (h *Handler) deleteRecord(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		d, _ := sessionFrom(r.Context()).workspace.Dispatcher(collection)
		if err := d.Delete(r.Context(), id); err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

// readPayload accepts a JSON object or a multipart form. In a form, text
// parts become fields and file parts become uploads keyed by their part
// name, so "pancard" may carry both the number and the scan.
func (h *Handler) readPayload(w http.ResponseWriter, r *http.Request) (domain.Fields, []usecase.Upload, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var fields domain.Fields
		if !decodeJSON(w, r, &fields, false) {
			return nil, nil, false
		}
		if fields == nil {
			writeError(w, http.StatusBadRequest, "body must be a json object")
			return nil, nil, false
		}
		return fields, nil, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return nil, nil, false
	}
	defer r.MultipartForm.RemoveAll()

	fields := domain.Fields{}
	for key, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}

	var uploads []usecase.Upload
	for field, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file part")
			return nil, nil, false
		}
		body, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file part")
			return nil, nil, false
		}
		uploads = append(uploads, usecase.Upload{
			Field:       field,
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        body,
		})
	}
	return fields, uploads, true
}

// parseRange accepts RFC 3339 timestamps or plain dates. A plain "to" date
// covers the whole day.
func parseRange(w http.ResponseWriter, rawFrom, rawTo string) (time.Time, time.Time, bool) {
	from := time.Time{}
	to := time.Now().UTC().Add(24 * time.Hour)
	var err error
	if rawFrom != "" {
		if from, err = parseBound(rawFrom, false); err != nil {
			writeError(w, http.StatusBadRequest, "from must be a date or RFC 3339 timestamp")
			return time.Time{}, time.Time{}, false
		}
	}
	if rawTo != "" {
		if to, err = parseBound(rawTo, true); err != nil {
			writeError(w, http.StatusBadRequest, "to must be a date or RFC 3339 timestamp")
			return time.Time{}, time.Time{}, false
		}
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parseBound(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

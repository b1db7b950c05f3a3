package segmentstore

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mizosoft/segattr/wire"
)

type AttributeResponse struct {
	Segment   string `json:"segment"`
	Attribute string `json:"attribute"`
	Exists    bool   `json:"exists"`
	Value     int64  `json:"value"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewAdminHandler exposes segment management and attribute inspection over
// HTTP. Segment names are path-escaped.
func NewAdminHandler(store Store) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Put("/segments/{segment}", func(w http.ResponseWriter, r *http.Request) {
		segment, ok := segmentParam(w, r)
		if !ok {
			return
		}
		if err := store.CreateSegment(segment); err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	r.Post("/segments/{segment}/seal", func(w http.ResponseWriter, r *http.Request) {
		segment, ok := segmentParam(w, r)
		if !ok {
			return
		}
		if err := store.SealSegment(segment); err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/segments/{segment}/attributes/{attribute}", func(w http.ResponseWriter, r *http.Request) {
		segment, ok := segmentParam(w, r)
		if !ok {
			return
		}
		attribute, err := uuid.Parse(chi.URLParam(r, "attribute"))
		if err != nil {
			respond(w, http.StatusBadRequest, ErrorResponse{Error: "invalid attribute id: " + err.Error()})
			return
		}

		value, err := store.GetAttribute(segment, attribute)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, AttributeResponse{
			Segment:   segment,
			Attribute: attribute.String(),
			Exists:    value != wire.NoValue,
			Value:     value,
		})
	})

	return r
}

func segmentParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	segment, err := url.PathUnescape(chi.URLParam(r, "segment"))
	if err != nil || segment == "" {
		respond(w, http.StatusBadRequest, ErrorResponse{Error: "invalid segment name"})
		return "", false
	}
	return segment, true
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNoSuchSegment):
		status = http.StatusNotFound
	case errors.Is(err, ErrSegmentExists):
		status = http.StatusConflict
	}
	respond(w, status, ErrorResponse{Error: err.Error()})
}

func respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Server error", http.StatusInternalServerError)
	}
}

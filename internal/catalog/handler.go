package catalog

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"quizlms/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type catalogService interface {
	GetFreeTests(ctx context.Context) (*Catalog, error)
	GetTestDetails(ctx context.Context, testID int64) (*TestDetails, error)
	GetTestQuestions(ctx context.Context, testID int64) ([]PublicQuestion, error)
}

type Handler struct {
	svc catalogService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func NewHandler(svc catalogService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) FreeTests(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetFreeTests(r.Context())
	if err != nil {
		apiresp.WriteInternal(w, r, "free tests", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: out})
}

func (h *Handler) Take(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseTestID(w, r)
	if !ok {
		return
	}
	out, err := h.svc.GetTestDetails(r.Context(), testID)
	if err != nil {
		writeError(w, r, "test details", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: out})
}

func (h *Handler) Questions(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseTestID(w, r)
	if !ok {
		return
	}
	out, err := h.svc.GetTestQuestions(r.Context(), testID)
	if err != nil {
		writeError(w, r, "test questions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{
		"test_id":   testID,
		"questions": out,
	}})
}

func parseTestID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "test_id"), 10, 64)
	if err != nil || testID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid test id"})
		return 0, false
	}
	return testID, true
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, ErrTestNotFound) {
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Test not found."})
		return
	}
	apiresp.WriteInternal(w, r, op, err)
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

package report

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"quizlms/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type reportService interface {
	SummaryByTest(ctx context.Context, testID int64) (*TestSummary, error)
}

type Handler struct {
	svc reportService
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "test_id"), 10, 64)
	if err != nil || testID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	out, err := h.svc.SummaryByTest(r.Context(), testID)
	if err != nil {
		if errors.Is(err, ErrTestNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "Test not found.")
			return
		}
		apiresp.WriteInternal(w, r, "test report", err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

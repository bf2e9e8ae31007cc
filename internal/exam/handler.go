package exam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"quizlms/internal/app/apiresp"
	"quizlms/internal/app/validate"
	"quizlms/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc examService
}

type examService interface {
	Submit(ctx context.Context, in SubmitInput) (*Report, error)
	GetAttempt(ctx context.Context, attemptID int64) (*Report, error)
	ListHistory(ctx context.Context, userID int64, page, limit int, sort string) (*HistoryPage, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type submitRequest struct {
	Answers          []answerRequest `json:"answers" validate:"dive"`
	TimeTakenSeconds *int            `json:"time_taken_seconds" validate:"omitempty,lte=2147483647"`
}

type answerRequest struct {
	QuestionID       int64 `json:"question_id" validate:"gt=0"`
	SelectedOptionID int64 `json:"selected_option_id" validate:"gt=0"`
	// Older clients send the elapsed time on each answer instead of the body.
	TimeTakenSeconds *int `json:"time_taken_seconds,omitempty" validate:"omitempty,lte=2147483647"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (req submitRequest) timeTaken() int {
	if req.TimeTakenSeconds != nil {
		return *req.TimeTakenSeconds
	}
	if len(req.Answers) > 0 && req.Answers[0].TimeTakenSeconds != nil {
		return *req.Answers[0].TimeTakenSeconds
	}
	return 0
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "JWT token required."})
		return
	}
	testID, err := strconv.ParseInt(chi.URLParam(r, "test_id"), 10, 64)
	if err != nil || testID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid test id"})
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	answers := make([]Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, Answer{QuestionID: a.QuestionID, SelectedOptionID: a.SelectedOptionID})
	}

	rep, err := h.svc.Submit(r.Context(), SubmitInput{
		TestID:           testID,
		UserID:           user.ID,
		Answers:          answers,
		TimeTakenSeconds: req.timeTaken(),
		AllowUnpublished: user.Role == auth.RoleAdmin,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrTestNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Test not found."})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		default:
			apiresp.WriteInternal(w, r, "submit attempt", err)
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: rep})
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "JWT token required."})
		return
	}
	attemptID, err := strconv.ParseInt(chi.URLParam(r, "attempt_id"), 10, 64)
	if err != nil || attemptID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid attempt id"})
		return
	}

	rep, err := h.svc.GetAttempt(r.Context(), attemptID)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Attempt not found."})
			return
		}
		apiresp.WriteInternal(w, r, "get attempt", err)
		return
	}
	// Other users' attempts look missing rather than forbidden.
	if rep.UserID != user.ID && user.Role != auth.RoleAdmin {
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Attempt not found."})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: rep})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "JWT token required."})
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	sort := strings.ToLower(strings.TrimSpace(q.Get("sort")))
	switch sort {
	case "", HistorySortDateDesc, HistorySortDateAsc, HistorySortScoreDesc:
	default:
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: fmt.Sprintf("sort must be one of %s, %s, %s", HistorySortDateDesc, HistorySortDateAsc, HistorySortScoreDesc)})
		return
	}

	out, err := h.svc.ListHistory(r.Context(), user.ID, page, limit, sort)
	if err != nil {
		apiresp.WriteInternal(w, r, "list history", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: out})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

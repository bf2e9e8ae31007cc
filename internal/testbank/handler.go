package testbank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"quizlms/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type testService interface {
	CreateTest(ctx context.Context, in CreateTestInput) (*CreateTestResult, error)
	GetTest(ctx context.Context, testID int64) (*Test, error)
	AddQuestion(ctx context.Context, testID int64, in QuestionInput) (*Question, error)
	UpdateQuestion(ctx context.Context, testID, questionID int64, in QuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, testID, questionID int64) error
	ListQuestions(ctx context.Context, testID int64) ([]Question, error)
	UpdateTestSettings(ctx context.Context, testID int64, in SettingsInput) (*Test, error)
	SearchTests(ctx context.Context, p SearchParams) (*SearchResult, error)
	ExportQuestionsExcel(ctx context.Context, testID int64) ([]byte, error)
	ImportQuestionsExcel(ctx context.Context, testID int64, r io.Reader) (*QuestionImportReport, error)
}

type Handler struct {
	svc            testService
	maxImportBytes int64
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createTestRequest struct {
	FolderID        *int64 `json:"folder_id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	PassingScore    int    `json:"passing_score"`
	DurationHours   int    `json:"duration_hours"`
	DurationMinutes int    `json:"duration_minutes"`
	Instructions    string `json:"instructions"`
}

// questionRequest accepts the nested shape {question:{en,ta}, options:[{text:{en,ta}}]}
// and the flat shape {question_english, options:[{option_english}]}.
type questionRequest struct {
	Question        *LocalizedText  `json:"question"`
	QuestionEnglish string          `json:"question_english"`
	QuestionTamil   string          `json:"question_tamil"`
	Options         []optionRequest `json:"options"`
}

type optionRequest struct {
	Text          *LocalizedText `json:"text"`
	OptionEnglish string         `json:"option_english"`
	OptionTamil   string         `json:"option_tamil"`
	IsCorrect     FlexBool       `json:"is_correct"`
}

type settingsRequest struct {
	Title                  string   `json:"title"`
	Description            string   `json:"description"`
	Category               string   `json:"category"`
	PassingScore           int      `json:"passing_score"`
	DurationHours          int      `json:"duration_hours"`
	DurationMinutes        int      `json:"duration_minutes"`
	Instructions           string   `json:"instructions"`
	Status                 string   `json:"status"`
	IsFree                 FlexBool `json:"is_free"`
	ShuffleQuestions       FlexBool `json:"shuffle_questions"`
	ShowResultsImmediately FlexBool `json:"show_results_immediately"`
	AllowAnswerReview      FlexBool `json:"allow_answer_review"`
	EnableTimeLimit        FlexBool `json:"enable_time_limit"`
}

type questionResponse struct {
	Message  string    `json:"message"`
	Question *Question `json:"question"`
}

func NewHandler(svc testService, maxImportBytes int64) *Handler {
	if maxImportBytes <= 0 {
		maxImportBytes = 10 << 20
	}
	return &Handler{svc: svc, maxImportBytes: maxImportBytes}
}

func (req questionRequest) toInput() QuestionInput {
	in := QuestionInput{Options: make([]OptionInput, 0, len(req.Options))}
	if req.Question != nil {
		in.Question = *req.Question
	} else {
		in.Question = LocalizedText{En: req.QuestionEnglish, Ta: req.QuestionTamil}
	}
	for _, o := range req.Options {
		opt := OptionInput{IsCorrect: bool(o.IsCorrect)}
		if o.Text != nil {
			opt.Text = *o.Text
		} else {
			opt.Text = LocalizedText{En: o.OptionEnglish, Ta: o.OptionTamil}
		}
		in.Options = append(in.Options, opt)
	}
	return in
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	out, err := h.svc.CreateTest(r.Context(), CreateTestInput{
		FolderID:        req.FolderID,
		Title:           req.Title,
		Description:     req.Description,
		Category:        req.Category,
		PassingScore:    req.PassingScore,
		DurationHours:   req.DurationHours,
		DurationMinutes: req.DurationMinutes,
		Instructions:    req.Instructions,
	})
	if err != nil {
		h.writeError(w, r, "create test", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: out})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseID(w, r, "test_id")
	if !ok {
		return
	}
	t, err := h.svc.GetTest(r.Context(), testID)
	if err != nil {
		h.writeError(w, r, "get test", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: t})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseID(w, r, "test_id")
	if !ok {
		return
	}
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	t, err := h.svc.UpdateTestSettings(r.Context(), testID, SettingsInput{
		Title:                  req.Title,
		Description:            req.Description,
		Category:               req.Category,
		PassingScore:           req.PassingScore,
		DurationHours:          req.DurationHours,
		DurationMinutes:        req.DurationMinutes,
		Instructions:           req.Instructions,
		Status:                 req.Status,
		IsFree:                 bool(req.IsFree),
		ShuffleQuestions:       bool(req.ShuffleQuestions),
		ShowResultsImmediately: bool(req.ShowResultsImmediately),
		AllowAnswerReview:      bool(req.AllowAnswerReview),
		EnableTimeLimit:        bool(req.EnableTimeLimit),
	})
	if err != nil {
		h.writeError(w, r, "update settings", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: t})
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseID(w, r, "test_id")
	if !ok {
		return
	}
	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	q, err := h.svc.AddQuestion(r.Context(), testID, req.toInput())
	if err != nil {
		h.writeError(w, r, "add question", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: questionResponse{Message: "Question added successfully.", Question: q}})
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseID(w, r, "test_id")
	if !ok {
		return
	}
	questionID, ok := parseID(w, r, "question_id")
	if !ok {
		return
	}
	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	q, err := h.svc.UpdateQuestion(r.Context(), testID, questionID, req.toInput())
	if err != nil {
		h.writeError(w, r, "update question", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: questionResponse{Message: "Question updated successfully.", Question: q}})
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseID(w, r, "test_id")
	if !ok {
		return
	}
	questionID, ok := parseID(w, r, "question_id")
	if !ok {
		return
	}

	if err := h.svc.DeleteQuestion(r.Context(), testID, questionID); err != nil {
		h.writeError(w, r, "delete question", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{
		"id":      questionID,
		"message": "Question deleted successfully.",
	}})
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseID(w, r, "test_id")
	if !ok {
		return
	}
	items, err := h.svc.ListQuestions(r.Context(), testID)
	if err != nil {
		h.writeError(w, r, "list questions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	out, err := h.svc.SearchTests(r.Context(), SearchParams{
		Query: q.Get("query"),
		Sort:  strings.ToLower(strings.TrimSpace(q.Get("sort"))),
		Page:  page,
		Limit: limit,
	})
	if err != nil {
		h.writeError(w, r, "search tests", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: out})
}

func (h *Handler) ExportQuestions(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseID(w, r, "test_id")
	if !ok {
		return
	}
	b, err := h.svc.ExportQuestionsExcel(r.Context(), testID)
	if err != nil {
		h.writeError(w, r, "export questions", err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="test-%d-questions.xlsx"`, testID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *Handler) ImportQuestions(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseID(w, r, "test_id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxImportBytes)
	if err := r.ParseMultipartForm(h.maxImportBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, r, http.StatusRequestEntityTooLarge, response{OK: false, Error: "file is too large"})
			return
		}
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid multipart form"})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportQuestionsExcel(r.Context(), testID, file)
	if err != nil {
		h.writeError(w, r, "import questions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: report})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrTestNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Test not found."})
	case errors.Is(err, ErrQuestionNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Question not found."})
	case errors.Is(err, ErrFolderNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Folder not found."})
	default:
		apiresp.WriteInternal(w, r, op, err)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return fmt.Errorf("invalid value for %s", typeErr.Field)
		}
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}

func parseID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid " + strings.ReplaceAll(key, "_", " ")})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

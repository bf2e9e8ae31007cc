package exam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"quizlms/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExamService struct {
	submitFn      func(ctx context.Context, in SubmitInput) (*Report, error)
	getAttemptFn  func(ctx context.Context, attemptID int64) (*Report, error)
	listHistoryFn func(ctx context.Context, userID int64, page, limit int, sort string) (*HistoryPage, error)
}

func (m *mockExamService) Submit(ctx context.Context, in SubmitInput) (*Report, error) {
	if m.submitFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitFn(ctx, in)
}

func (m *mockExamService) GetAttempt(ctx context.Context, attemptID int64) (*Report, error) {
	if m.getAttemptFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getAttemptFn(ctx, attemptID)
}

func (m *mockExamService) ListHistory(ctx context.Context, userID int64, page, limit int, sort string) (*HistoryPage, error) {
	if m.listHistoryFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listHistoryFn(ctx, userID, page, limit, sort)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func asUser(r *http.Request, id int64, role string) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: id, Role: role}))
}

func TestSubmitUsesTokenUserAndBodyTime(t *testing.T) {
	var got SubmitInput
	h := NewHandler(&mockExamService{
		submitFn: func(ctx context.Context, in SubmitInput) (*Report, error) {
			got = in
			ev := Evaluate(fourQuestionKey(), in.Answers, 70)
			return &Report{AttemptID: 1, TestID: in.TestID, UserID: in.UserID, Score: ev.Score, Passed: ev.Passed, Answers: ev.Answers}, nil
		},
	})

	body := `{"user_id":999,"time_taken_seconds":125,"answers":[
		{"question_id":1,"selected_option_id":11},
		{"question_id":2,"selected_option_id":21},
		{"question_id":3,"selected_option_id":31},
		{"question_id":4,"selected_option_id":40}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tests/test/5/submit", bytes.NewBufferString(body))
	req = withChiParam(asUser(req, 7, auth.RoleUser), "test_id", "5")
	rr := httptest.NewRecorder()
	h.Submit(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, int64(5), got.TestID)
	assert.Equal(t, 125, got.TimeTakenSeconds)
	assert.False(t, got.AllowUnpublished)
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	assert.Equal(t, float64(75), data["score"])
	assert.Equal(t, true, data["passed"])
}

func TestSubmitLegacyTimeOnFirstAnswer(t *testing.T) {
	var got SubmitInput
	h := NewHandler(&mockExamService{
		submitFn: func(ctx context.Context, in SubmitInput) (*Report, error) {
			got = in
			return &Report{}, nil
		},
	})
	body := `{"answers":[{"question_id":1,"selected_option_id":2,"time_taken_seconds":42}]}`
	req := withChiParam(asUser(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body)), 1, auth.RoleAdmin), "test_id", "5")
	rr := httptest.NewRecorder()
	h.Submit(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, 42, got.TimeTakenSeconds)
	assert.True(t, got.AllowUnpublished)
}

func TestSubmitRejectsInvalidAnswers(t *testing.T) {
	h := NewHandler(&mockExamService{
		submitFn: func(ctx context.Context, in SubmitInput) (*Report, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	})
	for _, body := range []string{
		`{"answers":[{"question_id":0,"selected_option_id":2}]}`,
		`{"answers":[{"question_id":"one","selected_option_id":2}]}`,
		`{"time_taken_seconds":2147483648,"answers":[{"question_id":1,"selected_option_id":2}]}`,
		`{"answers":[{"question_id":1,"selected_option_id":2,"time_taken_seconds":9999999999}]}`,
		`not json`,
	} {
		req := withChiParam(asUser(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body)), 1, auth.RoleUser), "test_id", "5")
		rr := httptest.NewRecorder()
		h.Submit(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestSubmitTestNotFound(t *testing.T) {
	h := NewHandler(&mockExamService{
		submitFn: func(ctx context.Context, in SubmitInput) (*Report, error) { return nil, ErrTestNotFound },
	})
	req := withChiParam(asUser(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"answers":[]}`)), 1, auth.RoleUser), "test_id", "404")
	rr := httptest.NewRecorder()
	h.Submit(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Test not found.", decodeBody(t, rr)["error"])
}

func TestSubmitDatabaseFailureIsGeneric(t *testing.T) {
	h := NewHandler(&mockExamService{
		submitFn: func(ctx context.Context, in SubmitInput) (*Report, error) {
			return nil, errors.New("insert attempt: connection reset")
		},
	})
	req := withChiParam(asUser(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"answers":[]}`)), 1, auth.RoleUser), "test_id", "5")
	rr := httptest.NewRecorder()
	h.Submit(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Something went wrong. Please try again later.", decodeBody(t, rr)["error"])
}

func TestSubmitRequiresUser(t *testing.T) {
	h := NewHandler(&mockExamService{})
	req := withChiParam(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{}`)), "test_id", "5")
	rr := httptest.NewRecorder()
	h.Submit(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetAttemptHiddenFromOtherUsers(t *testing.T) {
	h := NewHandler(&mockExamService{
		getAttemptFn: func(ctx context.Context, attemptID int64) (*Report, error) {
			return &Report{AttemptID: attemptID, UserID: 99}, nil
		},
	})

	req := withChiParam(asUser(httptest.NewRequest(http.MethodGet, "/", nil), 7, auth.RoleUser), "attempt_id", "10")
	rr := httptest.NewRecorder()
	h.GetAttempt(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = withChiParam(asUser(httptest.NewRequest(http.MethodGet, "/", nil), 1, auth.RoleAdmin), "attempt_id", "10")
	rr = httptest.NewRecorder()
	h.GetAttempt(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = withChiParam(asUser(httptest.NewRequest(http.MethodGet, "/", nil), 99, auth.RoleUser), "attempt_id", "10")
	rr = httptest.NewRecorder()
	h.GetAttempt(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHistoryParams(t *testing.T) {
	var gotUser int64
	var gotSort string
	var gotPage, gotLimit int
	h := NewHandler(&mockExamService{
		listHistoryFn: func(ctx context.Context, userID int64, page, limit int, sort string) (*HistoryPage, error) {
			gotUser, gotPage, gotLimit, gotSort = userID, page, limit, sort
			return &HistoryPage{History: []HistoryItem{{AttemptID: 1, Status: "Passed"}}}, nil
		},
	})

	req := asUser(httptest.NewRequest(http.MethodGet, "/history?page=2&limit=5&sort=score_desc", nil), 7, auth.RoleUser)
	rr := httptest.NewRecorder()
	h.History(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(7), gotUser)
	assert.Equal(t, 2, gotPage)
	assert.Equal(t, 5, gotLimit)
	assert.Equal(t, HistorySortScoreDesc, gotSort)

	req = asUser(httptest.NewRequest(http.MethodGet, "/history?sort=random", nil), 7, auth.RoleUser)
	rr = httptest.NewRecorder()
	h.History(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

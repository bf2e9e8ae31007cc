package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quizlms/internal/testbank"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCatalogService struct {
	getFreeTestsFn     func(ctx context.Context) (*Catalog, error)
	getTestDetailsFn   func(ctx context.Context, testID int64) (*TestDetails, error)
	getTestQuestionsFn func(ctx context.Context, testID int64) ([]PublicQuestion, error)
}

func (m *mockCatalogService) GetFreeTests(ctx context.Context) (*Catalog, error) {
	if m.getFreeTestsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFreeTestsFn(ctx)
}

func (m *mockCatalogService) GetTestDetails(ctx context.Context, testID int64) (*TestDetails, error) {
	if m.getTestDetailsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getTestDetailsFn(ctx, testID)
}

func (m *mockCatalogService) GetTestQuestions(ctx context.Context, testID int64) ([]PublicQuestion, error) {
	if m.getTestQuestionsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getTestQuestionsFn(ctx, testID)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestFreeTestsNestsSubfolders(t *testing.T) {
	h := NewHandler(&mockCatalogService{
		getFreeTestsFn: func(ctx context.Context) (*Catalog, error) {
			return &Catalog{
				Folders: BuildCatalog(
					[]FolderRow{{ID: 1, Name: "Root"}, {ID: 2, Name: "Child", ParentID: id(1)}},
					[]TestEntry{{ID: 9, Title: "Quiz", FolderID: id(2)}},
				),
				Tests: []TestEntry{},
			}, nil
		},
	})
	rr := httptest.NewRecorder()
	h.FreeTests(rr, httptest.NewRequest(http.MethodGet, "/api/v1/tests/free", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data struct {
			Folders []struct {
				Name       string `json:"name"`
				HasTests   bool   `json:"has_tests"`
				Subfolders []struct {
					Tests []map[string]interface{} `json:"tests"`
				} `json:"subfolders"`
			} `json:"folders"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data.Folders, 1)
	assert.True(t, body.Data.Folders[0].HasTests)
	require.Len(t, body.Data.Folders[0].Subfolders, 1)
	require.Len(t, body.Data.Folders[0].Subfolders[0].Tests, 1)
	_, leaked := body.Data.Folders[0].Subfolders[0].Tests[0]["folder_id"]
	assert.False(t, leaked)
}

func TestTakeNeverExposesCorrectFlag(t *testing.T) {
	h := NewHandler(&mockCatalogService{
		getTestDetailsFn: func(ctx context.Context, testID int64) (*TestDetails, error) {
			return &TestDetails{
				Test:      PublicTest{ID: testID, Title: "Quiz"},
				Questions: stripAnswers(sampleQuestions()),
			}, nil
		},
	})
	req := withChiParam(httptest.NewRequest(http.MethodGet, "/", nil), "test_id", "3")
	rr := httptest.NewRecorder()
	h.Take(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, strings.Contains(rr.Body.String(), "is_correct"))
	assert.True(t, strings.Contains(rr.Body.String(), `"option_id":11`))
}

func TestTakeNotFound(t *testing.T) {
	h := NewHandler(&mockCatalogService{
		getTestDetailsFn: func(ctx context.Context, testID int64) (*TestDetails, error) {
			return nil, ErrTestNotFound
		},
	})
	req := withChiParam(httptest.NewRequest(http.MethodGet, "/", nil), "test_id", "3")
	rr := httptest.NewRecorder()
	h.Take(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestQuestionsRejectsBadID(t *testing.T) {
	h := NewHandler(&mockCatalogService{})
	req := withChiParam(httptest.NewRequest(http.MethodGet, "/", nil), "test_id", "-1")
	rr := httptest.NewRecorder()
	h.Questions(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestQuestionsWrapsList(t *testing.T) {
	h := NewHandler(&mockCatalogService{
		getTestQuestionsFn: func(ctx context.Context, testID int64) ([]PublicQuestion, error) {
			return []PublicQuestion{{ID: 1, Question: testbank.LocalizedText{En: "q"}, Options: []PublicOption{}}}, nil
		},
	})
	req := withChiParam(httptest.NewRequest(http.MethodGet, "/", nil), "test_id", "3")
	rr := httptest.NewRecorder()
	h.Questions(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["test_id"])
	assert.Len(t, data["questions"], 1)
}

package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quizlms/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		JWTSecret:             "router-test-secret",
		JWTTTL:                time.Hour,
		CORSOrigins:           []string{"http://localhost:3000"},
		AuthRateLimitPerMin:   60,
		SubmitRateLimitPerMin: 60,
		MaxImportBytes:        1 << 20,
	}
}

func bearer(t *testing.T, cfg Config, role string) string {
	t.Helper()
	token, _, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL).Issue(&auth.User{ID: 1, Email: "a@example.com", Role: role})
	require.NoError(t, err)
	return "Bearer " + token
}

// These requests are all answered before any handler reaches the database.
func TestRouterGuards(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(cfg, nil)
	userToken := bearer(t, cfg, auth.RoleUser)
	adminToken := bearer(t, cfg, auth.RoleAdmin)

	tests := []struct {
		name       string
		method     string
		target     string
		auth       string
		body       string
		wantStatus int
	}{
		{name: "healthz without db", method: http.MethodGet, target: "/healthz", wantStatus: http.StatusServiceUnavailable},
		{name: "metrics", method: http.MethodGet, target: "/metrics", wantStatus: http.StatusOK},
		{name: "unknown route", method: http.MethodGet, target: "/nope", wantStatus: http.StatusNotFound},
		{name: "free needs token", method: http.MethodGet, target: "/api/v1/tests/free", wantStatus: http.StatusUnauthorized},
		{name: "bad token", method: http.MethodGet, target: "/api/v1/tests/history", auth: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "admin needs admin", method: http.MethodGet, target: "/api/v1/admin/tests/folders", auth: userToken, wantStatus: http.StatusForbidden},
		{name: "me", method: http.MethodGet, target: "/api/v1/auth/me", auth: userToken, wantStatus: http.StatusOK},
		{name: "public contents bad id", method: http.MethodGet, target: "/api/v1/tests/folders/abc/contents/public", wantStatus: http.StatusBadRequest},
		{name: "take bad id", method: http.MethodGet, target: "/api/v1/tests/test/abc/take", auth: userToken, wantStatus: http.StatusBadRequest},
		{name: "submit bad body", method: http.MethodPost, target: "/api/v1/tests/test/1/submit", auth: userToken, body: "{", wantStatus: http.StatusBadRequest},
		{name: "admin create test invalid", method: http.MethodPost, target: "/api/v1/admin/tests", auth: adminToken, body: `{"title":""}`, wantStatus: http.StatusBadRequest},
		{name: "admin delete bad mode", method: http.MethodDelete, target: "/api/v1/admin/tests/folders/1?mode=burn", auth: adminToken, wantStatus: http.StatusBadRequest},
		{name: "admin report bad id", method: http.MethodGet, target: "/api/v1/admin/tests/x/report", auth: adminToken, wantStatus: http.StatusBadRequest},
		{name: "login bad body", method: http.MethodPost, target: "/api/v1/auth/login", body: "{", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, bytes.NewBufferString(tc.body))
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tc.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestRouterRateLimitsLogin(t *testing.T) {
	cfg := testConfig()
	cfg.AuthRateLimitPerMin = 2
	router := NewRouter(cfg, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString("{"))
		req.RemoteAddr = "192.0.2.1:5000"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}

func TestRouterCORSPreflight(t *testing.T) {
	router := NewRouter(testConfig(), nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tests/free", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"quizlms/internal/app/apiresp"
)

type contextKey string

const userContextKey contextKey = "auth_user"

type authService interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Authenticate(token string) (*User, error)
}

type Handler struct {
	svc authService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func NewHandler(svc authService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "Invalid email or password."})
		case errors.Is(err, ErrForbidden):
			writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "Account is not active."})
		default:
			apiresp.WriteInternal(w, r, "login", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "JWT token required."})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: user})
}

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "JWT token required."})
			return
		}
		user, err := h.svc.Authenticate(token)
		if err != nil {
			writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "Invalid or expired token."})
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "JWT token required."})
				return
			}
			if _, exists := allowed[user.Role]; !exists {
				writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "Access denied."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUser(ctx context.Context) (*User, bool) {
	v := ctx.Value(userContextKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok
}

// ContextWithUser injects an authenticated user into context.
// Useful for tests and internal handlers.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

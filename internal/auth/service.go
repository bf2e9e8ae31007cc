package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
)

type Service struct {
	db         *sql.DB
	tokens     *TokenIssuer
	bcryptCost int
}

type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
}

type LoginResult struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

func NewService(db *sql.DB, tokens *TokenIssuer) *Service {
	return &Service{db: db, tokens: tokens, bcryptCost: bcrypt.DefaultCost}
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var (
		u        User
		hash     string
		isActive bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, role, password_hash, is_active
		FROM users
		WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &hash, &isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !isActive {
		return nil, ErrForbidden
	}

	token, expiresAt, err := s.tokens.Issue(&u)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        &u,
	}, nil
}

// CreateUser inserts an account with a bcrypt hash. Used by the migrate command
// to seed the first admin.
func (s *Service) CreateUser(ctx context.Context, email, password, fullName, role string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	role = strings.TrimSpace(role)
	if email == "" || len(password) < 8 {
		return nil, fmt.Errorf("%w: email and a password of at least 8 characters are required", ErrInvalidInput)
	}
	if role != RoleAdmin && role != RoleUser {
		return nil, fmt.Errorf("%w: role must be admin or user", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := User{Email: email, FullName: strings.TrimSpace(fullName), Role: role}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
		RETURNING id
	`, u.Email, string(hash), u.FullName, u.Role).Scan(&u.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(token string) (*User, error) {
	return s.tokens.Parse(token)
}

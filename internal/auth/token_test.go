package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssueAndParse(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	token, expiresAt, err := issuer.Issue(&User{ID: 42, Email: "a@b.test", Role: RoleAdmin})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	u, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.ID)
	assert.Equal(t, RoleAdmin, u.Role)
	assert.Equal(t, "a@b.test", u.Email)
}

func TestTokenParseRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := issuer.Issue(&User{ID: 1, Role: RoleUser})
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenParseRejectsOtherSecret(t *testing.T) {
	token, _, err := NewTokenIssuer("one", time.Hour).Issue(&User{ID: 1, Role: RoleUser})
	require.NoError(t, err)

	_, err = NewTokenIssuer("two", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenParseRejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    tokenIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

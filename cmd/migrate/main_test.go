package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubReadPassword(t *testing.T, pwd string, err error) *int {
	t.Helper()
	calls := 0
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) {
		calls++
		return []byte(pwd), err
	}
	t.Cleanup(func() { readPasswordFunc = orig })
	return &calls
}

func envWith(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestAdminPasswordPrefersEnv(t *testing.T) {
	calls := stubReadPassword(t, "prompted", nil)

	pwd, err := adminPassword(envWith(map[string]string{"SEED_ADMIN_PASSWORD": "from-env-123"}))
	require.NoError(t, err)
	assert.Equal(t, "from-env-123", pwd)
	assert.Zero(t, *calls)
}

func TestAdminPasswordPromptsWhenEnvUnset(t *testing.T) {
	calls := stubReadPassword(t, "typed-secret", nil)

	pwd, err := adminPassword(envWith(nil))
	require.NoError(t, err)
	assert.Equal(t, "typed-secret", pwd)
	assert.Equal(t, 1, *calls)
}

func TestAdminPasswordPromptErrors(t *testing.T) {
	stubReadPassword(t, "", nil)
	_, err := adminPassword(envWith(nil))
	assert.ErrorIs(t, err, errEmptyPassword)

	boom := errors.New("not a terminal")
	stubReadPassword(t, "", boom)
	_, err = adminPassword(envWith(nil))
	assert.ErrorIs(t, err, boom)
}

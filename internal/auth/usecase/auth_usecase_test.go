package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	authdomain "memtex-backend/internal/auth/domain"
	"memtex-backend/internal/auth/repository"
	"memtex-backend/pkg/config"
	"memtex-backend/pkg/database"
	"memtex-backend/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestUsecase(t *testing.T) AuthUsecase {
	t.Helper()
	db, err := database.NewSQLiteConnection(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&authdomain.UserAPIKey{}))
	return NewAuthUsecase(repository.NewAPIKeyRepository(db), &config.Config{JWTSecret: testSecret}, logger.Nop())
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestValidateTokenReadsSubThenUserID(t *testing.T) {
	uc := newTestUsecase(t)
	exp := time.Now().Add(time.Hour).Unix()

	id, err := uc.ValidateToken(sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "user-1", "exp": exp}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)

	id, err = uc.ValidateToken(sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"user_id": "user-2", "exp": exp}))
	require.NoError(t, err)
	assert.Equal(t, "user-2", id)
}

func TestValidateTokenRejects(t *testing.T) {
	uc := newTestUsecase(t)
	exp := time.Now().Add(time.Hour).Unix()

	cases := map[string]string{
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u", "exp": exp}),
		"wrong alg":    sign(t, jwt.SigningMethodHS384, []byte(testSecret), jwt.MapClaims{"sub": "u", "exp": exp}),
		"expired":      sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no subject":   sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"exp": exp}),
		"garbage":      "not.a.jwt",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := uc.ValidateToken(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	uc := newTestUsecase(t)
	ctx := context.Background()

	key, err := uc.GenerateAPIKey(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key.Key, "mtx_"))
	assert.Len(t, key.Key, len("mtx_")+32)
	assert.NotContains(t, key.Key, "-")

	owner, err := uc.ValidateAPIKey(ctx, key.Key)
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	_, err = uc.ValidateAPIKey(ctx, "mtx_unknown")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	// Another user cannot revoke it.
	assert.ErrorIs(t, uc.DeleteAPIKey(ctx, "user-2", key.Key), ErrKeyNotFound)

	keys, err := uc.ListAPIKeys(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, uc.DeleteAPIKey(ctx, "user-1", key.Key))
	_, err = uc.ValidateAPIKey(ctx, key.Key)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testAuthConfig(t *testing.T, password string) AuthConfig {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return AuthConfig{
		Enabled:      true,
		JWTSecret:    "test-secret",
		PasswordHash: string(hash),
		TokenTTL:     time.Minute,
	}
}

func TestAuthenticator_Login(t *testing.T) {
	auth, err := NewAuthenticator(testAuthConfig(t, "correct horse"))
	require.NoError(t, err)

	t.Run("wrong password", func(t *testing.T) {
		_, err := auth.Login("battery staple")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("issues verifiable token", func(t *testing.T) {
		token, err := auth.Login("correct horse")
		require.NoError(t, err)
		require.NotEmpty(t, token.AccessToken)
		assert.Equal(t, 60, token.ExpiresIn)

		claims, err := auth.ValidateToken(token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "operator", claims.Subject)
	})

	t.Run("rejects garbage token", func(t *testing.T) {
		_, err := auth.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewAuthenticator_RequiresSecrets(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{Enabled: true})
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	auth, err := NewAuthenticator(testAuthConfig(t, "correct horse"))
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := auth.Middleware(next)

	token, err := auth.Login("correct horse")
	require.NoError(t, err)

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
		req.Header.Set("Authorization", "Basic abc")
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("query token fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+token.AccessToken, nil)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("disabled lets everything through", func(t *testing.T) {
		open, err := NewAuthenticator(AuthConfig{})
		require.NoError(t, err)
		w := httptest.NewRecorder()
		open.Middleware(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestLoginEndpoint(t *testing.T) {
	t.Run("auth disabled", func(t *testing.T) {
		mux, _ := testMux(t, AuthConfig{})
		w := doJSON(t, mux, http.MethodPost, "/api/login", `{"password":"whatever"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("auth enabled", func(t *testing.T) {
		mux, _ := testMux(t, testAuthConfig(t, "correct horse"))

		w := doJSON(t, mux, http.MethodPost, "/api/login", `{"password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = doJSON(t, mux, http.MethodPost, "/api/login", `{"password":"correct horse"}`)
		assert.Equal(t, http.StatusOK, w.Code)

		// Everything else now requires the token.
		w = doJSON(t, mux, http.MethodGet, "/api/events", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

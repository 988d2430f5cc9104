package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/platform/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) Verify(ctx context.Context, token string) (uuid.UUID, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

var _ auth.TokenVerifier = (*MockTokenVerifier)(nil)

func authTestRouter(verifier auth.TokenVerifier) (*gin.Engine, *uuid.UUID) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	router := gin.New()
	router.Use(Auth(logger, verifier))

	var captured uuid.UUID
	router.GET("/protected", func(c *gin.Context) {
		if id, ok := GetAccountID(c); ok {
			captured = id
		}
		c.Status(http.StatusOK)
	})
	return router, &captured
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("ValidTokenSetsAccountID", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		accountID := uuid.New()
		verifier.On("Verify", mock.Anything, "good-token").Return(accountID, nil)

		router, captured := authTestRouter(verifier)

		req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, accountID, *captured)
		verifier.AssertExpectations(t)
	})

	t.Run("MissingAuthorizationHeader", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		router, _ := authTestRouter(verifier)

		req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
	})

	t.Run("MalformedAuthorizationHeader", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		router, _ := authTestRouter(verifier)

		req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		verifier.On("Verify", mock.Anything, "expired-token").Return(uuid.Nil, auth.ErrInvalidToken)

		router, _ := authTestRouter(verifier)

		req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer expired-token")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "Invalid or expired token")
	})

	t.Run("VerifierUnavailable", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		verifier.On("Verify", mock.Anything, "any-token").Return(uuid.Nil, errors.New("connection refused"))

		router, _ := authTestRouter(verifier)

		req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer any-token")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "AUTH_UNAVAILABLE")
	})
}

func TestGetAccountID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("ReturnsIDFromContext", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		expected := uuid.New()
		c.Set(AccountIDKey, expected)

		id, ok := GetAccountID(c)
		assert.True(t, ok)
		assert.Equal(t, expected, id)
	})

	t.Run("MissingFromContext", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())

		_, ok := GetAccountID(c)
		assert.False(t, ok)
	})

	t.Run("WrongTypeInContext", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set(AccountIDKey, "not-a-uuid")

		_, ok := GetAccountID(c)
		assert.False(t, ok)
	})
}

func TestInternalTokenMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	newRouter := func(expected string) *gin.Engine {
		router := gin.New()
		router.Use(InternalToken(logger, expected))
		router.POST("/internal/run", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return router
	}

	t.Run("ValidCredential", func(t *testing.T) {
		router := newRouter("secret-token")

		req, _ := http.NewRequest(http.MethodPost, "/internal/run", nil)
		req.Header.Set(InternalTokenHeader, "secret-token")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("BadCredential", func(t *testing.T) {
		router := newRouter("secret-token")

		req, _ := http.NewRequest(http.MethodPost, "/internal/run", nil)
		req.Header.Set(InternalTokenHeader, "wrong")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("MissingCredential", func(t *testing.T) {
		router := newRouter("secret-token")

		req, _ := http.NewRequest(http.MethodPost, "/internal/run", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

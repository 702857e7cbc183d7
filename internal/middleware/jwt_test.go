package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func runAuth(t *testing.T, authHeader string) (echo.Context, *httptest.ResponseRecorder, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	reached := false
	h := JWTAuth(testSecret)(func(c echo.Context) error {
		reached = true
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, h(c))
	return c, rec, reached
}

func TestJWTAuth(t *testing.T) {
	t.Parallel()

	t.Run("valid token sets caller identity", func(t *testing.T) {
		t.Parallel()
		tok := signToken(t, testSecret, jwt.MapClaims{
			"sub":  42,
			"role": "CUSTOMER",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		c, rec, reached := runAuth(t, "Bearer "+tok)

		assert.True(t, reached)
		assert.Equal(t, http.StatusOK, rec.Code)
		id, ok := CallerID(c)
		require.True(t, ok)
		assert.Equal(t, uint64(42), id)
		assert.Equal(t, "CUSTOMER", Role(c))
	})

	t.Run("string subject is accepted", func(t *testing.T) {
		t.Parallel()
		tok := signToken(t, testSecret, jwt.MapClaims{
			"sub":  "42",
			"role": "SERVICE",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		c, _, reached := runAuth(t, "Bearer "+tok)

		assert.True(t, reached)
		id, ok := CallerID(c)
		require.True(t, ok)
		assert.Equal(t, uint64(42), id)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		_, rec, reached := runAuth(t, "")
		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"missing bearer token"}`, rec.Body.String())
	})

	t.Run("not a bearer scheme", func(t *testing.T) {
		t.Parallel()
		_, rec, reached := runAuth(t, "Basic dXNlcjpwYXNz")
		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		t.Parallel()
		_, rec, reached := runAuth(t, "Bearer not.a.jwt")
		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"invalid token"}`, rec.Body.String())
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		tok := signToken(t, "other-secret", jwt.MapClaims{
			"sub": 42,
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		_, rec, reached := runAuth(t, "Bearer "+tok)
		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		tok := signToken(t, testSecret, jwt.MapClaims{
			"sub": 42,
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		_, rec, reached := runAuth(t, "Bearer "+tok)
		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("zero subject", func(t *testing.T) {
		t.Parallel()
		tok := signToken(t, testSecret, jwt.MapClaims{
			"sub": 0,
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		_, rec, reached := runAuth(t, "Bearer "+tok)
		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"invalid subject"}`, rec.Body.String())
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()
		tok := signToken(t, testSecret, jwt.MapClaims{
			"role": "CUSTOMER",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		_, rec, reached := runAuth(t, "Bearer "+tok)
		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, role string, allowed ...string) (*httptest.ResponseRecorder, bool) {
		t.Helper()
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if role != "" {
			c.Set(ctxKeyRole, role)
		}
		reached := false
		h := RequireRole(allowed...)(func(c echo.Context) error {
			reached = true
			return c.NoContent(http.StatusOK)
		})
		require.NoError(t, h(c))
		return rec, reached
	}

	t.Run("allowed role passes", func(t *testing.T) {
		t.Parallel()
		rec, reached := run(t, "CUSTOMER", "CUSTOMER", "SERVICE")
		assert.True(t, reached)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("other role is forbidden", func(t *testing.T) {
		t.Parallel()
		rec, reached := run(t, "CUSTOMER", "SERVICE")
		assert.False(t, reached)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("no role is forbidden", func(t *testing.T) {
		t.Parallel()
		rec, reached := run(t, "")
		assert.False(t, reached)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestCallerID_Unauthenticated(t *testing.T) {
	t.Parallel()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	_, ok := CallerID(c)
	assert.False(t, ok)
	assert.Empty(t, Role(c))
	assert.Equal(t, "anon", callerKey(c))
}

package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bundle-store/internal/service"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{fmt.Errorf("%w: password must be at least 6 characters", service.ErrInvalidInput), http.StatusBadRequest, "invalid input: password must be at least 6 characters"},
		{service.ErrDuplicateIdentity, http.StatusBadRequest, "login key already registered"},
		{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials"},
		{service.ErrInvalidToken, http.StatusUnauthorized, "invalid token"},
		{service.ErrForbidden, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("order ORD-1: %w", service.ErrNotFound), http.StatusNotFound, "not found"},
		{service.ErrInvalidState, http.StatusBadRequest, service.ErrInvalidState.Error()},
		{service.ErrAlreadyEntitled, http.StatusBadRequest, "already purchased"},
		{service.ErrAmountMismatch, http.StatusBadRequest, service.ErrAmountMismatch.Error()},
		{service.ErrPaymentRequired, http.StatusForbidden, "payment required"},
		{service.ErrExpired, http.StatusGone, "link expired"},
		{errors.New("dial tcp: connection refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		status, msg := statusOf(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.msg, msg, tc.err.Error())
	}
}

func TestFailHidesInternalDetail(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, fail(c, zerolog.Nop(), errors.New("sql: database is closed")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRequestValidatorMessages(t *testing.T) {
	v := NewRequestValidator()

	err := v.Validate(&registerReq{})
	require.ErrorIs(t, err, service.ErrInvalidInput)
	assert.Contains(t, err.Error(), "password is required")

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}
	name := string(long)
	err = v.Validate(&registerReq{Password: "secret123", DisplayName: &name})
	require.ErrorIs(t, err, service.ErrInvalidInput)
	assert.Contains(t, err.Error(), "display_name must be at most 100 characters")

	assert.NoError(t, v.Validate(&registerReq{LoginKey: "a@x.com", Password: "secret123"}))
}

func TestRegisterKeyAliases(t *testing.T) {
	assert.Equal(t, "a@x.com", registerReq{LoginKey: "a@x.com", Email: "b@x.com"}.key())
	assert.Equal(t, "b@x.com", registerReq{LoginKey: "  ", Email: "b@x.com"}.key())
	assert.Equal(t, "99119911", registerReq{Phone: "99119911"}.key())
	assert.Empty(t, registerReq{}.key())
}

func TestRenderPage(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/download/file/x", nil), rec)

	require.NoError(t, renderPage(c, http.StatusGone, pageExpired))
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMETextHTML)
	assert.Contains(t, rec.Body.String(), "<h1>Link expired</h1>")
}

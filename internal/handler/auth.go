package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/model"
	"github.com/iliyamo/bundle-store/internal/service"
)

// requestTimeout bounds the storage work of a single API call.
const requestTimeout = 5 * time.Second

// AuthHandler bundles dependencies for auth and profile endpoints.
type AuthHandler struct {
	Sessions *service.Sessions
	Log      zerolog.Logger
}

func NewAuthHandler(s *service.Sessions, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{Sessions: s, Log: log.With().Str("component", "auth-handler").Logger()}
}

// ----- DTOs -----

// registerReq accepts the login key under login_key, or under the email or
// phone aliases used by older clients.
type registerReq struct {
	LoginKey    string  `json:"login_key" form:"login_key"`
	Email       string  `json:"email" form:"email"`
	Phone       string  `json:"phone" form:"phone"`
	Password    string  `json:"password" form:"password" validate:"required"`
	DisplayName *string `json:"display_name" form:"display_name" validate:"omitempty,max=100"`
}

func (r registerReq) key() string {
	for _, k := range []string{r.LoginKey, r.Email, r.Phone} {
		if strings.TrimSpace(k) != "" {
			return k
		}
	}
	return ""
}

type loginReq struct {
	LoginKey string `json:"login_key" form:"login_key"`
	Email    string `json:"email" form:"email"`
	Phone    string `json:"phone" form:"phone"`
	Password string `json:"password" form:"password" validate:"required"`
}

type authResp struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

func sessionResp(s service.Session) authResp {
	return authResp{Token: s.Token, ExpiresAt: s.ExpiresAt, User: s.User}
}

// Register creates a user and returns a session immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return fail(c, h.Log, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	sess, err := h.Sessions.Register(ctx, service.RegisterInput{
		LoginKey:    req.key(),
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, sessionResp(sess))
}

// Login verifies credentials and returns a fresh session.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	key := registerReq{LoginKey: req.LoginKey, Email: req.Email, Phone: req.Phone}.key()
	if key == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "login_key and password are required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	sess, err := h.Sessions.Login(ctx, key, req.Password)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, sessionResp(sess))
}

// Me returns the authenticated user's profile, entitlement included.
func (h *AuthHandler) Me(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	u, err := h.Sessions.Me(ctx, p.UserID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, u)
}

package server

import (
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaultmind/vaultmind/config"
	"github.com/vaultmind/vaultmind/internal/mail"
	"github.com/vaultmind/vaultmind/internal/runtime"
	"github.com/vaultmind/vaultmind/internal/store"
)

type AuthHandler struct {
	Store    *store.Store
	Mailer   mail.Mailer
	Secret   []byte
	TokenTTL time.Duration
	ResetTTL time.Duration
	Logger   *log.Logger
}

func (a *AuthHandler) Register(g *echo.Group) {
	g.POST("/signup", a.signup)
	g.POST("/login", a.login)
	g.POST("/logout", a.logout)
	g.POST("/forgot-password", a.forgotPassword)
	g.POST("/reset-password", a.resetPassword)
}

func (a *AuthHandler) signup(c echo.Context) error {
	var req AuthSignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" || len(req.Password) < 8 {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password (min 8 chars) required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := a.Store.CreateUser(c.Request().Context(), req.Email, string(hash)); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return echo.NewHTTPError(http.StatusConflict, "email already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (a *AuthHandler) login(c echo.Context) error {
	var req AuthLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Password) < 8 {
		return echo.NewHTTPError(http.StatusBadRequest, "password too short")
	}
	id, hash, err := a.Store.GetUserByEmail(c.Request().Context(), req.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	ttl := a.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	signed, err := runtime.SignJWT(id, a.Secret, ttl)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	cookie := new(http.Cookie)
	cookie.Name = "auth"
	cookie.Value = signed
	cookie.Path = "/"
	cookie.HttpOnly = true
	cookie.SameSite = http.SameSiteLaxMode
	if os.Getenv("VAULTMIND_ENV") == "prod" {
		cookie.Secure = true
	}
	c.SetCookie(cookie)
	// also return token for Bearer flows
	c.Response().Header().Set("Authorization", "Bearer "+signed)
	return c.JSON(http.StatusOK, TokenResponse{Token: signed})
}

func (a *AuthHandler) logout(c echo.Context) error {
	cookie := new(http.Cookie)
	cookie.Name = "auth"
	cookie.Value = ""
	cookie.Path = "/"
	cookie.MaxAge = -1
	c.SetCookie(cookie)
	return c.NoContent(http.StatusOK)
}

// forgotPassword always answers 200 so the endpoint cannot be used to probe
// which emails are registered.
func (a *AuthHandler) forgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	id, _, err := a.Store.GetUserByEmail(ctx, req.Email)
	if err == nil {
		token := uuid.NewString()
		ttl := a.ResetTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		if err := a.Store.CreateResetToken(ctx, id, token, time.Now().Add(ttl)); err != nil {
			a.Logger.Printf("create reset token for %s: %v", req.Email, err)
		} else if err := a.Mailer.SendPasswordReset(req.Email, token); err != nil {
			a.Logger.Printf("send reset mail to %s: %v", req.Email, err)
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AuthHandler) resetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" || len(req.Password) < 8 {
		return echo.NewHTTPError(http.StatusBadRequest, "token and password (min 8 chars) required")
	}
	ctx := c.Request().Context()
	userID, err := a.Store.ConsumeResetToken(ctx, req.Token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := a.Store.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func newAuthHandler(cfg *config.Config, st *store.Store, mailer mail.Mailer, secret []byte) *AuthHandler {
	return &AuthHandler{
		Store:    st,
		Mailer:   mailer,
		Secret:   secret,
		TokenTTL: cfg.Server.TokenTTL,
		ResetTTL: cfg.Retention.ResetTokenTTL,
		Logger:   log.New(log.Writer(), "[AUTH] ", log.LstdFlags),
	}
}

package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vaultmind/vaultmind/config"
)

func TestLoadJWTSecretFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.JWTSecret = "topsecret"
	secret, err := LoadJWTSecret(cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(secret) != "topsecret" {
		t.Fatalf("secret = %q", secret)
	}
}

func TestLoadJWTSecretFromEnv(t *testing.T) {
	t.Setenv("VAULTMIND_JWT_SECRET", "envsecret")
	secret, err := LoadJWTSecret(&config.Config{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(secret) != "envsecret" {
		t.Fatalf("secret = %q", secret)
	}
}

func TestAuthMiddlewareRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := SignJWT("user-42", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	var gotUser string
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		gotUser, _ = c.Get("user_id").(string)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if gotUser != "user-42" {
		t.Fatalf("user_id = %q", gotUser)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	e := echo.New()
	handler := EchoAuthMiddleware([]byte("s"))(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	err := handler(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
}

func TestAuthMiddlewareRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := SignJWT("user-42", secret, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	e := echo.New()
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
}

func TestAuthMiddlewareAcceptsCookie(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := SignJWT("user-7", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	e := echo.New()
	var gotUser string
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		gotUser, _ = c.Get("user_id").(string)
		return c.NoContent(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: tok})
	if err := handler(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if gotUser != "user-7" {
		t.Fatalf("user_id = %q", gotUser)
	}
}

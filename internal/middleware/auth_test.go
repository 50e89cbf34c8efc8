package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthCookie_RoundTrip(t *testing.T) {
	a := NewAuthMiddleware("test-secret")

	w := httptest.NewRecorder()
	a.SetAuthCookie(w, 42)

	res := w.Result()
	cookies := res.Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookies[0])

	id, ok := a.UserIDFromRequest(r)
	if !ok {
		t.Fatalf("valid cookie rejected")
	}
	if id != 42 {
		t.Fatalf("user id = %d, want 42", id)
	}
}

func TestAuthCookie_Missing(t *testing.T) {
	a := NewAuthMiddleware("test-secret")

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if _, ok := a.UserIDFromRequest(r); ok {
		t.Fatalf("request without cookie must be rejected")
	}
}

func TestAuthCookie_Tampered(t *testing.T) {
	a := NewAuthMiddleware("test-secret")

	w := httptest.NewRecorder()
	a.SetAuthCookie(w, 42)
	cookie := w.Result().Cookies()[0]

	// Подмена идентификатора при сохранении чужой подписи.
	parts := strings.SplitN(cookie.Value, ".", 2)
	cookie.Value = "99." + parts[1]

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)

	if _, ok := a.UserIDFromRequest(r); ok {
		t.Fatalf("tampered cookie must be rejected")
	}
}

func TestAuthCookie_WrongSecret(t *testing.T) {
	signer := NewAuthMiddleware("secret-one")
	verifier := NewAuthMiddleware("secret-two")

	w := httptest.NewRecorder()
	signer.SetAuthCookie(w, 42)

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(w.Result().Cookies()[0])

	if _, ok := verifier.UserIDFromRequest(r); ok {
		t.Fatalf("cookie signed with another secret must be rejected")
	}
}

func TestClearAuthCookie(t *testing.T) {
	a := NewAuthMiddleware("test-secret")

	w := httptest.NewRecorder()
	a.ClearAuthCookie(w)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	if cookies[0].MaxAge >= 0 {
		t.Fatalf("MaxAge = %d, want negative to expire the cookie", cookies[0].MaxAge)
	}
}

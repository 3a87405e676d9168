package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(m *Manager, fn http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	m.LoadAndSave(fn).ServeHTTP(rec, req)
	return rec
}

func withCookie(method, target string, c *http.Cookie) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if c != nil {
		req.AddCookie(c)
	}
	return req
}

func cookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatalf("expected %s cookie in response", CookieName)
	return nil
}

func TestSignInAndUserID(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, false)

	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		if err := m.SignIn(r.Context(), "u-1", "desk@example.com"); err != nil {
			t.Errorf("sign in: %v", err)
		}
	}, withCookie(http.MethodPost, "/log-in", nil))
	c := cookieFrom(t, rec)
	if c.MaxAge <= 0 || !c.HttpOnly || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes: %+v", c)
	}

	var id string
	var err error
	serve(m, func(w http.ResponseWriter, r *http.Request) {
		id, err = m.UserID(r.Context())
	}, withCookie(http.MethodGet, "/", c))
	if err != nil || id != "u-1" {
		t.Fatalf("expected u-1, got %q err=%v", id, err)
	}
}

func TestSignInRenewsToken(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, false)

	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		m.Flash(r.Context(), "error", "Password is required")
	}, withCookie(http.MethodPost, "/log-in", nil))
	anon := cookieFrom(t, rec)

	rec = serve(m, func(w http.ResponseWriter, r *http.Request) {
		if err := m.SignIn(r.Context(), "u-1", "desk@example.com"); err != nil {
			t.Errorf("sign in: %v", err)
		}
	}, withCookie(http.MethodPost, "/log-in", anon))
	signed := cookieFrom(t, rec)
	if signed.Value == anon.Value {
		t.Fatalf("expected a new session token after sign in")
	}

	var err error
	serve(m, func(w http.ResponseWriter, r *http.Request) {
		_, err = m.UserID(r.Context())
	}, withCookie(http.MethodGet, "/", anon))
	if err != ErrNoUser {
		t.Fatalf("expected the pre-login token to carry no user, got %v", err)
	}
}

func TestUserIDWithoutSession(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, false)
	var err error
	serve(m, func(w http.ResponseWriter, r *http.Request) {
		_, err = m.UserID(r.Context())
	}, withCookie(http.MethodGet, "/", nil))
	if err != ErrNoUser {
		t.Fatalf("expected ErrNoUser, got %v", err)
	}
}

func TestFlashIsPoppedOnce(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, false)

	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		m.Flash(r.Context(), "success", "Successfully logged out")
		m.Flash(r.Context(), "error", "Password is required")
	}, withCookie(http.MethodPost, "/log-in", nil))
	c := cookieFrom(t, rec)

	var msgs []Flash
	pop := func(w http.ResponseWriter, r *http.Request) { msgs = m.PopFlash(r.Context()) }

	serve(m, pop, withCookie(http.MethodGet, "/log-in", c))
	if len(msgs) != 2 || msgs[0].Kind != "error" || msgs[1].Message != "Successfully logged out" {
		t.Fatalf("unexpected flash: %v", msgs)
	}

	serve(m, pop, withCookie(http.MethodGet, "/log-in", c))
	if len(msgs) != 0 {
		t.Fatalf("expected flash to be consumed, got %v", msgs)
	}
}

func TestDestroyClearsCookieAndSession(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, time.Minute, false)

	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		if err := m.SignIn(r.Context(), "u-1", "desk@example.com"); err != nil {
			t.Errorf("sign in: %v", err)
		}
	}, withCookie(http.MethodPost, "/log-in", nil))
	c := cookieFrom(t, rec)

	out := serve(m, func(w http.ResponseWriter, r *http.Request) {
		if err := m.Destroy(r.Context()); err != nil {
			t.Errorf("destroy: %v", err)
		}
	}, withCookie(http.MethodGet, "/log-out", c))
	if cookieFrom(t, out).MaxAge >= 0 {
		t.Fatalf("expected cookie to be expired")
	}
	if _, found, _ := store.Find(c.Value); found {
		t.Fatalf("expected session to be deleted")
	}
}

func TestSweepClearsStaleCookie(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, false)

	var sawCookie bool
	h := m.Sweep(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := r.Cookie(CookieName)
		sawCookie = err == nil
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withCookie(http.MethodGet, "/", &http.Cookie{Name: CookieName, Value: "gone"}))

	if sawCookie {
		t.Fatalf("expected stale cookie to be stripped before the handler")
	}
	if cookieFrom(t, rec).MaxAge >= 0 {
		t.Fatalf("expected stale cookie to be expired")
	}
}

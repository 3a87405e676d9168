// Package session keeps browser login state for the authorize flow.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
)

const CookieName = "user_sid"

const (
	keyUserID = "user_id"
	keyEmail  = "email"
	keyFlash  = "flash."
)

// flashKinds fixes the order flashes are rendered in.
var flashKinds = []string{"error", "success"}

// Flash is a message shown once on the next rendered page. Kind is
// "error" or "success".
type Flash struct {
	Kind    string
	Message string
}

var ErrNoUser = errors.New("no user in session")

// Manager wraps an scs session manager configured for the user_sid cookie.
// Handlers using it must run behind LoadAndSave.
type Manager struct {
	sm    *scs.SessionManager
	store scs.Store
}

func NewManager(store scs.Store, ttl time.Duration, secure bool) *Manager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	sm := scs.New()
	sm.Store = store
	sm.Lifetime = ttl
	sm.Cookie.Name = CookieName
	sm.Cookie.Path = "/"
	sm.Cookie.HttpOnly = true
	sm.Cookie.Persist = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = secure
	sm.ErrorFunc = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("session error", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
	return &Manager{sm: sm, store: store}
}

// NewMemoryStore returns an in-process store for single instance
// deployments (REDIS_ADDR=memory) and tests.
func NewMemoryStore() scs.Store {
	return memstore.New()
}

// LoadAndSave loads the session for the request and commits it, writing the
// cookie, before the response header goes out.
func (m *Manager) LoadAndSave(next http.Handler) http.Handler {
	return m.sm.LoadAndSave(next)
}

// SignIn binds the user to the session under a fresh token so an id handed
// out before login cannot be reused.
func (m *Manager) SignIn(ctx context.Context, userID, email string) error {
	if err := m.sm.RenewToken(ctx); err != nil {
		return err
	}
	m.sm.Put(ctx, keyUserID, userID)
	m.sm.Put(ctx, keyEmail, email)
	return nil
}

// UserID returns the signed-in user's id or ErrNoUser.
func (m *Manager) UserID(ctx context.Context) (string, error) {
	id := m.sm.GetString(ctx, keyUserID)
	if id == "" {
		return "", ErrNoUser
	}
	return id, nil
}

// Destroy drops the stored session. Values put afterwards in the same
// request start a new session under a new token.
func (m *Manager) Destroy(ctx context.Context) error {
	return m.sm.Destroy(ctx)
}

// Flash queues a one-shot message. A later message of the same kind
// replaces the earlier one.
func (m *Manager) Flash(ctx context.Context, kind, msg string) {
	m.sm.Put(ctx, keyFlash+kind, msg)
}

// PopFlash returns and clears pending flash messages.
func (m *Manager) PopFlash(ctx context.Context) []Flash {
	var out []Flash
	for _, kind := range flashKinds {
		if msg := m.sm.PopString(ctx, keyFlash+kind); msg != "" {
			out = append(out, Flash{Kind: kind, Message: msg})
		}
	}
	return out
}

// Sweep clears a user_sid cookie that no longer has a stored session. It
// runs in front of LoadAndSave.
func (m *Manager) Sweep(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(CookieName)
		if err == nil && c.Value != "" {
			_, found, err := m.find(r.Context(), c.Value)
			if err != nil {
				slog.Warn("session lookup failed", "error", err)
			} else if !found {
				clearCookie(w)
				r = stripCookie(r)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Manager) find(ctx context.Context, token string) ([]byte, bool, error) {
	if cs, ok := m.store.(scs.CtxStore); ok {
		return cs.FindCtx(ctx, token)
	}
	return m.store.Find(token)
}

func clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func stripCookie(r *http.Request) *http.Request {
	r2 := r.Clone(r.Context())
	r2.Header.Del("Cookie")
	for _, c := range r.Cookies() {
		if c.Name != CookieName {
			r2.AddCookie(c)
		}
	}
	return r2
}

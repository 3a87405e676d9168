// Package web serves the account pages that sit in front of the OAuth
// authorize endpoint.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/bloveless/esp32-iot-desk/internal/session"
	"github.com/bloveless/esp32-iot-desk/internal/store"
)

//go:embed templates/*.html
var embedded embed.FS

const (
	msgEmailRequired        = "Email address is required"
	msgPasswordRequired     = "Password is required"
	msgBadCredentials       = "Unable to find user with that email and password"
	msgLoggedOut            = "Successfully logged out"
	msgPasswordsRequired    = "Password and Password Confirmation are required"
	msgPasswordMismatch     = "Password and Password Confirmation must matched"
	msgEmailAlreadyRegister = "Email address is already registered"
)

type Users interface {
	GetUserByCredentials(ctx context.Context, email, password string) (*store.User, error)
	CreateUser(ctx context.Context, email, password string) (*store.User, error)
}

type Handlers struct {
	users    Users
	sessions *session.Manager
	tmpl     *template.Template
}

// New parses the page templates from dir, or from the embedded copies when
// dir is empty.
func New(users Users, sessions *session.Manager, dir string) (*Handlers, error) {
	var fsys fs.FS = embedded
	pattern := "templates/*.html"
	if dir != "" {
		fsys = os.DirFS(dir)
		pattern = "*.html"
	}
	tmpl, err := template.ParseFS(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Handlers{users: users, sessions: sessions, tmpl: tmpl}, nil
}

type pageData struct {
	Title string
	Flash []session.Flash
	Auth  AuthParams
	Query template.URL
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, page, title string, flash ...session.Flash) {
	pending := h.sessions.PopFlash(r.Context())
	params := authParams(r)
	data := pageData{
		Title: title,
		Flash: append(pending, flash...),
		Auth:  params,
		Query: safeQuery(params.Encode()),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, page, data); err != nil {
		slog.Error("render page failed", "page", page, "error", err)
	}
}

func errorFlash(msg string) session.Flash {
	return session.Flash{Kind: "error", Message: msg}
}

func (h *Handlers) signedIn(r *http.Request) bool {
	_, err := h.sessions.UserID(r.Context())
	return err == nil
}

func (h *Handlers) LogInPage(w http.ResponseWriter, r *http.Request) {
	if h.signedIn(r) {
		http.Redirect(w, r, AuthorizeURL(r), http.StatusFound)
		return
	}
	h.render(w, r, "log-in", "Log in")
}

func (h *Handlers) LogIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if h.signedIn(r) {
		http.Redirect(w, r, AuthorizeURL(r), http.StatusFound)
		return
	}
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")
	if email == "" {
		h.render(w, r, "log-in", "Log in", errorFlash(msgEmailRequired))
		return
	}
	if password == "" {
		h.render(w, r, "log-in", "Log in", errorFlash(msgPasswordRequired))
		return
	}

	u, err := h.users.GetUserByCredentials(r.Context(), email, password)
	if err != nil {
		slog.Error("credential lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if u == nil {
		h.sessions.Flash(r.Context(), "error", msgBadCredentials)
		http.Redirect(w, r, LoginURL(r), http.StatusFound)
		return
	}
	h.signIn(w, r, u)
}

func (h *Handlers) LogOut(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context()); err != nil {
		slog.Warn("session destroy failed", "error", err)
	}
	h.sessions.Flash(r.Context(), "success", msgLoggedOut)
	http.Redirect(w, r, "/log-in", http.StatusFound)
}

func (h *Handlers) SignUpPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "sign-up", "Sign up")
}

func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")
	confirmation := r.PostFormValue("passwordConfirmation")
	switch {
	case email == "":
		h.render(w, r, "sign-up", "Sign up", errorFlash(msgEmailRequired))
		return
	case password == "" || confirmation == "":
		h.render(w, r, "sign-up", "Sign up", errorFlash(msgPasswordsRequired))
		return
	case password != confirmation:
		h.render(w, r, "sign-up", "Sign up", errorFlash(msgPasswordMismatch))
		return
	}

	u, err := h.users.CreateUser(r.Context(), email, password)
	if errors.Is(err, store.ErrEmailTaken) {
		h.render(w, r, "sign-up", "Sign up", errorFlash(msgEmailAlreadyRegister))
		return
	}
	if errors.Is(err, store.ErrInvalidEmail) {
		h.render(w, r, "sign-up", "Sign up", errorFlash(msgEmailRequired))
		return
	}
	if err != nil {
		slog.Error("create user failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("user registered", "user_id", u.ID)
	h.signIn(w, r, u)
}

func (h *Handlers) signIn(w http.ResponseWriter, r *http.Request, u *store.User) {
	if err := h.sessions.SignIn(r.Context(), u.ID.String(), u.Email); err != nil {
		slog.Error("session save failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, AuthorizeURL(r), http.StatusFound)
}

// AuthorizeUser resolves the signed-in user for the authorize endpoint.
// Anonymous requests are redirected to the login page and yield an empty id.
func (h *Handlers) AuthorizeUser(w http.ResponseWriter, r *http.Request) (string, error) {
	id, err := h.sessions.UserID(r.Context())
	if errors.Is(err, session.ErrNoUser) {
		http.Redirect(w, r, LoginURL(r), http.StatusFound)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

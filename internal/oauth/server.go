package oauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-oauth2/oauth2/v4"
	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
	"github.com/go-oauth2/oauth2/v4/manage"
	"github.com/go-oauth2/oauth2/v4/server"

	"github.com/bloveless/esp32-iot-desk/internal/store"
)

// UserAuthorizer returns the id of the signed-in user for an authorize
// request. Returning an empty id without an error means it has already
// written a response (usually a redirect to the login page).
type UserAuthorizer func(w http.ResponseWriter, r *http.Request) (userID string, err error)

type Options struct {
	SigningKey      []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
	AuthorizeUser   UserAuthorizer
}

type Server struct {
	srv *server.Server
	gen *JWTAccessGenerate
}

func NewServer(repo *store.Repository, opts Options) *Server {
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = time.Hour
	}
	if opts.AuthCodeTTL <= 0 {
		opts.AuthCodeTTL = 5 * time.Minute
	}
	if opts.AuthorizeUser == nil {
		opts.AuthorizeUser = func(http.ResponseWriter, *http.Request) (string, error) {
			return "", oautherrors.ErrAccessDenied
		}
	}
	gen := NewJWTAccessGenerate(opts.SigningKey)

	manager := manage.NewDefaultManager()
	manager.SetAuthorizeCodeExp(opts.AuthCodeTTL)
	manager.SetAuthorizeCodeTokenCfg(&manage.Config{
		AccessTokenExp:    opts.AccessTokenTTL,
		RefreshTokenExp:   opts.RefreshTokenTTL,
		IsGenerateRefresh: true,
	})
	manager.SetRefreshTokenCfg(&manage.RefreshingConfig{
		AccessTokenExp:     opts.AccessTokenTTL,
		RefreshTokenExp:    opts.RefreshTokenTTL,
		IsGenerateRefresh:  true,
		IsRemoveAccess:     true,
		IsRemoveRefreshing: true,
	})
	manager.MapTokenStorage(NewTokenStore(repo))
	manager.MapClientStorage(NewClientStore(repo))
	manager.MapAccessGenerate(gen)
	manager.SetValidateURIHandler(exactRedirectURI)

	srv := server.NewServer(server.NewConfig(), manager)
	srv.SetAllowedGrantType(oauth2.AuthorizationCode, oauth2.Refreshing)
	srv.SetAllowedResponseType(oauth2.Code)
	srv.SetClientInfoHandler(clientCredentials)
	srv.SetUserAuthorizationHandler(server.UserAuthorizationHandler(opts.AuthorizeUser))
	srv.SetInternalErrorHandler(func(err error) *oautherrors.Response {
		slog.Error("oauth internal error", "error", err)
		return nil
	})
	srv.SetResponseErrorHandler(func(re *oautherrors.Response) {
		slog.Warn("oauth request rejected", "error", re.Error, "description", re.Description)
	})
	return &Server{srv: srv, gen: gen}
}

// HandleAuthorize issues an authorization code for the signed-in user.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := s.srv.HandleAuthorizeRequest(w, r); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
	}
}

// HandleToken exchanges authorization codes and refresh tokens.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := s.srv.HandleTokenRequest(w, r); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

type tokenInfoKey struct{}

// RequireBearer rejects requests without a valid, unexpired, unrevoked
// access token and stores the token info on the request context.
func (s *Server) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ti, err := s.srv.ValidationBearerToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeOAuthError(w, http.StatusUnauthorized, "invalid_token", err.Error())
			return
		}
		if sub, err := s.gen.Subject(ti.GetAccess()); err != nil || sub != ti.GetUserID() {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeOAuthError(w, http.StatusUnauthorized, "invalid_token", "token signature mismatch")
			return
		}
		ctx := context.WithValue(r.Context(), tokenInfoKey{}, ti)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenInfoFromContext returns the token validated by RequireBearer.
func TokenInfoFromContext(ctx context.Context) (oauth2.TokenInfo, bool) {
	ti, ok := ctx.Value(tokenInfoKey{}).(oauth2.TokenInfo)
	return ti, ok
}

func exactRedirectURI(registered, requested string) error {
	if registered == "" || registered != requested {
		return oautherrors.ErrInvalidRedirectURI
	}
	return nil
}

// clientCredentials accepts HTTP basic auth and falls back to the
// client_id/client_secret form fields.
func clientCredentials(r *http.Request) (string, string, error) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret, nil
	}
	id := r.FormValue("client_id")
	if id == "" {
		return "", "", oautherrors.ErrInvalidClient
	}
	return id, r.FormValue("client_secret"), nil
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":             code,
		"error_description": description,
	})
}

package web

import (
	"html/template"
	"net/http"
	"net/url"
)

// AuthParams are the authorize request parameters carried through the
// login and sign-up pages.
type AuthParams struct {
	ClientID     string
	RedirectURI  string
	State        string
	ResponseType string
	UserLocale   string
}

// authParams reads each parameter from the query string, falling back to
// the posted form.
func authParams(r *http.Request) AuthParams {
	get := func(key string) string {
		if v := r.URL.Query().Get(key); v != "" {
			return v
		}
		return r.PostFormValue(key)
	}
	return AuthParams{
		ClientID:     get("client_id"),
		RedirectURI:  get("redirect_uri"),
		State:        get("state"),
		ResponseType: get("response_type"),
		UserLocale:   get("user_locale"),
	}
}

// Encode returns the non-empty parameters as a query string.
func (p AuthParams) Encode() string {
	v := url.Values{}
	for key, val := range map[string]string{
		"client_id":     p.ClientID,
		"redirect_uri":  p.RedirectURI,
		"state":         p.State,
		"response_type": p.ResponseType,
		"user_locale":   p.UserLocale,
	} {
		if val != "" {
			v.Set(key, val)
		}
	}
	return v.Encode()
}

// LoginURL is the login page for r's authorize parameters.
func LoginURL(r *http.Request) string {
	return withQuery("/log-in", authParams(r).Encode())
}

// AuthorizeURL is the authorize endpoint for r's authorize parameters.
func AuthorizeURL(r *http.Request) string {
	return withQuery("/oauth/authorize", authParams(r).Encode())
}

func withQuery(path, q string) string {
	if q == "" {
		return path
	}
	return path + "?" + q
}

// query is trusted: it only ever comes from url.Values.Encode.
func safeQuery(q string) template.URL {
	return template.URL(q)
}

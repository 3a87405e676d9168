package oauth

import "net/http"

const bearerPrefixLen = len("Bearer ")

// TokenFromHeader strips the "Bearer " prefix from an Authorization value.
// The scheme is not inspected; values shorter than the prefix yield "".
func TokenFromHeader(h string) string {
	if len(h) <= bearerPrefixLen {
		return ""
	}
	return h[bearerPrefixLen:]
}

// RequestToken is TokenFromHeader applied to the request's Authorization header.
func RequestToken(r *http.Request) string {
	return TokenFromHeader(r.Header.Get("Authorization"))
}

package auth

import (
	"net/http"
	"strings"
)

// RequestError is the structured rejection returned to the reporter
type RequestError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *RequestError) Error() string { return e.Message }

func (e *RequestError) Unwrap() error { return ErrUnauthorized }

func fail(message string) *RequestError {
	return &RequestError{Status: "fail", Message: message}
}

// Extract finds the bearer token: the named cookie first, then an
// "Authorization: Bearer <token>" header.
func Extract(r *http.Request, cookieName string) (string, error) {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	values, ok := r.Header[http.CanonicalHeaderKey("Authorization")]
	if !ok || len(values) == 0 {
		return "", fail("could not get authorization header.")
	}

	header := values[0]
	if !isVisibleASCII(header) {
		return "", fail("could not parse authorization header.")
	}

	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", fail("You are not logged in, please provide token.")
	}
	return token, nil
}

func isVisibleASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

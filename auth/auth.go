package auth

import "net/http"

type Client interface {
	// Auth authenticates the current request, returning the verified user id.
	Auth(r *http.Request) (string, error)
}

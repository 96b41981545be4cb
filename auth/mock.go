package auth

import (
	"fmt"
	"net/http"
)

// MockClient trusts an id supplied by the caller, for development and
// tests. Production deployments plug in the platform auth API instead.
type MockClient struct {
	Client
}

func (c *MockClient) Auth(r *http.Request) (string, error) {
	uid := r.Header.Get("X-User-Id")

	if uid == "" {
		uid = r.URL.Query().Get("user_id")
	}
	if uid == "" {
		if c, err := r.Cookie("x-uid"); err == nil {
			uid = c.Value
		}
	}

	if uid == "" {
		return "", fmt.Errorf("missing user identity in header, query or cookie")
	}
	return uid, nil
}

package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// CookieName carries the identity token for browser page loads.
const CookieName = "bgr_token"

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the signed-in user as seen by the shell.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Provider resolves the identity of a request.
type Provider interface {
	Identify(r *http.Request) (*Identity, error)
}

// TokenProvider reads an HS256 token from the Authorization header, falling
// back to the identity cookie.
type TokenProvider struct {
	secret string
	now    func() time.Time
}

func NewTokenProvider(secret string) *TokenProvider {
	return &TokenProvider{secret: secret, now: time.Now}
}

func (p *TokenProvider) Identify(r *http.Request) (*Identity, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		if cookie, err := r.Cookie(CookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := Verify(p.secret, token, p.now())
	if err != nil {
		return nil, errors.Join(ErrUnauthenticated, err)
	}
	return &Identity{UserID: claims.Subject, Name: claims.Name}, nil
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

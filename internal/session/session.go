// Package session carries the authenticated context shared by every client
// component: where the API lives, who the user is and how to get the token.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/quartissimo/realtime/internal/models"
)

// ErrNoToken is returned when no token has been stored yet.
var ErrNoToken = errors.New("session: no token stored, run login first")

// TokenStore hands out the current bearer token. It is consulted on every
// authenticated call; implementations must not assume the token is stable.
type TokenStore interface {
	Token() (string, error)
}

// FileTokenStore keeps the token in a single file.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Token() (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("session: read token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Save writes token with owner-only permissions.
func (s FileTokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("session: create token dir: %w", err)
	}
	if err := os.WriteFile(s.Path, []byte(strings.TrimSpace(token)+"\n"), 0o600); err != nil {
		return fmt.Errorf("session: write token: %w", err)
	}
	return nil
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// Session is passed explicitly to every component needing authenticated access.
type Session struct {
	BaseURL *url.URL
	UserID  uint
	Tokens  TokenStore
	HTTP    *http.Client
}

// New builds a session for baseURL. The user id is read from the current
// token; httpClient may be nil.
func New(baseURL string, tokens TokenStore, httpClient *http.Client) (*Session, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("session: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("session: unsupported scheme %q", u.Scheme)
	}

	token, err := tokens.Token()
	if err != nil {
		return nil, err
	}
	userID, err := UserIDFromToken(token)
	if err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Session{BaseURL: u, UserID: userID, Tokens: tokens, HTTP: httpClient}, nil
}

// UserIDFromToken reads the user_id claim without verifying the signature.
// The server verifies every request; the client only needs to know who it is.
func UserIDFromToken(token string) (uint, error) {
	claims := &models.JwtCustomClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("session: malformed token: %w", err)
	}
	if claims.UserID == 0 {
		return 0, errors.New("session: token has no user_id claim")
	}
	return claims.UserID, nil
}

// Authorize sets the bearer header from the current token.
func (s *Session) Authorize(req *http.Request) error {
	token, err := s.Tokens.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// URL resolves path (with optional query) against the base URL.
func (s *Session) URL(path string, query url.Values) string {
	u := *s.BaseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// SocketURL is the websocket address for path.
func (s *Session) SocketURL(path string) string {
	u := *s.BaseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = ""
	return u.String()
}

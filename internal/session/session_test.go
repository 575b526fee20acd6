package session

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quartissimo/realtime/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, userID uint) string {
	t.Helper()
	token, err := middleware.SignToken("any-secret", userID, time.Hour)
	require.NoError(t, err)
	return token
}

func TestFileTokenStore(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "nested", "token")}

	_, err := store.Token()
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, store.Save("  abc.def.ghi \n"))
	token, err := store.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNew_ReadsUserIDFromToken(t *testing.T) {
	s, err := New("https://api.example.org/", StaticToken(signed(t, 42)), nil)
	require.NoError(t, err)

	assert.Equal(t, uint(42), s.UserID)
	assert.NotNil(t, s.HTTP)
	assert.Equal(t, "wss://api.example.org/api/socket.io", s.SocketURL("/api/socket.io"))
	assert.Equal(t, "https://api.example.org/messages?limit=100&page=1",
		s.URL("/messages", map[string][]string{"page": {"1"}, "limit": {"100"}}))
}

func TestNew_Rejects(t *testing.T) {
	_, err := New("http://localhost:8080", StaticToken(""), nil)
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = New("http://localhost:8080", StaticToken("garbage"), nil)
	assert.Error(t, err)

	_, err = New("ftp://localhost", StaticToken(signed(t, 1)), nil)
	assert.Error(t, err)
}

func TestAuthorize_ReadsTokenEachTime(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "token")}
	require.NoError(t, store.Save(signed(t, 7)))
	s, err := New("http://localhost:8080", store, nil)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/messages", nil)
	require.NoError(t, s.Authorize(req))
	first := req.Header.Get("Authorization")

	rotated := signed(t, 7) + "x"
	require.NoError(t, store.Save(rotated))
	require.NoError(t, s.Authorize(req))
	assert.NotEqual(t, first, req.Header.Get("Authorization"))
	assert.Equal(t, "Bearer "+rotated, req.Header.Get("Authorization"))
}

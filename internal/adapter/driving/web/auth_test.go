package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	logins map[string]string
	calls  atomic.Int32
}

func (f *fakeResolver) ViewerLogin(_ context.Context, token string) (string, error) {
	f.calls.Add(1)
	if login, ok := f.logins[token]; ok {
		return login, nil
	}
	return "", errors.New("bad credentials")
}

func TestAuthenticator_Identify(t *testing.T) {
	resolver := &fakeResolver{logins: map[string]string{"t1": "alice", "t2": "carol"}}
	auth := NewAuthenticator(resolver, nil)

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer t1")

		id, err := auth.Identify(req)
		require.NoError(t, err)
		assert.Equal(t, "alice", id.Sponsor.Login)
		assert.Equal(t, "t1", id.Sponsor.AccessToken)
		assert.False(t, id.FromCookie)
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: "t2"})

		id, err := auth.Identify(req)
		require.NoError(t, err)
		assert.Equal(t, "carol", id.Sponsor.Login)
		assert.True(t, id.FromCookie)
	})

	t.Run("bearer wins over cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer t1")
		req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: "t2"})

		id, err := auth.Identify(req)
		require.NoError(t, err)
		assert.Equal(t, "alice", id.Sponsor.Login)
		assert.False(t, id.FromCookie)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := auth.Identify(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("unknown token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")

		_, err := auth.Identify(req)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestAuthenticator_CachesLogins(t *testing.T) {
	resolver := &fakeResolver{logins: map[string]string{"t1": "alice"}}
	auth := NewAuthenticator(resolver, nil)

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer t1")
		_, err := auth.Identify(req)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), resolver.calls.Load())

	// Failures are not cached.
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		_, _ = auth.Identify(req)
	}
	assert.Equal(t, int32(3), resolver.calls.Load())
}

func TestAuthenticator_Allowlist(t *testing.T) {
	resolver := &fakeResolver{logins: map[string]string{"t1": "Alice", "t2": "carol"}}
	auth := NewAuthenticator(resolver, []string{" alice "})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t1")
	_, err := auth.Identify(req)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t2")
	_, err = auth.Identify(req)
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestCSRF(t *testing.T) {
	rec := httptest.NewRecorder()
	token := csrfToken(rec, httptest.NewRequest(http.MethodGet, "/", nil), false)
	require.Len(t, token, csrfTokenBytes*2)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), csrfCookieName+"="+token)
	assert.NotContains(t, rec.Header().Get("Set-Cookie"), "Secure")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
	assert.Equal(t, token, csrfToken(httptest.NewRecorder(), req, false))

	req.Header.Set("X-CSRF-Token", token)
	assert.True(t, validateCSRF(req))

	req.Header.Set("X-CSRF-Token", "other")
	assert.False(t, validateCSRF(req))

	assert.False(t, validateCSRF(httptest.NewRequest(http.MethodPost, "/", nil)))
}

func TestCSRFCookieSecure(t *testing.T) {
	rec := httptest.NewRecorder()
	csrfToken(rec, httptest.NewRequest(http.MethodGet, "http://example.com/", nil), true)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.True(t, rec.Result().Cookies()[0].Secure)

	rec = httptest.NewRecorder()
	csrfToken(rec, httptest.NewRequest(http.MethodGet, "https://example.com/", nil), false)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.True(t, rec.Result().Cookies()[0].Secure)
}

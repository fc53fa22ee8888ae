package web

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

const (
	tokenCookieName = "gh_token"
	loginCacheTTL   = 5 * time.Minute
	loginCacheSize  = 1024
)

var (
	// ErrUnauthenticated is returned when the request carries no token or the
	// token does not resolve to a GitHub login.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrNotAllowed is returned when the login is outside the allowlist.
	ErrNotAllowed = errors.New("user is not allowed to allocate")
)

// LoginResolver resolves a user access token to its GitHub login. The GitHub
// gateway satisfies it.
type LoginResolver interface {
	ViewerLogin(ctx context.Context, userToken string) (string, error)
}

// Identity is the authenticated requester.
type Identity struct {
	Sponsor model.Sponsor
	// FromCookie is set when the token came from the session cookie, in which
	// case state-changing requests need a CSRF token.
	FromCookie bool
}

// Authenticator resolves request tokens to sponsors. Resolved logins are
// cached by token digest so raw tokens never become cache keys.
type Authenticator struct {
	resolver LoginResolver
	allowed  map[string]bool
	cache    *expirable.LRU[string, string]
	group    singleflight.Group
}

// NewAuthenticator creates an Authenticator. An empty allowlist admits every
// GitHub user.
func NewAuthenticator(resolver LoginResolver, allowedUsers []string) *Authenticator {
	a := &Authenticator{
		resolver: resolver,
		cache:    expirable.NewLRU[string, string](loginCacheSize, nil, loginCacheTTL),
	}
	if len(allowedUsers) > 0 {
		a.allowed = make(map[string]bool, len(allowedUsers))
		for _, u := range allowedUsers {
			a.allowed[strings.ToLower(strings.TrimSpace(u))] = true
		}
	}
	return a
}

// Identify returns the requester's identity. Bearer tokens take precedence
// over the session cookie.
func (a *Authenticator) Identify(r *http.Request) (*Identity, error) {
	token, fromCookie := requestToken(r)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	login, err := a.login(r.Context(), token)
	if err != nil {
		return nil, err
	}

	if a.allowed != nil && !a.allowed[strings.ToLower(login)] {
		return nil, fmt.Errorf("%s: %w", login, ErrNotAllowed)
	}

	return &Identity{
		Sponsor:    model.Sponsor{Login: login, AccessToken: token},
		FromCookie: fromCookie,
	}, nil
}

func (a *Authenticator) login(ctx context.Context, token string) (string, error) {
	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:])

	if login, ok := a.cache.Get(key); ok {
		return login, nil
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		login, err := a.resolver.ViewerLogin(ctx, token)
		if err != nil {
			return "", err
		}
		a.cache.Add(key, login)
		return login, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolving token: %w: %w", ErrUnauthenticated, err)
	}
	return v.(string), nil
}

func requestToken(r *http.Request) (token string, fromCookie bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value), false
		}
	}
	if c, err := r.Cookie(tokenCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

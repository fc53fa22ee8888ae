package web_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqliteadapter "github.com/ericfisherdev/sponsoredissues/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/sponsoredissues/internal/adapter/driving/web"
	"github.com/ericfisherdev/sponsoredissues/internal/application"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

const testLabel = "sponsoredissues.org"

// --- Stub gateway ---

type stubGateway struct {
	mu          sync.Mutex
	logins      map[string]string // token -> login
	loginCalls  int
	lifetime    int64
	lifetimeErr error
}

var _ driven.GitHubGateway = (*stubGateway)(nil)

func (g *stubGateway) InstallationToken(context.Context, int64) (string, error) {
	return "", driven.ErrNotConfigured
}

func (g *stubGateway) ListInstallations(context.Context, int64) ([]model.Installation, error) {
	return nil, nil
}

func (g *stubGateway) FetchRepositoryPage(context.Context, string, string, string, string, int) (model.RepositoryPage, error) {
	return model.RepositoryPage{}, driven.ErrNotConfigured
}

func (g *stubGateway) FetchIssue(context.Context, model.IssueRef) (model.Issue, error) {
	return model.Issue{}, driven.ErrIssueNotFound
}

func (g *stubGateway) ResourceExists(context.Context, model.ResourceKind, string) (bool, error) {
	return true, nil
}

func (g *stubGateway) HasSponsorsProfile(context.Context, string) (bool, error) {
	return true, nil
}

func (g *stubGateway) LifetimeSponsorshipCents(context.Context, string, string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lifetime, g.lifetimeErr
}

func (g *stubGateway) ViewerLogin(_ context.Context, token string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loginCalls++
	login, ok := g.logins[token]
	if !ok {
		return "", errors.New("401 Bad credentials")
	}
	return login, nil
}

// --- Test env ---

type testEnv struct {
	server  http.Handler
	gateway *stubGateway
	catalog *application.CatalogService
	ledger  *application.LedgerService
}

func newTestEnv(t *testing.T, allowedUsers ...string) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := sqliteadapter.NewDB(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqliteadapter.RunMigrations(db.Writer))

	gw := &stubGateway{
		logins:   map[string]string{"alice-token": "alice", "bob-token": "bob", "mallory-token": "mallory"},
		lifetime: 2_000,
	}
	issues := sqliteadapter.NewIssueRepo(db)
	catalog := application.NewCatalogService(issues, gw, testLabel)
	ledger := application.NewLedgerService(sqliteadapter.NewAllocationRepo(db), gw)
	stats := application.NewStatsService(issues, ledger)
	auth := web.NewAuthenticator(gw, allowedUsers)

	mux := http.NewServeMux()
	web.RegisterRoutes(mux, web.NewHandler(stats, ledger, auth, model.PaymentSandbox, false, slog.New(slog.DiscardHandler)))

	return &testEnv{server: mux, gateway: gw, catalog: catalog, ledger: ledger}
}

func (e *testEnv) seedIssue(t *testing.T, owner, repo string, number int, title string) model.IssueRef {
	t.Helper()
	snapshot := model.IssueSnapshot{
		Number: number,
		Title:  title,
		Body:   "Please **fix** this",
		State:  model.IssueStateOpen,
		URL:    fmt.Sprintf("https://github.com/%s/%s/issues/%d", owner, repo, number),
		Labels: []model.Label{{Name: testLabel, Color: "ededed"}},
		User:   model.IssueUser{Login: owner},
	}
	_, err := e.catalog.ApplyIssueEvent(context.Background(), "opened", snapshot)
	require.NoError(t, err)
	return model.IssueRef{Owner: owner, Repo: repo, Number: number}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func allocationRequest(ref model.IssueRef, form url.Values) *http.Request {
	path := fmt.Sprintf("/%s/%s/issues/%d/allocation", ref.Owner, ref.Repo, ref.Number)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func allocatedCents(t *testing.T, env *testEnv, sponsor, recipient string) int64 {
	t.Helper()
	balance, err := env.ledger.Balance(context.Background(), model.Sponsor{Login: sponsor, AccessToken: "x"}, recipient)
	require.NoError(t, err)
	return balance.AllocatedCents
}

// --- Pages ---

func TestHome(t *testing.T) {
	env := newTestEnv(t)
	ref := env.seedIssue(t, "bob", "tool", 1, "Crash on start")
	_, err := env.ledger.SetAllocation(context.Background(), model.Sponsor{Login: "alice", AccessToken: "t"}, "bob", ref, 1635)
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "Crash on start")
	assert.Contains(t, body, "$16.35")
	assert.Contains(t, body, `href="/bob/tool/issues/1"`)
	assert.Contains(t, body, "sandbox")
}

func TestOwnerAndRepositoryPages(t *testing.T) {
	env := newTestEnv(t)
	env.seedIssue(t, "bob", "tool", 1, "Tool issue")
	env.seedIssue(t, "bob", "cli", 2, "CLI issue")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/bob", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Tool issue")
	assert.Contains(t, rec.Body.String(), "CLI issue")
	assert.NotContains(t, rec.Body.String(), "selected")

	rec = env.do(httptest.NewRequest(http.MethodGet, "/bob/cli", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), `class="issue-card selected"`))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/bad%20name", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssuePage_Form(t *testing.T) {
	env := newTestEnv(t)
	env.seedIssue(t, "bob", "tool", 1, "Crash on start")

	t.Run("anonymous sees no form", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/bob/tool/issues/1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "<strong>fix</strong>")
		assert.NotContains(t, rec.Body.String(), "donation_dollars")
	})

	t.Run("bearer session has no CSRF field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/bob/tool/issues/1", nil)
		req.Header.Set("Authorization", "Bearer alice-token")
		rec := env.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `name="donation_dollars"`)
		assert.NotContains(t, rec.Body.String(), `name="csrf_token"`)
		assert.Contains(t, rec.Body.String(), "$20.00")
	})

	t.Run("cookie session gets CSRF token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/bob/tool/issues/1", nil)
		req.AddCookie(&http.Cookie{Name: "gh_token", Value: "alice-token"})
		rec := env.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `name="csrf_token"`)
		assert.Contains(t, rec.Header().Get("Set-Cookie"), "csrf_token=")
	})

	t.Run("owner cannot fund own issue", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/bob/tool/issues/1", nil)
		req.Header.Set("Authorization", "Bearer bob-token")
		rec := env.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "donation_dollars")
	})

	t.Run("unknown issue is not sponsorable", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/bob/tool/issues/99", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "bob/tool#99 is not sponsorable")
		assert.Contains(t, rec.Body.String(), "Crash on start")
	})
}

func TestStaticStylesheet(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
}

// --- Allocation form ---

func TestAllocate_Bearer(t *testing.T) {
	env := newTestEnv(t)
	ref := env.seedIssue(t, "bob", "tool", 1, "Crash on start")

	req := allocationRequest(ref, url.Values{"donation_dollars": {"12.50"}})
	req.Header.Set("Authorization", "Bearer alice-token")
	rec := env.do(req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/bob/tool/issues/1", rec.Header().Get("Location"))
	assert.Equal(t, int64(1250), allocatedCents(t, env, "alice", "bob"))
}

func TestAllocate_CookieRequiresCSRF(t *testing.T) {
	env := newTestEnv(t)
	ref := env.seedIssue(t, "bob", "tool", 1, "Crash on start")

	req := allocationRequest(ref, url.Values{"donation_dollars": {"5"}})
	req.AddCookie(&http.Cookie{Name: "gh_token", Value: "alice-token"})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "expected"})
	rec := env.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, allocatedCents(t, env, "alice", "bob"))

	req = allocationRequest(ref, url.Values{"donation_dollars": {"5"}, "csrf_token": {"expected"}})
	req.AddCookie(&http.Cookie{Name: "gh_token", Value: "alice-token"})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "expected"})
	rec = env.do(req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, int64(500), allocatedCents(t, env, "alice", "bob"))
}

func TestAllocate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		issue      int
		dollars    string
		setup      func(env *testEnv)
		wantStatus int
		wantBody   string
	}{
		{name: "no credentials", issue: 1, dollars: "1", wantStatus: http.StatusUnauthorized},
		{name: "unknown token", token: "stolen", issue: 1, dollars: "1", wantStatus: http.StatusUnauthorized},
		{name: "invalid amount", token: "alice-token", issue: 1, dollars: "lots", wantStatus: http.StatusBadRequest},
		{name: "negative amount", token: "alice-token", issue: 1, dollars: "-1", wantStatus: http.StatusBadRequest},
		{name: "over balance", token: "alice-token", issue: 1, dollars: "20.01", wantStatus: http.StatusBadRequest, wantBody: "available $20.00"},
		{name: "self allocation", token: "bob-token", issue: 1, dollars: "1", wantStatus: http.StatusBadRequest},
		{name: "unknown issue", token: "alice-token", issue: 99, dollars: "1", wantStatus: http.StatusNotFound},
		{
			name: "balance lookup fails", token: "alice-token", issue: 1, dollars: "1",
			setup:      func(env *testEnv) { env.gateway.lifetimeErr = errors.New("graphql: 502") },
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.seedIssue(t, "bob", "tool", 1, "Crash on start")
			if tt.setup != nil {
				tt.setup(env)
			}

			ref := model.IssueRef{Owner: "bob", Repo: "tool", Number: tt.issue}
			req := allocationRequest(ref, url.Values{"donation_dollars": {tt.dollars}})
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := env.do(req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
			assert.Zero(t, allocatedCents(t, env, "alice", "bob"))
		})
	}
}

func TestAllocate_Allowlist(t *testing.T) {
	env := newTestEnv(t, "Alice")
	ref := env.seedIssue(t, "bob", "tool", 1, "Crash on start")

	req := allocationRequest(ref, url.Values{"donation_dollars": {"1"}})
	req.Header.Set("Authorization", "Bearer mallory-token")
	assert.Equal(t, http.StatusForbidden, env.do(req).Code)

	req = allocationRequest(ref, url.Values{"donation_dollars": {"1"}})
	req.Header.Set("Authorization", "Bearer alice-token")
	assert.Equal(t, http.StatusSeeOther, env.do(req).Code)
}

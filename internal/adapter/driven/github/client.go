// Package github implements the GitHubGateway port using go-github for REST and
// githubv4 for GraphQL.
package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GitHubGateway = (*Client)(nil)

const (
	defaultBaseURL    = "https://api.github.com/"
	defaultGraphQLURL = "https://api.github.com/graphql"
	defaultWebURL     = "https://github.com"

	// tokenRefreshMargin is how long before expiry a cached installation token
	// is considered stale.
	tokenRefreshMargin = 5 * time.Minute
)

// Options configures a Client.
type Options struct {
	AppID         int64
	PrivateKeyPEM string // PEM-encoded RSA key; literal "\n" sequences are accepted.
	Token         string // Optional token for REST existence checks and issue fetches.
	Timeout       time.Duration
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Client implements driven.GitHubGateway.
type Client struct {
	rest       *gh.Client // cache + rate-limit transport, no credentials attached.
	base       http.RoundTripper
	graphqlURL string
	webURL     string
	timeout    time.Duration

	appID      int64
	privateKey *rsa.PrivateKey
	token      string

	now func() time.Time

	mu     sync.Mutex
	tokens map[int64]cachedToken
}

// NewClient creates a gateway against the public GitHub endpoints with the
// following REST transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (primary and secondary rate limit handling)
//  3. go-github (REST client; credentials attached per call)
func NewClient(opts Options) (*Client, error) {
	return NewClientWithHTTPClient(&http.Client{}, defaultBaseURL, defaultGraphQLURL, defaultWebURL, opts)
}

// NewClientWithHTTPClient creates a Client whose requests go through httpClient's
// transport and the given endpoints. Tests point all three at an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, graphqlURL, webURL string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()
	cacheTransport.Transport = base
	rateLimited := github_ratelimit.NewClient(cacheTransport)
	rateLimited.Timeout = opts.Timeout

	rest := gh.NewClient(rateLimited)
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	rest.BaseURL = u

	c := &Client{
		rest:       rest,
		base:       base,
		graphqlURL: graphqlURL,
		webURL:     strings.TrimSuffix(webURL, "/"),
		timeout:    opts.Timeout,
		appID:      opts.AppID,
		token:      opts.Token,
		now:        time.Now,
		tokens:     make(map[int64]cachedToken),
	}

	if opts.AppID != 0 && opts.PrivateKeyPEM != "" {
		key, err := parsePrivateKey(opts.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		c.privateKey = key
	}

	return c, nil
}

// AppConfigured reports whether app id and private key are both present.
func (c *Client) AppConfigured() bool {
	return c.appID != 0 && c.privateKey != nil
}

// ListInstallations pages through the app's installations. Missing app
// credentials yield an empty list, not an error.
func (c *Client) ListInstallations(ctx context.Context, filterID int64) ([]model.Installation, error) {
	if !c.AppConfigured() {
		slog.Warn("github app credentials missing, no installations listed")
		return []model.Installation{}, nil
	}

	jwtToken, err := c.appJWT()
	if err != nil {
		return nil, err
	}
	client := c.rest.WithAuthToken(jwtToken)

	if filterID != 0 {
		inst, resp, err := client.Apps.GetInstallation(ctx, filterID)
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return []model.Installation{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("getting installation %d: %w", filterID, err)
		}
		return []model.Installation{mapInstallation(inst)}, nil
	}

	opts := &gh.ListOptions{PerPage: 100}
	installations := []model.Installation{}

	for {
		page, resp, err := client.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("listing installations (page %d): %w", opts.Page, err)
		}

		logRateLimit(resp, "app/installations", opts.Page, len(page))

		for _, inst := range page {
			installations = append(installations, mapInstallation(inst))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return installations, nil
}

// InstallationToken returns an installation access token, reusing a cached one
// until it is within tokenRefreshMargin of expiry.
func (c *Client) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	c.mu.Lock()
	cached, ok := c.tokens[installationID]
	c.mu.Unlock()
	if ok && c.now().Before(cached.expiresAt.Add(-tokenRefreshMargin)) {
		return cached.token, nil
	}

	jwtToken, err := c.appJWT()
	if err != nil {
		return "", err
	}

	tok, resp, err := c.rest.WithAuthToken(jwtToken).Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fmt.Errorf("creating installation token for %d: %w", installationID, err)
	}
	logRateLimit(resp, "app/installations/access_tokens", 0, 1)

	entry := cachedToken{token: tok.GetToken(), expiresAt: tok.GetExpiresAt().Time}
	c.mu.Lock()
	c.tokens[installationID] = entry
	c.mu.Unlock()

	return entry.token, nil
}

var (
	loginPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})$`)
	repoPattern  = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
)

// resourcePath maps a validation identifier to its REST path. Identifiers are
// "login", "owner/repo" and "owner/repo/number".
func resourcePath(kind model.ResourceKind, path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch kind {
	case model.ResourceUser:
		if len(parts) == 1 && loginPattern.MatchString(parts[0]) {
			return "users/" + parts[0], true
		}
	case model.ResourceRepo:
		if len(parts) == 2 && loginPattern.MatchString(parts[0]) && repoPattern.MatchString(parts[1]) {
			return "repos/" + parts[0] + "/" + parts[1], true
		}
	case model.ResourceIssue:
		if len(parts) == 4 && parts[2] == "issues" {
			parts = []string{parts[0], parts[1], parts[3]}
		}
		if len(parts) == 3 && loginPattern.MatchString(parts[0]) && repoPattern.MatchString(parts[1]) {
			if n, err := strconv.Atoi(parts[2]); err == nil && n > 0 {
				return fmt.Sprintf("repos/%s/%s/issues/%d", parts[0], parts[1], n), true
			}
		}
	}

	return "", false
}

// ResourceExists issues a GET against the resource and maps the status code.
// Malformed identifiers cannot exist and return false without a request.
func (c *Client) ResourceExists(ctx context.Context, kind model.ResourceKind, path string) (bool, error) {
	endpoint, ok := resourcePath(kind, path)
	if !ok {
		return false, nil
	}

	client, err := c.readClient(ctx)
	if err != nil {
		return false, err
	}

	req, err := client.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("building request for %s: %w", endpoint, err)
	}

	resp, err := client.Do(ctx, req, nil)
	if resp != nil {
		logRateLimit(resp, endpoint, 0, 1)

		switch resp.StatusCode {
		case http.StatusOK:
			return true, nil
		case http.StatusNotFound:
			return false, nil
		case http.StatusForbidden:
			slog.Warn("github resource check forbidden", "kind", kind, "path", path)
			return false, fmt.Errorf("%s %s: %w", kind, path, driven.ErrForbidden)
		}
	}
	if err == nil {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	slog.Error("github resource check failed", "kind", kind, "path", path, "error", err)
	return false, fmt.Errorf("checking %s %s: %w", kind, path, err)
}

// FetchIssue fetches one issue over REST and converts it to a catalog Issue.
func (c *Client) FetchIssue(ctx context.Context, ref model.IssueRef) (model.Issue, error) {
	client, err := c.readClient(ctx)
	if err != nil {
		return model.Issue{}, err
	}

	issue, resp, err := client.Issues.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return model.Issue{}, fmt.Errorf("%s: %w", ref, driven.ErrIssueNotFound)
	}
	if err != nil {
		return model.Issue{}, fmt.Errorf("fetching issue %s: %w", ref, err)
	}
	logRateLimit(resp, ref.String(), 0, 1)

	if issue.IsPullRequest() {
		return model.Issue{}, fmt.Errorf("%s: %w", ref, driven.ErrPullRequest)
	}

	return model.NewIssue(mapIssue(issue))
}

// ViewerLogin resolves a user token to its login via GET /user.
func (c *Client) ViewerLogin(ctx context.Context, userToken string) (string, error) {
	if userToken == "" {
		return "", driven.ErrMissingToken
	}

	user, _, err := c.rest.WithAuthToken(userToken).Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("resolving viewer: %w", err)
	}
	return user.GetLogin(), nil
}

// readClient returns a REST client authenticated with the fallback token, else
// with the first installation's token, else unauthenticated.
func (c *Client) readClient(ctx context.Context) (*gh.Client, error) {
	if c.token != "" {
		return c.rest.WithAuthToken(c.token), nil
	}
	if !c.AppConfigured() {
		return c.rest, nil
	}

	installations, err := c.ListInstallations(ctx, 0)
	if err != nil {
		return nil, err
	}
	if len(installations) == 0 {
		return c.rest, nil
	}

	token, err := c.InstallationToken(ctx, installations[0].ID)
	if err != nil {
		return nil, err
	}
	return c.rest.WithAuthToken(token), nil
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

func mapInstallation(inst *gh.Installation) model.Installation {
	return model.Installation{
		ID:           inst.GetID(),
		AccountLogin: inst.GetAccount().GetLogin(),
		AccountType:  inst.GetAccount().GetType(),
	}
}

// mapIssue converts a go-github Issue to a snapshot. It uses GetXxx() helpers
// exclusively to avoid nil pointer panics.
func mapIssue(issue *gh.Issue) model.IssueSnapshot {
	labels := make([]model.Label, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, model.Label{Name: l.GetName(), Color: l.GetColor()})
	}

	return model.IssueSnapshot{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     model.ParseIssueState(issue.GetState()),
		URL:       issue.GetHTMLURL(),
		Labels:    labels,
		User:      model.IssueUser{Login: issue.GetUser().GetLogin()},
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
}

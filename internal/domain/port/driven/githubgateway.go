package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

var (
	// ErrForbidden is returned when GitHub answers 403: the resource is private or
	// the caller is rate limited.
	ErrForbidden = errors.New("github: forbidden")

	// ErrNotConfigured is returned by app-authenticated operations when the GitHub
	// App id or private key is missing.
	ErrNotConfigured = errors.New("github app credentials not configured")

	// ErrPullRequest is returned by FetchIssue when the number refers to a pull request.
	ErrPullRequest = errors.New("github: number refers to a pull request")

	// ErrMissingToken is returned when a user-scoped call is made without a token.
	ErrMissingToken = errors.New("github: missing user access token")
)

// GitHubGateway defines the driven port for every call the system makes to GitHub.
// Implementations must apply a timeout to each outbound request.
type GitHubGateway interface {
	// App-scoped

	// InstallationToken exchanges a freshly signed app assertion for an
	// installation-scoped access token.
	InstallationToken(ctx context.Context, installationID int64) (string, error)
	// ListInstallations enumerates app installations. A non-zero filterID limits
	// the result to that installation. Returns an empty slice without error when
	// app credentials are absent.
	ListInstallations(ctx context.Context, filterID int64) ([]model.Installation, error)
	// FetchRepositoryPage returns one page of the account's public repositories,
	// most recently updated first, with their issues carrying label in both open
	// and closed states.
	FetchRepositoryPage(ctx context.Context, installationToken, account, label, cursor string, pageSize int) (model.RepositoryPage, error)
	// FetchIssue fetches a single issue over REST. Returns ErrIssueNotFound on 404
	// and ErrPullRequest when the number refers to a pull request.
	FetchIssue(ctx context.Context, ref model.IssueRef) (model.Issue, error)

	// Existence checks

	// ResourceExists maps 200 to true and 404 to false. A 403 yields ErrForbidden;
	// any other status or transport failure yields a non-nil error.
	ResourceExists(ctx context.Context, kind model.ResourceKind, path string) (bool, error)
	// HasSponsorsProfile probes the public sponsors page without following redirects.
	HasSponsorsProfile(ctx context.Context, login string) (bool, error)

	// User-scoped

	// LifetimeSponsorshipCents returns the cumulative amount the token's owner has
	// sponsored recipient, in cents.
	LifetimeSponsorshipCents(ctx context.Context, userToken, recipient string) (int64, error)
	// ViewerLogin resolves a user access token to the GitHub login it belongs to.
	ViewerLogin(ctx context.Context, userToken string) (string, error)
}

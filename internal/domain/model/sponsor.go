package model

// Sponsor is the authenticated user placing allocations. AccessToken is the
// user's GitHub OAuth token, used only for the lifetime sponsorship query.
type Sponsor struct {
	Login       string
	AccessToken string
}

// Installation is a GitHub App installation on a user or organization account.
type Installation struct {
	ID           int64
	AccountLogin string
	AccountType  string
}

// RepositoryPage is one page of an account's public repositories, flattened to
// the labeled issues they contain.
type RepositoryPage struct {
	Issues       []Issue
	Repositories int
	HasNextPage  bool
	EndCursor    string
}

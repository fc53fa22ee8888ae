// Package viewmodel defines presentation-ready structs for templ components.
// View models decouple template rendering from domain model types.
package viewmodel

// LabelViewModel is one issue label with its hex color.
type LabelViewModel struct {
	Name  string
	Color string
}

// IssueCardViewModel holds presentation-ready data for an issue row.
type IssueCardViewModel struct {
	Rank         int
	URL          string
	DetailPath   string
	Repository   string
	Number       int
	Title        string
	Author       string
	State        string
	Labels       []LabelViewModel
	Funding      string // Dollars, e.g. "16.35".
	SponsorCount int
	ViewerAmount string // Viewer's own allocation; empty when none.
	Selected     bool
}

// TrendingViewModel is an issue card with its trending figures.
type TrendingViewModel struct {
	IssueCardViewModel

	RecentFunding        string
	RecentSponsorCount   int
	DaysSinceLastFunding int
}

// StatsViewModel holds the global funding summary.
type StatsViewModel struct {
	TotalFunded        string
	FundedRepositories int
	ResolvedIssues     int
	AvgResolved        string
}

// BalanceViewModel is the viewer's position toward the owner.
type BalanceViewModel struct {
	Lifetime    string
	Allocated   string
	Unallocated string
}

// ViewerViewModel describes the signed-in user, if any.
type ViewerViewModel struct {
	Login     string
	CSRFToken string // Set only for cookie sessions.
}

// HomeViewModel is the landing page.
type HomeViewModel struct {
	Stats    StatsViewModel
	Trending []TrendingViewModel
}

// OwnerViewModel is the owner and repository listing page.
type OwnerViewModel struct {
	Owner      string
	Repository string
	Issues     []IssueCardViewModel
	Balance    *BalanceViewModel
}

// IssueViewModel is the single issue page with the allocation form.
type IssueViewModel struct {
	Owner          string
	Repository     string
	Number         int
	NotSponsorable bool
	Issue          *IssueCardViewModel
	BodyHTML       string // Sanitized.
	Others         []IssueCardViewModel
	Balance        *BalanceViewModel
	CanAllocate    bool
	ActionPath     string
}

// PageViewModel wraps every page with layout data.
type PageViewModel struct {
	Title       string
	Viewer      *ViewerViewModel
	PaymentMode string
}

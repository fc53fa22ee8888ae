package model

import "time"

// FundedIssue pairs a catalog issue with its active allocations. It is the input
// to every read-side aggregation.
type FundedIssue struct {
	Issue       Issue
	Allocations []Allocation
}

// IssueFunding is the per-issue funding rollup.
type IssueFunding struct {
	TotalCents   int64
	SponsorCount int
}

// TrendingIssue is a ranked entry of the trending view. It is never persisted.
type TrendingIssue struct {
	Issue                Issue
	Score                float64
	RecentFundingCents   int64
	RecentSponsorCount   int
	TotalFundingCents    int64
	TotalSponsorCount    int
	DaysSinceLastFunding int
	MostRecentAllocation time.Time
}

// GlobalStats summarizes funding across the whole catalog.
type GlobalStats struct {
	TotalFundedCents   int64
	FundedRepositories int
	ResolvedIssues     int
	AvgResolvedCents   int64
}

// OwnerIssue is one row of an owner's issue listing.
type OwnerIssue struct {
	Rank        int
	Issue       Issue
	Funding     IssueFunding
	ViewerCents int64
	Selected    bool
}

// OwnerListing is an owner's sponsorable issues, ranked by funding.
type OwnerListing struct {
	Owner          string
	Repo           string
	Issues         []OwnerIssue
	Focus          *IssueRef // Issue requested explicitly, if any.
	NotSponsorable bool      // Focus issue is absent from the catalog.
	Balance        *Balance  // Viewer's balance toward Owner; nil when anonymous.
}

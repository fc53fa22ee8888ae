package application

import (
	"sort"
	"strings"
	"time"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

const (
	// TrendingWindow bounds the allocations that count as recent funding.
	TrendingWindow = 14 * 24 * time.Hour

	// DefaultTrendingLimit is the number of trending issues returned when no
	// limit is requested.
	DefaultTrendingLimit = 10

	trendingSponsorWeight = 50
	trendingDailyDecay    = 10
)

// IssueFundingOf sums allocations and counts distinct sponsors.
func IssueFundingOf(allocations []model.Allocation) model.IssueFunding {
	var f model.IssueFunding
	sponsors := make(map[string]struct{}, len(allocations))
	for _, a := range allocations {
		f.TotalCents += a.Cents
		sponsors[strings.ToLower(a.SponsorLogin)] = struct{}{}
	}
	f.SponsorCount = len(sponsors)
	return f
}

// ComputeTrending scores open issues that have at least one allocation:
//
//	score = recent cents + 50 × recent distinct sponsors − 10 × days since the newest allocation
//
// Recent means created within TrendingWindow of now. Results are sorted by
// score, highest first, keeping input order for ties, and truncated to limit.
func ComputeTrending(issues []model.FundedIssue, now time.Time, limit int) []model.TrendingIssue {
	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	windowStart := now.Add(-TrendingWindow)

	trending := []model.TrendingIssue{}
	for _, fi := range issues {
		if fi.Issue.State() != model.IssueStateOpen || len(fi.Allocations) == 0 {
			continue
		}

		var recentCents int64
		recentSponsors := map[string]struct{}{}
		var latest time.Time
		for _, a := range fi.Allocations {
			if !a.CreatedAt.Before(windowStart) {
				recentCents += a.Cents
				recentSponsors[strings.ToLower(a.SponsorLogin)] = struct{}{}
			}
			if a.CreatedAt.After(latest) {
				latest = a.CreatedAt
			}
		}

		days := max(int(now.Sub(latest)/(24*time.Hour)), 0)
		score := float64(recentCents) +
			float64(len(recentSponsors))*trendingSponsorWeight -
			float64(days)*trendingDailyDecay

		total := IssueFundingOf(fi.Allocations)
		trending = append(trending, model.TrendingIssue{
			Issue:                fi.Issue,
			Score:                score,
			RecentFundingCents:   recentCents,
			RecentSponsorCount:   len(recentSponsors),
			TotalFundingCents:    total.TotalCents,
			TotalSponsorCount:    total.SponsorCount,
			DaysSinceLastFunding: days,
			MostRecentAllocation: latest,
		})
	}

	sort.SliceStable(trending, func(i, j int) bool {
		return trending[i].Score > trending[j].Score
	})

	if len(trending) > limit {
		trending = trending[:limit]
	}
	return trending
}

// ComputeGlobalStats summarizes funded issues. A resolved issue is a closed
// one with funding; its average is truncated to whole cents.
func ComputeGlobalStats(issues []model.FundedIssue) model.GlobalStats {
	var stats model.GlobalStats
	repos := map[string]struct{}{}
	var resolvedCents int64

	for _, fi := range issues {
		if len(fi.Allocations) == 0 {
			continue
		}
		funding := IssueFundingOf(fi.Allocations)
		stats.TotalFundedCents += funding.TotalCents
		repos[strings.ToLower(fi.Issue.Ref.RepoFullName())] = struct{}{}

		if fi.Issue.State() == model.IssueStateClosed {
			stats.ResolvedIssues++
			resolvedCents += funding.TotalCents
		}
	}

	stats.FundedRepositories = len(repos)
	if stats.ResolvedIssues > 0 {
		stats.AvgResolvedCents = resolvedCents / int64(stats.ResolvedIssues)
	}
	return stats
}

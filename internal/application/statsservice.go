package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

// OwnerQuery selects an owner's issue listing. Repo and Number narrow the
// highlighted selection; Viewer adds the viewer's own allocations and balance.
type OwnerQuery struct {
	Owner  string
	Repo   string
	Number int
	Viewer *model.Sponsor
}

// StatsService computes read-only views over the catalog and the ledger. Every
// call recomputes from storage.
type StatsService struct {
	issues driven.IssueStore
	ledger *LedgerService
	now    func() time.Time
}

// NewStatsService creates a StatsService. ledger may be nil, in which case owner
// listings carry no balance.
func NewStatsService(issues driven.IssueStore, ledger *LedgerService) *StatsService {
	return &StatsService{
		issues: issues,
		ledger: ledger,
		now:    time.Now,
	}
}

// GlobalStats returns totals across every funded issue.
func (s *StatsService) GlobalStats(ctx context.Context) (model.GlobalStats, error) {
	funded, err := s.issues.ListWithAllocations(ctx, driven.IssueFilter{FundedOnly: true})
	if err != nil {
		return model.GlobalStats{}, fmt.Errorf("listing funded issues: %w", err)
	}
	return ComputeGlobalStats(funded), nil
}

// Trending returns up to limit trending issues.
func (s *StatsService) Trending(ctx context.Context, limit int) ([]model.TrendingIssue, error) {
	funded, err := s.issues.ListWithAllocations(ctx, driven.IssueFilter{FundedOnly: true, OpenOnly: true})
	if err != nil {
		return nil, fmt.Errorf("listing funded issues: %w", err)
	}
	return ComputeTrending(funded, s.now(), limit), nil
}

// OwnerIssues lists an owner's open catalog issues ranked by total funding.
func (s *StatsService) OwnerIssues(ctx context.Context, q OwnerQuery) (model.OwnerListing, error) {
	listing := model.OwnerListing{Owner: q.Owner, Repo: q.Repo, Issues: []model.OwnerIssue{}}

	issues, err := s.issues.ListWithAllocations(ctx, driven.IssueFilter{Owner: q.Owner, OpenOnly: true})
	if err != nil {
		return listing, fmt.Errorf("listing issues of %s: %w", q.Owner, err)
	}

	if q.Repo != "" && q.Number > 0 {
		listing.Focus = &model.IssueRef{Owner: q.Owner, Repo: q.Repo, Number: q.Number}
		listing.NotSponsorable = true
	}

	for _, fi := range issues {
		row := model.OwnerIssue{
			Issue:   fi.Issue,
			Funding: IssueFundingOf(fi.Allocations),
		}

		if q.Viewer != nil {
			for _, a := range fi.Allocations {
				if strings.EqualFold(a.SponsorLogin, q.Viewer.Login) {
					row.ViewerCents += a.Cents
				}
			}
		}

		sameRepo := q.Repo != "" && strings.EqualFold(fi.Issue.Ref.Repo, q.Repo)
		switch {
		case listing.Focus != nil:
			row.Selected = sameRepo && fi.Issue.Ref.Number == q.Number
			if row.Selected {
				listing.NotSponsorable = false
			}
		default:
			row.Selected = sameRepo
		}

		listing.Issues = append(listing.Issues, row)
	}

	sort.SliceStable(listing.Issues, func(i, j int) bool {
		return listing.Issues[i].Funding.TotalCents > listing.Issues[j].Funding.TotalCents
	})
	for i := range listing.Issues {
		listing.Issues[i].Rank = i + 1
	}

	if q.Viewer != nil && s.ledger != nil && !strings.EqualFold(q.Viewer.Login, q.Owner) {
		balance, err := s.ledger.Balance(ctx, *q.Viewer, q.Owner)
		if err != nil {
			return listing, err
		}
		listing.Balance = &balance
	}

	return listing, nil
}

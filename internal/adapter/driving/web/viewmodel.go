package web

import (
	"fmt"
	"strings"

	vm "github.com/ericfisherdev/sponsoredissues/internal/adapter/driving/web/viewmodel"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

// issuePath is the page path of an issue, mirroring its GitHub URL.
func issuePath(ref model.IssueRef) string {
	return fmt.Sprintf("/%s/%s/issues/%d", ref.Owner, ref.Repo, ref.Number)
}

func toLabelViewModels(labels []model.Label) []vm.LabelViewModel {
	out := make([]vm.LabelViewModel, 0, len(labels))
	for _, l := range labels {
		out = append(out, vm.LabelViewModel{Name: l.Name, Color: l.Color})
	}
	return out
}

// toIssueCardViewModel converts a catalog issue and its funding rollup.
func toIssueCardViewModel(issue model.Issue, funding model.IssueFunding) vm.IssueCardViewModel {
	return vm.IssueCardViewModel{
		URL:          issue.URL,
		DetailPath:   issuePath(issue.Ref),
		Repository:   issue.Ref.RepoFullName(),
		Number:       issue.Ref.Number,
		Title:        issue.Snapshot.Title,
		Author:       issue.Snapshot.User.Login,
		State:        string(issue.State()),
		Labels:       toLabelViewModels(issue.Snapshot.Labels),
		Funding:      model.FormatCents(funding.TotalCents),
		SponsorCount: funding.SponsorCount,
	}
}

func toOwnerIssueViewModel(row model.OwnerIssue) vm.IssueCardViewModel {
	card := toIssueCardViewModel(row.Issue, row.Funding)
	card.Rank = row.Rank
	card.Selected = row.Selected
	if row.ViewerCents > 0 {
		card.ViewerAmount = model.FormatCents(row.ViewerCents)
	}
	return card
}

func toTrendingViewModel(t model.TrendingIssue) vm.TrendingViewModel {
	return vm.TrendingViewModel{
		IssueCardViewModel: toIssueCardViewModel(t.Issue, model.IssueFunding{
			TotalCents:   t.TotalFundingCents,
			SponsorCount: t.TotalSponsorCount,
		}),
		RecentFunding:        model.FormatCents(t.RecentFundingCents),
		RecentSponsorCount:   t.RecentSponsorCount,
		DaysSinceLastFunding: t.DaysSinceLastFunding,
	}
}

func toStatsViewModel(s model.GlobalStats) vm.StatsViewModel {
	return vm.StatsViewModel{
		TotalFunded:        model.FormatCents(s.TotalFundedCents),
		FundedRepositories: s.FundedRepositories,
		ResolvedIssues:     s.ResolvedIssues,
		AvgResolved:        model.FormatCents(s.AvgResolvedCents),
	}
}

func toBalanceViewModel(b *model.Balance) *vm.BalanceViewModel {
	if b == nil {
		return nil
	}
	return &vm.BalanceViewModel{
		Lifetime:    model.FormatCents(b.LifetimeCents),
		Allocated:   model.FormatCents(b.AllocatedCents),
		Unallocated: model.FormatCents(b.UnallocatedCents),
	}
}

func toHomeViewModel(stats model.GlobalStats, trending []model.TrendingIssue) vm.HomeViewModel {
	home := vm.HomeViewModel{
		Stats:    toStatsViewModel(stats),
		Trending: make([]vm.TrendingViewModel, 0, len(trending)),
	}
	for _, t := range trending {
		home.Trending = append(home.Trending, toTrendingViewModel(t))
	}
	return home
}

func toOwnerViewModel(l model.OwnerListing) vm.OwnerViewModel {
	page := vm.OwnerViewModel{
		Owner:      l.Owner,
		Repository: l.Repo,
		Issues:     make([]vm.IssueCardViewModel, 0, len(l.Issues)),
		Balance:    toBalanceViewModel(l.Balance),
	}
	for _, row := range l.Issues {
		page.Issues = append(page.Issues, toOwnerIssueViewModel(row))
	}
	return page
}

// toIssueViewModel splits the listing into the focused issue and the owner's
// other issues. Only a signed-in viewer other than the owner can allocate.
func toIssueViewModel(l model.OwnerListing, ref model.IssueRef, viewer *model.Sponsor) vm.IssueViewModel {
	page := vm.IssueViewModel{
		Owner:          l.Owner,
		Repository:     l.Repo,
		Number:         ref.Number,
		NotSponsorable: l.NotSponsorable,
		Others:         []vm.IssueCardViewModel{},
		Balance:        toBalanceViewModel(l.Balance),
		ActionPath:     issuePath(ref) + "/allocation",
	}

	for _, row := range l.Issues {
		card := toOwnerIssueViewModel(row)
		if row.Selected {
			page.Issue = &card
			page.BodyHTML = RenderMarkdown(row.Issue.Snapshot.Body)
			continue
		}
		page.Others = append(page.Others, card)
	}

	page.CanAllocate = page.Issue != nil && viewer != nil && !strings.EqualFold(viewer.Login, l.Owner)
	return page
}

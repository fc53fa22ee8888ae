package web

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	vm "github.com/ericfisherdev/sponsoredissues/internal/adapter/driving/web/viewmodel"
)

// htmlWriter writes markup and escaped text, keeping the first write error.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (hw *htmlWriter) raw(s string) {
	if hw.err != nil {
		return
	}
	_, hw.err = io.WriteString(hw.w, s)
}

func (hw *htmlWriter) text(s string) {
	hw.raw(templ.EscapeString(s))
}

func (hw *htmlWriter) num(n int) {
	hw.raw(strconv.Itoa(n))
}

func (hw *htmlWriter) render(ctx context.Context, c templ.Component) {
	if hw.err != nil {
		return
	}
	hw.err = c.Render(ctx, hw.w)
}

// Layout wraps body in the page shell.
func Layout(page vm.PageViewModel, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		hw.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		hw.raw(`<title>`)
		hw.text(page.Title)
		hw.raw(` | Sponsored Issues</title><link rel="stylesheet" href="/static/style.css"></head><body>`)

		hw.raw(`<header><a class="brand" href="/">Sponsored Issues</a>`)
		if page.PaymentMode != "" && page.PaymentMode != "live" {
			hw.raw(`<span class="badge mode">`)
			hw.text(page.PaymentMode)
			hw.raw(`</span>`)
		}
		if page.Viewer != nil {
			hw.raw(`<span class="viewer">Signed in as <strong>`)
			hw.text(page.Viewer.Login)
			hw.raw(`</strong></span>`)
		}
		hw.raw(`</header><main>`)
		hw.render(ctx, body)
		hw.raw(`</main></body></html>`)
		return hw.err
	})
}

// HomePage shows the global totals and the trending list.
func HomePage(home vm.HomeViewModel) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		s := home.Stats
		hw.raw(`<section class="stats"><dl>`)
		hw.raw(`<dt>Total funded</dt><dd>$`)
		hw.text(s.TotalFunded)
		hw.raw(`</dd><dt>Funded repositories</dt><dd>`)
		hw.num(s.FundedRepositories)
		hw.raw(`</dd><dt>Resolved issues</dt><dd>`)
		hw.num(s.ResolvedIssues)
		hw.raw(`</dd><dt>Average per resolved issue</dt><dd>$`)
		hw.text(s.AvgResolved)
		hw.raw(`</dd></dl></section>`)

		hw.raw(`<section class="trending"><h2>Trending issues</h2>`)
		if len(home.Trending) == 0 {
			hw.raw(`<p class="empty">No issues have been funded recently.</p>`)
		} else {
			hw.raw(`<ol>`)
			for _, t := range home.Trending {
				hw.raw(`<li>`)
				hw.render(ctx, issueCard(t.IssueCardViewModel))
				hw.raw(`<p class="recent">$`)
				hw.text(t.RecentFunding)
				hw.raw(` from `)
				hw.num(t.RecentSponsorCount)
				hw.raw(` sponsor(s) in the last two weeks</p></li>`)
			}
			hw.raw(`</ol>`)
		}
		hw.raw(`</section>`)
		return hw.err
	})
}

// OwnerPage lists an owner's sponsorable issues, ranked by funding.
func OwnerPage(page vm.OwnerViewModel) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw(`<h1><a href="/`)
		hw.text(page.Owner)
		hw.raw(`">`)
		hw.text(page.Owner)
		hw.raw(`</a>`)
		if page.Repository != "" {
			hw.raw(` / `)
			hw.text(page.Repository)
		}
		hw.raw(`</h1>`)
		hw.render(ctx, balancePanel(page.Balance))

		if len(page.Issues) == 0 {
			hw.raw(`<p class="empty">No sponsorable issues yet.</p>`)
			return hw.err
		}
		hw.raw(`<ol class="issues">`)
		for _, card := range page.Issues {
			hw.raw(`<li>`)
			hw.render(ctx, issueCard(card))
			hw.raw(`</li>`)
		}
		hw.raw(`</ol>`)
		return hw.err
	})
}

// IssuePage shows one issue with the allocation form, followed by the owner's
// other issues.
func IssuePage(page vm.IssueViewModel, viewer *vm.ViewerViewModel) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		if page.NotSponsorable || page.Issue == nil {
			hw.raw(`<p class="notice">`)
			hw.text(page.Owner + "/" + page.Repository + "#" + strconv.Itoa(page.Number))
			hw.raw(` is not sponsorable.</p>`)
		} else {
			issue := page.Issue
			hw.raw(`<article class="issue"><h1>`)
			hw.text(issue.Title)
			hw.raw(` <a href="`)
			hw.text(issue.URL)
			hw.raw(`">#`)
			hw.num(issue.Number)
			hw.raw(`</a></h1><p class="meta">`)
			hw.text(issue.Repository)
			hw.raw(` opened by `)
			hw.text(issue.Author)
			hw.raw(` · funded $`)
			hw.text(issue.Funding)
			hw.raw(` by `)
			hw.num(issue.SponsorCount)
			hw.raw(` sponsor(s)</p><div class="body">`)
			hw.raw(page.BodyHTML)
			hw.raw(`</div></article>`)

			hw.render(ctx, balancePanel(page.Balance))
			if page.CanAllocate {
				hw.render(ctx, allocationForm(page, viewer))
			}
		}

		if len(page.Others) > 0 {
			hw.raw(`<section><h2>More from `)
			hw.text(page.Owner)
			hw.raw(`</h2><ol class="issues">`)
			for _, card := range page.Others {
				hw.raw(`<li>`)
				hw.render(ctx, issueCard(card))
				hw.raw(`</li>`)
			}
			hw.raw(`</ol></section>`)
		}
		return hw.err
	})
}

func issueCard(card vm.IssueCardViewModel) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		class := "issue-card"
		if card.Selected {
			class += " selected"
		}
		hw.raw(`<div class="`)
		hw.raw(class)
		hw.raw(`">`)
		if card.Rank > 0 {
			hw.raw(`<span class="rank">`)
			hw.num(card.Rank)
			hw.raw(`</span>`)
		}
		hw.raw(`<a class="title" href="`)
		hw.text(card.DetailPath)
		hw.raw(`">`)
		hw.text(card.Title)
		hw.raw(`</a> <span class="repo">`)
		hw.text(card.Repository)
		hw.raw(`#`)
		hw.num(card.Number)
		hw.raw(`</span>`)
		for _, l := range card.Labels {
			hw.raw(`<span class="label" style="--label-color:#`)
			hw.text(l.Color)
			hw.raw(`">`)
			hw.text(l.Name)
			hw.raw(`</span>`)
		}
		hw.raw(`<span class="funding">$`)
		hw.text(card.Funding)
		hw.raw(`</span>`)
		if card.ViewerAmount != "" {
			hw.raw(`<span class="mine">you: $`)
			hw.text(card.ViewerAmount)
			hw.raw(`</span>`)
		}
		hw.raw(`</div>`)
		return hw.err
	})
}

func balancePanel(b *vm.BalanceViewModel) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if b == nil {
			return nil
		}
		hw := &htmlWriter{w: w}
		hw.raw(`<aside class="balance"><dl><dt>Sponsored</dt><dd>$`)
		hw.text(b.Lifetime)
		hw.raw(`</dd><dt>Allocated</dt><dd>$`)
		hw.text(b.Allocated)
		hw.raw(`</dd><dt>Available</dt><dd>$`)
		hw.text(b.Unallocated)
		hw.raw(`</dd></dl></aside>`)
		return hw.err
	})
}

func allocationForm(page vm.IssueViewModel, viewer *vm.ViewerViewModel) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		current := "0.00"
		if page.Issue.ViewerAmount != "" {
			current = page.Issue.ViewerAmount
		}
		hw.raw(`<form class="allocate" method="post" action="`)
		hw.text(page.ActionPath)
		hw.raw(`">`)
		if viewer != nil && viewer.CSRFToken != "" {
			hw.raw(`<input type="hidden" name="`)
			hw.raw(csrfFormField)
			hw.raw(`" value="`)
			hw.text(viewer.CSRFToken)
			hw.raw(`">`)
		}
		hw.raw(`<label for="donation_dollars">Your allocation (USD)</label>`)
		hw.raw(`<input id="donation_dollars" name="donation_dollars" inputmode="decimal" value="`)
		hw.text(current)
		hw.raw(`"><button type="submit">Save</button></form>`)
		return hw.err
	})
}

// ErrorPage renders a short message for failed requests.
func ErrorPage(message string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw(`<p class="error">`)
		hw.text(message)
		hw.raw(`</p><p><a href="/">Home</a></p>`)
		return hw.err
	})
}

package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/sponsoredissues/internal/adapter/driving/web"
	"github.com/ericfisherdev/sponsoredissues/internal/application"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check.
type HealthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	GitHubApp   string `json:"github_app"`
	PaymentMode string `json:"payment_mode"`
	Time        string `json:"time"`
}

// WebhookResponse acknowledges a processed or ignored delivery.
type WebhookResponse struct {
	Status string `json:"status"`
	Change string `json:"change,omitempty"`
}

// LabelResponse is the JSON representation of an issue label.
type LabelResponse struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// IssueResponse is the JSON representation of a catalog issue.
type IssueResponse struct {
	URL        string          `json:"url"`
	Owner      string          `json:"owner"`
	Repository string          `json:"repository"`
	Number     int             `json:"number"`
	Title      string          `json:"title"`
	State      string          `json:"state"`
	Author     string          `json:"author"`
	Labels     []LabelResponse `json:"labels"`
	BodyHTML   string          `json:"body_html"`
	OpenedAt   string          `json:"opened_at,omitempty"`
	UpdatedAt  string          `json:"updated_at,omitempty"`
}

// StatsResponse is the JSON representation of global funding stats.
type StatsResponse struct {
	TotalFundedCents   int64  `json:"total_funded_cents"`
	TotalFunded        string `json:"total_funded"`
	FundedRepositories int    `json:"funded_repositories"`
	ResolvedIssues     int    `json:"resolved_issues"`
	AvgResolvedCents   int64  `json:"avg_resolved_cents"`
}

// TrendingResponse is one entry of the trending list.
type TrendingResponse struct {
	Issue                IssueResponse `json:"issue"`
	Score                float64       `json:"score"`
	RecentFundingCents   int64         `json:"recent_funding_cents"`
	RecentSponsorCount   int           `json:"recent_sponsor_count"`
	TotalFundingCents    int64         `json:"total_funding_cents"`
	TotalSponsorCount    int           `json:"total_sponsor_count"`
	DaysSinceLastFunding int           `json:"days_since_last_funding"`
}

// OwnerIssueResponse is one ranked row of an owner listing.
type OwnerIssueResponse struct {
	Rank         int           `json:"rank"`
	Issue        IssueResponse `json:"issue"`
	FundingCents int64         `json:"funding_cents"`
	SponsorCount int           `json:"sponsor_count"`
	Selected     bool          `json:"selected"`
}

// OwnerIssuesResponse is the JSON representation of an owner listing.
type OwnerIssuesResponse struct {
	Owner          string               `json:"owner"`
	Repository     string               `json:"repository,omitempty"`
	NotSponsorable bool                 `json:"not_sponsorable"`
	Issues         []OwnerIssueResponse `json:"issues"`
}

// ValidateResponse is the answer of an existence check.
type ValidateResponse struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
	Exists     bool   `json:"exists"`
}

func toHealthResponse(r application.HealthReport) HealthResponse {
	return HealthResponse{
		Status:      r.Status,
		Database:    r.Database,
		GitHubApp:   r.GitHubApp,
		PaymentMode: string(r.PaymentMode),
		Time:        r.CheckedAt.Format(time.RFC3339),
	}
}

func toIssueResponse(issue model.Issue) IssueResponse {
	s := issue.Snapshot
	labels := make([]LabelResponse, 0, len(s.Labels))
	for _, l := range s.Labels {
		labels = append(labels, LabelResponse{Name: l.Name, Color: l.Color})
	}

	resp := IssueResponse{
		URL:        issue.URL,
		Owner:      issue.Ref.Owner,
		Repository: issue.Ref.RepoFullName(),
		Number:     issue.Ref.Number,
		Title:      s.Title,
		State:      string(s.State),
		Author:     s.User.Login,
		Labels:     labels,
		BodyHTML:   web.RenderMarkdown(s.Body),
	}
	if !s.CreatedAt.IsZero() {
		resp.OpenedAt = s.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func toStatsResponse(s model.GlobalStats) StatsResponse {
	return StatsResponse{
		TotalFundedCents:   s.TotalFundedCents,
		TotalFunded:        model.FormatCents(s.TotalFundedCents),
		FundedRepositories: s.FundedRepositories,
		ResolvedIssues:     s.ResolvedIssues,
		AvgResolvedCents:   s.AvgResolvedCents,
	}
}

func toTrendingResponse(t model.TrendingIssue) TrendingResponse {
	return TrendingResponse{
		Issue:                toIssueResponse(t.Issue),
		Score:                t.Score,
		RecentFundingCents:   t.RecentFundingCents,
		RecentSponsorCount:   t.RecentSponsorCount,
		TotalFundingCents:    t.TotalFundingCents,
		TotalSponsorCount:    t.TotalSponsorCount,
		DaysSinceLastFunding: t.DaysSinceLastFunding,
	}
}

func toOwnerIssuesResponse(l model.OwnerListing) OwnerIssuesResponse {
	resp := OwnerIssuesResponse{
		Owner:          l.Owner,
		Repository:     l.Repo,
		NotSponsorable: l.NotSponsorable,
		Issues:         make([]OwnerIssueResponse, 0, len(l.Issues)),
	}
	for _, row := range l.Issues {
		resp.Issues = append(resp.Issues, OwnerIssueResponse{
			Rank:         row.Rank,
			Issue:        toIssueResponse(row.Issue),
			FundingCents: row.Funding.TotalCents,
			SponsorCount: row.Funding.SponsorCount,
			Selected:     row.Selected,
		})
	}
	return resp
}

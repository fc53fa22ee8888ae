package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

// issueNode is the GraphQL shape of an issue, mirrored into IssueSnapshot.
type issueNode struct {
	Number    githubv4.Int
	Title     githubv4.String
	Body      githubv4.String
	State     githubv4.IssueState
	URL       githubv4.String
	CreatedAt githubv4.DateTime
	UpdatedAt githubv4.DateTime
	Labels    struct {
		Nodes []struct {
			Name  githubv4.String
			Color githubv4.String
		}
	} `graphql:"labels(first: 100)"`
	Author struct {
		Login githubv4.String
	}
}

type pageInfo struct {
	EndCursor   githubv4.String
	HasNextPage githubv4.Boolean
}

type issueConnection struct {
	Nodes    []issueNode
	PageInfo pageInfo
}

// repositoryPageQuery lists an account's public repositories, most recently
// updated first, with the first page of their issues carrying the requested labels.
type repositoryPageQuery struct {
	RepositoryOwner struct {
		Login        githubv4.String
		Repositories struct {
			Nodes []struct {
				Name   githubv4.String
				Issues issueConnection `graphql:"issues(first: 100, states: [OPEN, CLOSED], labels: $labels)"`
			}
			PageInfo pageInfo
		} `graphql:"repositories(first: $first, after: $cursor, privacy: PUBLIC, orderBy: {field: UPDATED_AT, direction: DESC})"`
	} `graphql:"repositoryOwner(login: $login)"`
}

// repositoryIssuesQuery continues a repository's labeled issue connection.
type repositoryIssuesQuery struct {
	Repository struct {
		Issues issueConnection `graphql:"issues(first: 100, after: $cursor, states: [OPEN, CLOSED], labels: $labels)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

type sponsorshipTotalQuery struct {
	Viewer struct {
		Login                                  githubv4.String
		TotalSponsorshipAmountAsSponsorInCents githubv4.Int `graphql:"totalSponsorshipAmountAsSponsorInCents(sponsorableLogins: $logins)"`
	}
}

// graphqlClient returns a githubv4 client that sends token as a bearer credential.
func (c *Client) graphqlClient(token string) *githubv4.Client {
	httpClient := &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   c.base,
		},
	}
	return githubv4.NewEnterpriseClient(c.graphqlURL, httpClient)
}

// LifetimeSponsorshipCents asks GitHub, as the sponsor, for the cumulative
// amount sponsored to recipient. Any failure is returned; callers decide how
// to degrade.
func (c *Client) LifetimeSponsorshipCents(ctx context.Context, userToken, recipient string) (int64, error) {
	if userToken == "" {
		return 0, driven.ErrMissingToken
	}

	var q sponsorshipTotalQuery
	vars := map[string]any{
		"logins": []githubv4.String{githubv4.String(recipient)},
	}

	if err := c.graphqlClient(userToken).Query(ctx, &q, vars); err != nil {
		return 0, fmt.Errorf("querying sponsorship total to %s: %w", recipient, err)
	}

	return int64(q.Viewer.TotalSponsorshipAmountAsSponsorInCents), nil
}

// FetchRepositoryPage fetches one page of repositories for account and flattens
// their labeled issues, following each repository's issue cursor until it is
// exhausted. pageSize is clamped to GitHub's maximum of 100.
func (c *Client) FetchRepositoryPage(ctx context.Context, installationToken, account, label, cursor string, pageSize int) (model.RepositoryPage, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}

	var after *githubv4.String
	if cursor != "" {
		after = githubv4.NewString(githubv4.String(cursor))
	}

	client := c.graphqlClient(installationToken)

	var q repositoryPageQuery
	vars := map[string]any{
		"login":  githubv4.String(account),
		"first":  githubv4.Int(pageSize),
		"cursor": after,
		"labels": []githubv4.String{githubv4.String(label)},
	}

	if err := client.Query(ctx, &q, vars); err != nil {
		return model.RepositoryPage{}, fmt.Errorf("querying repositories of %s: %w", account, err)
	}

	repos := q.RepositoryOwner.Repositories
	page := model.RepositoryPage{
		Issues:       []model.Issue{},
		Repositories: len(repos.Nodes),
		HasNextPage:  bool(repos.PageInfo.HasNextPage),
		EndCursor:    string(repos.PageInfo.EndCursor),
	}

	for _, repo := range repos.Nodes {
		name := string(repo.Name)
		conn := repo.Issues
		for {
			for _, node := range conn.Nodes {
				issue, err := model.NewIssue(mapIssueNode(node))
				if err != nil {
					return model.RepositoryPage{}, fmt.Errorf("mapping issue of %s/%s: %w", account, name, err)
				}
				page.Issues = append(page.Issues, issue)
			}
			if !conn.PageInfo.HasNextPage || conn.PageInfo.EndCursor == "" {
				break
			}

			next, err := fetchIssuePage(ctx, client, account, name, label, string(conn.PageInfo.EndCursor))
			if err != nil {
				return model.RepositoryPage{}, err
			}
			conn = next
		}
	}

	return page, nil
}

func fetchIssuePage(ctx context.Context, client *githubv4.Client, owner, name, label, cursor string) (issueConnection, error) {
	var q repositoryIssuesQuery
	vars := map[string]any{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"cursor": githubv4.String(cursor),
		"labels": []githubv4.String{githubv4.String(label)},
	}

	if err := client.Query(ctx, &q, vars); err != nil {
		return issueConnection{}, fmt.Errorf("querying issues of %s/%s after %s: %w", owner, name, cursor, err)
	}
	return q.Repository.Issues, nil
}

// mapIssueNode converts a GraphQL issue to the REST-shaped snapshot so both
// ingestion paths store the same document.
func mapIssueNode(n issueNode) model.IssueSnapshot {
	labels := make([]model.Label, 0, len(n.Labels.Nodes))
	for _, l := range n.Labels.Nodes {
		labels = append(labels, model.Label{Name: string(l.Name), Color: string(l.Color)})
	}

	return model.IssueSnapshot{
		Number:    int(n.Number),
		Title:     string(n.Title),
		Body:      string(n.Body),
		State:     model.ParseIssueState(string(n.State)),
		URL:       string(n.URL),
		Labels:    labels,
		User:      model.IssueUser{Login: string(n.Author.Login)},
		CreatedAt: n.CreatedAt.Time,
		UpdatedAt: n.UpdatedAt.Time,
	}
}

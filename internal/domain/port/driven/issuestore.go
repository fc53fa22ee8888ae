package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

// ErrIssueNotFound is returned when an issue is not in the catalog, or when GitHub
// reports that it does not exist.
var ErrIssueNotFound = errors.New("issue not found")

// IssueFilter narrows ListWithAllocations. Zero values mean "no restriction".
type IssueFilter struct {
	Owner      string
	Repo       string
	FundedOnly bool
	OpenOnly   bool
}

// IssueStore defines the driven port for the sponsorable issue catalog.
type IssueStore interface {
	// Get returns the issue identified by ref, comparing owner and repo
	// case-insensitively. Returns nil, nil if absent.
	Get(ctx context.Context, ref model.IssueRef) (*model.Issue, error)
	// Upsert inserts the issue or replaces its snapshot. It reports whether a new
	// row was created.
	Upsert(ctx context.Context, issue model.Issue) (bool, error)
	// Delete removes the issue and, through the foreign key, all of its
	// allocations. It reports whether a row existed.
	Delete(ctx context.Context, ref model.IssueRef) (bool, error)
	// ListURLsByOwner returns the URLs of every stored issue under owner.
	ListURLsByOwner(ctx context.Context, owner string) ([]string, error)
	// ListWithAllocations returns catalog issues with their active allocations,
	// oldest first.
	ListWithAllocations(ctx context.Context, filter IssueFilter) ([]model.FundedIssue, error)
}

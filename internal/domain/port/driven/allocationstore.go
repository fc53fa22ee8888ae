package driven

import (
	"context"
	"time"

	"github.com/samber/mo"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

// LedgerTx is the set of allocation operations available inside a single
// storage transaction. All reads observe the transaction's snapshot.
type LedgerTx interface {
	// GetIssue returns the catalog issue for ref, or nil if absent.
	GetIssue(ctx context.Context, ref model.IssueRef) (*model.Issue, error)
	// GetAllocation returns the sponsor's allocation to the issue, if any.
	GetAllocation(ctx context.Context, sponsor, issueURL string) (mo.Option[model.Allocation], error)
	// SumAllocated returns the total cents the sponsor has allocated across all
	// issues owned by recipient.
	SumAllocated(ctx context.Context, sponsor, recipient string) (int64, error)
	CreateAllocation(ctx context.Context, a model.Allocation) error
	UpdateAllocation(ctx context.Context, id string, cents int64, at time.Time) error
	DeleteAllocation(ctx context.Context, id string) error
}

// AllocationStore defines the driven port for allocation persistence.
type AllocationStore interface {
	// WithinTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
	// ListBySponsor returns the sponsor's allocations to issues owned by
	// recipient. An empty recipient returns allocations to every owner.
	ListBySponsor(ctx context.Context, sponsor, recipient string) ([]model.Allocation, error)
}

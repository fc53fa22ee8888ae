package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Allocation is one sponsor's committed funding toward one issue. A sponsor holds
// at most one allocation per issue; a zero amount is represented by no row.
type Allocation struct {
	ID           string
	SponsorLogin string
	IssueURL     string
	Cents        int64
	Currency     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAllocationID returns a prefixed ULID such as "alloc_01J9Z...".
func NewAllocationID() string {
	return "alloc_" + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// AllocationChange reports the outcome of a ledger write together with the
// figures the capacity decision was based on.
type AllocationChange struct {
	Kind           AllocationChangeKind
	IssueURL       string
	PreviousCents  int64
	Cents          int64
	LifetimeCents  int64
	AvailableCents int64 // lifetime minus allocations to the recipient's other issues.
}

// Balance is a sponsor's allocation position toward one recipient.
type Balance struct {
	Recipient        string
	AllocatedCents   int64
	LifetimeCents    int64
	UnallocatedCents int64
}

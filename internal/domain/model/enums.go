package model

import "strings"

// IssueState represents the state of a GitHub issue.
type IssueState string

const (
	IssueStateOpen   IssueState = "open"
	IssueStateClosed IssueState = "closed"
)

// ParseIssueState normalizes GitHub's REST ("open") and GraphQL ("OPEN") spellings.
func ParseIssueState(s string) IssueState {
	return IssueState(strings.ToLower(s))
}

// ResourceKind is the kind of GitHub resource an existence check targets.
type ResourceKind string

const (
	ResourceUser  ResourceKind = "user"
	ResourceRepo  ResourceKind = "repo"
	ResourceIssue ResourceKind = "issue"
)

// CatalogChange describes what a catalog write did to one issue.
type CatalogChange string

const (
	CatalogInserted  CatalogChange = "inserted"
	CatalogUpdated   CatalogChange = "updated"
	CatalogDeleted   CatalogChange = "deleted"
	CatalogUnchanged CatalogChange = "unchanged" // Not sponsorable and not stored.
	CatalogIgnored   CatalogChange = "ignored"   // Event action not relevant to the catalog.
)

// AllocationChangeKind describes the effect of a ledger write.
type AllocationChangeKind string

const (
	AllocationCreated   AllocationChangeKind = "created"
	AllocationUpdated   AllocationChangeKind = "updated"
	AllocationDeleted   AllocationChangeKind = "deleted"
	AllocationUnchanged AllocationChangeKind = "unchanged"
)

// PaymentMode selects the payment environment. It is resolved once from
// configuration and passed to the components that report it.
type PaymentMode string

const (
	PaymentSandbox PaymentMode = "sandbox"
	PaymentLive    PaymentMode = "live"
)

// ParsePaymentMode validates a configured mode.
func ParsePaymentMode(s string) (PaymentMode, bool) {
	switch m := PaymentMode(strings.ToLower(strings.TrimSpace(s))); m {
	case PaymentSandbox, PaymentLive:
		return m, true
	default:
		return "", false
	}
}

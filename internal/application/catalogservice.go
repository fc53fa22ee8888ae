package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
	"github.com/ericfisherdev/sponsoredissues/internal/metrics"
)

var (
	// ErrIssueExists is returned by AddIssue when the issue is already in the
	// catalog and force was not requested.
	ErrIssueExists = errors.New("issue already in catalog")

	// ErrNotSponsorable is returned by AddIssue when the fetched issue is closed
	// or lacks the sponsorable label.
	ErrNotSponsorable = errors.New("issue is not sponsorable")
)

// Catalog change sources, used as a metrics label.
const (
	SourceWebhook = "webhook"
	SourceSync    = "sync"
	SourceAdmin   = "admin"
)

// issueEventActions are the webhook actions that can change sponsorability.
var issueEventActions = map[string]bool{
	"opened":    true,
	"reopened":  true,
	"closed":    true,
	"labeled":   true,
	"unlabeled": true,
	"edited":    true,
}

// CatalogService owns every write to the issue catalog. Writes for one issue are
// serialized; writes for different issues proceed in parallel.
type CatalogService struct {
	issues  driven.IssueStore
	gateway driven.GitHubGateway
	label   string
	locks   *keyedMutex
}

// NewCatalogService creates a CatalogService that treats issues carrying label
// as sponsorable.
func NewCatalogService(issues driven.IssueStore, gateway driven.GitHubGateway, label string) *CatalogService {
	return &CatalogService{
		issues:  issues,
		gateway: gateway,
		label:   label,
		locks:   newKeyedMutex(),
	}
}

// Label returns the sponsorable label.
func (s *CatalogService) Label() string {
	return s.label
}

// ApplyIssueEvent reconciles one issue from a webhook payload. Actions outside
// the supported set are ignored without touching storage.
func (s *CatalogService) ApplyIssueEvent(ctx context.Context, action string, snapshot model.IssueSnapshot) (model.CatalogChange, error) {
	if !issueEventActions[action] {
		metrics.CatalogChanges.WithLabelValues(SourceWebhook, string(model.CatalogIgnored)).Inc()
		return model.CatalogIgnored, nil
	}

	issue, err := model.NewIssue(snapshot)
	if err != nil {
		return "", err
	}

	return s.Reconcile(ctx, SourceWebhook, issue, issue.IsSponsorable(s.label))
}

// AddIssue fetches an issue by URL and stores it. An issue already in the
// catalog is only refreshed when force is set.
func (s *CatalogService) AddIssue(ctx context.Context, rawURL string, force bool) (model.CatalogChange, error) {
	ref, err := model.ParseIssueURL(rawURL)
	if err != nil {
		return "", err
	}

	existing, err := s.issues.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	if existing != nil && !force {
		return "", fmt.Errorf("%s: %w", existing.URL, ErrIssueExists)
	}

	issue, err := s.gateway.FetchIssue(ctx, ref)
	if err != nil {
		return "", err
	}
	if !issue.IsSponsorable(s.label) {
		return "", fmt.Errorf("%s is %s without label %q: %w", issue.URL, issue.State(), s.label, ErrNotSponsorable)
	}

	return s.Reconcile(ctx, SourceAdmin, issue, true)
}

// Reconcile makes the catalog agree with shouldExist for one issue: present
// issues are inserted or have their snapshot replaced, absent ones are deleted
// together with their allocations.
func (s *CatalogService) Reconcile(ctx context.Context, source string, issue model.Issue, shouldExist bool) (model.CatalogChange, error) {
	unlock := s.locks.Lock(issueLockKey(issue.Ref))
	defer unlock()

	var change model.CatalogChange
	if shouldExist {
		inserted, err := s.issues.Upsert(ctx, issue)
		if err != nil {
			return "", err
		}
		change = model.CatalogUpdated
		if inserted {
			change = model.CatalogInserted
		}
	} else {
		deleted, err := s.issues.Delete(ctx, issue.Ref)
		if err != nil {
			return "", err
		}
		change = model.CatalogUnchanged
		if deleted {
			change = model.CatalogDeleted
		}
	}

	metrics.CatalogChanges.WithLabelValues(source, string(change)).Inc()
	if change != model.CatalogUnchanged {
		slog.Info("catalog issue "+string(change), "issue", issue.URL, "source", source, "state", issue.State())
	}

	return change, nil
}

// RemoveByURL deletes a stored issue that no longer appears upstream.
func (s *CatalogService) RemoveByURL(ctx context.Context, source, rawURL string) (bool, error) {
	ref, err := model.ParseIssueURL(rawURL)
	if err != nil {
		return false, err
	}

	unlock := s.locks.Lock(issueLockKey(ref))
	defer unlock()

	deleted, err := s.issues.Delete(ctx, ref)
	if err != nil {
		return false, err
	}
	if deleted {
		metrics.CatalogChanges.WithLabelValues(source, string(model.CatalogDeleted)).Inc()
		slog.Info("catalog issue deleted", "issue", rawURL, "source", source)
	}
	return deleted, nil
}

// issueLockKey matches the store's case-insensitive owner/repo comparison.
func issueLockKey(ref model.IssueRef) string {
	return strings.ToLower(ref.URL())
}

package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/workerpool"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

// SyncOptions controls a bulk catalog sync.
type SyncOptions struct {
	DryRun         bool
	InstallationID int64 // Sync only this installation when non-zero.
	RepoLimit      int
	Loop           bool
	LoopDelay      time.Duration
	DelayMin       time.Duration
	DelayMax       time.Duration
	RetryDelay     time.Duration
	MaxRetries     int
	Concurrency    int
	// RequireOpen drops fetched issues that are not open. The label filter of
	// the query is trusted since the returned label list may be truncated.
	RequireOpen bool
}

// InstallationResult is the outcome of syncing one installation.
type InstallationResult struct {
	Installation model.Installation
	Fetched      int
	Added        int
	Updated      int
	Removed      int
	Err          error
}

// SyncSummary aggregates one sync cycle across installations.
type SyncSummary struct {
	Installations int
	Added         int
	Updated       int
	Removed       int
	Failed        int
	Results       []InstallationResult
}

// SyncService mirrors each installation's labeled issues into the catalog. It
// diffs the fetched set against the stored set for the installing account and
// never deletes anything for an installation whose fetch failed.
type SyncService struct {
	gateway driven.GitHubGateway
	issues  driven.IssueStore
	catalog *CatalogService
	opts    SyncOptions

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSyncService creates a SyncService. Zero-valued limits fall back to one
// worker and a hundred repositories.
func NewSyncService(gateway driven.GitHubGateway, issues driven.IssueStore, catalog *CatalogService, opts SyncOptions) *SyncService {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.RepoLimit < 1 {
		opts.RepoLimit = 100
	}
	if opts.DelayMax < opts.DelayMin {
		opts.DelayMax = opts.DelayMin
	}

	return &SyncService{
		gateway: gateway,
		issues:  issues,
		catalog: catalog,
		opts:    opts,
		sleep:   sleepContext,
	}
}

// Run performs sync cycles until ctx is canceled, pausing LoopDelay between
// cycles. Without Loop it performs a single cycle and reports failed
// installations as an error. Cancellation is a clean stop.
func (s *SyncService) Run(ctx context.Context) error {
	for {
		summary, err := s.SyncOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("sync service stopped")
				return nil
			}
			if !s.opts.Loop {
				return err
			}
			slog.Error("sync cycle failed", "error", err)
		} else if !s.opts.Loop && summary.Failed > 0 {
			return fmt.Errorf("%d of %d installations failed to sync", summary.Failed, summary.Installations)
		}

		if !s.opts.Loop {
			return nil
		}

		slog.Info("next sync cycle scheduled", "delay", s.opts.LoopDelay)
		if err := s.sleep(ctx, s.opts.LoopDelay); err != nil {
			slog.Info("sync service stopped")
			return nil
		}
	}
}

// SyncOnce syncs every installation (or the filtered one) once.
func (s *SyncService) SyncOnce(ctx context.Context) (SyncSummary, error) {
	start := time.Now()

	installations, err := s.gateway.ListInstallations(ctx, s.opts.InstallationID)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("listing installations: %w", err)
	}
	if len(installations) == 0 {
		slog.Warn("no installations to sync", "installation_filter", s.opts.InstallationID)
		return SyncSummary{Results: []InstallationResult{}}, nil
	}

	results := make([]InstallationResult, len(installations))
	pool := workerpool.New(s.opts.Concurrency)
	for i, inst := range installations {
		pool.Submit(func() {
			if i >= s.opts.Concurrency {
				s.randomDelay(ctx)
			}
			results[i] = s.SyncInstallation(ctx, inst)
		})
	}
	pool.StopWait()

	summary := SyncSummary{Installations: len(installations), Results: results}
	for _, r := range results {
		summary.Added += r.Added
		summary.Updated += r.Updated
		summary.Removed += r.Removed
		if r.Err != nil {
			summary.Failed++
		}
	}

	slog.Info("sync cycle complete",
		"installations", summary.Installations,
		"added", summary.Added,
		"updated", summary.Updated,
		"removed", summary.Removed,
		"failed", summary.Failed,
		"dry_run", s.opts.DryRun,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return summary, nil
}

// SyncInstallation fetches every labeled issue of the installing account and
// reconciles the catalog against it.
func (s *SyncService) SyncInstallation(ctx context.Context, inst model.Installation) InstallationResult {
	result := InstallationResult{Installation: inst}
	account := inst.AccountLogin

	fetched, err := s.fetchAll(ctx, inst)
	if err != nil {
		slog.Error("installation sync failed, catalog left untouched", "account", account, "installation", inst.ID, "error", err)
		result.Err = err
		return result
	}
	result.Fetched = len(fetched)

	storedURLs, err := s.issues.ListURLsByOwner(ctx, account)
	if err != nil {
		result.Err = fmt.Errorf("listing stored issues of %s: %w", account, err)
		return result
	}
	stored := make(map[string]bool, len(storedURLs))
	for _, u := range storedURLs {
		stored[strings.ToLower(u)] = true
	}

	seen := make(map[string]bool, len(fetched))
	for _, issue := range fetched {
		key := issueLockKey(issue.Ref)
		seen[key] = true

		shouldExist := !s.opts.RequireOpen || issue.State() == model.IssueStateOpen

		if s.opts.DryRun {
			switch {
			case shouldExist && stored[key]:
				result.Updated++
			case shouldExist:
				result.Added++
			case stored[key]:
				result.Removed++
			}
			continue
		}

		change, err := s.catalog.Reconcile(ctx, SourceSync, issue, shouldExist)
		if err != nil {
			slog.Error("sync reconcile failed", "issue", issue.URL, "error", err)
			continue
		}
		switch change {
		case model.CatalogInserted:
			result.Added++
		case model.CatalogUpdated:
			result.Updated++
		case model.CatalogDeleted:
			result.Removed++
		}
	}

	for _, u := range storedURLs {
		if seen[strings.ToLower(u)] {
			continue
		}
		if s.opts.DryRun {
			result.Removed++
			continue
		}
		deleted, err := s.catalog.RemoveByURL(ctx, SourceSync, u)
		if err != nil {
			slog.Error("stale issue cleanup failed", "issue", u, "error", err)
			continue
		}
		if deleted {
			result.Removed++
		}
	}

	slog.Info("installation synced",
		"account", account,
		"installation", inst.ID,
		"fetched", result.Fetched,
		"added", result.Added,
		"updated", result.Updated,
		"removed", result.Removed,
		"dry_run", s.opts.DryRun,
	)

	return result
}

// fetchAll pages through the account's repositories up to RepoLimit. Each page
// is retried with a fixed backoff; exhausting the retries fails the whole
// installation.
func (s *SyncService) fetchAll(ctx context.Context, inst model.Installation) ([]model.Issue, error) {
	var token string
	err := s.retry(ctx, "installation token", func() error {
		var err error
		token, err = s.gateway.InstallationToken(ctx, inst.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	issues := []model.Issue{}
	cursor := ""
	processed := 0

	for processed < s.opts.RepoLimit {
		pageSize := min(100, s.opts.RepoLimit-processed)

		var page model.RepositoryPage
		err := s.retry(ctx, "repository page", func() error {
			var err error
			page, err = s.gateway.FetchRepositoryPage(ctx, token, inst.AccountLogin, s.catalog.Label(), cursor, pageSize)
			return err
		})
		if err != nil {
			return nil, err
		}

		processed += page.Repositories
		issues = append(issues, page.Issues...)
		slog.Debug("repository page fetched",
			"account", inst.AccountLogin,
			"repositories", page.Repositories,
			"issues", len(page.Issues),
			"processed", processed,
		)

		if !page.HasNextPage || page.Repositories == 0 {
			break
		}
		cursor = page.EndCursor
		s.randomDelay(ctx)
	}

	return issues, nil
}

func (s *SyncService) retry(ctx context.Context, what string, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.RetryDelay), uint64(max(s.opts.MaxRetries, 0))),
		ctx,
	)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && (errors.Is(err, driven.ErrNotConfigured) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		slog.Warn("github request failed, retrying", "request", what, "wait", wait, "error", err)
	})
}

// randomDelay spaces out requests to stay clear of secondary rate limits.
func (s *SyncService) randomDelay(ctx context.Context) {
	if s.opts.DelayMax <= 0 {
		return
	}
	d := s.opts.DelayMin
	if spread := s.opts.DelayMax - s.opts.DelayMin; spread > 0 {
		d += time.Duration(rand.Int64N(int64(spread) + 1))
	}
	_ = s.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

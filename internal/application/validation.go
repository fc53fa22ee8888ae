package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
	"github.com/ericfisherdev/sponsoredissues/internal/metrics"
)

const sponsorsProfileKind = "sponsors"

// ValidationService answers existence and sponsors-profile questions through a
// read-through TTL cache in front of the gateway. Only successful answers are
// cached; a failed lookup resolves to false and is retried on the next call.
type ValidationService struct {
	gateway driven.GitHubGateway
	cache   *expirable.LRU[string, bool]
	group   singleflight.Group
}

// NewValidationService creates a ValidationService holding at most size entries
// for ttl each.
func NewValidationService(gateway driven.GitHubGateway, size int, ttl time.Duration) *ValidationService {
	return &ValidationService{
		gateway: gateway,
		cache:   expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

// UserExists reports whether the GitHub user or organization exists.
func (s *ValidationService) UserExists(ctx context.Context, login string) bool {
	return s.Exists(ctx, model.ResourceUser, login)
}

// RepoExists reports whether owner/repo exists and is visible.
func (s *ValidationService) RepoExists(ctx context.Context, owner, repo string) bool {
	return s.Exists(ctx, model.ResourceRepo, owner+"/"+repo)
}

// IssueExists reports whether the issue exists and is visible.
func (s *ValidationService) IssueExists(ctx context.Context, ref model.IssueRef) bool {
	return s.Exists(ctx, model.ResourceIssue, fmt.Sprintf("%s/%s/%d", ref.Owner, ref.Repo, ref.Number))
}

// Exists runs a cached existence check for kind and identifier.
func (s *ValidationService) Exists(ctx context.Context, kind model.ResourceKind, identifier string) bool {
	key := "github:validation:" + string(kind) + ":" + strings.ToLower(identifier)
	return s.lookup(ctx, key, string(kind), func(ctx context.Context) (bool, error) {
		return s.gateway.ResourceExists(ctx, kind, identifier)
	})
}

// HasSponsorsProfile reports whether login has a public GitHub Sponsors profile.
func (s *ValidationService) HasSponsorsProfile(ctx context.Context, login string) bool {
	key := "github:has_sponsors_profile:" + strings.ToLower(login)
	return s.lookup(ctx, key, sponsorsProfileKind, func(ctx context.Context) (bool, error) {
		return s.gateway.HasSponsorsProfile(ctx, login)
	})
}

func (s *ValidationService) lookup(ctx context.Context, key, kind string, fetch func(context.Context) (bool, error)) bool {
	if v, ok := s.cache.Get(key); ok {
		metrics.ValidationLookups.WithLabelValues(kind, "hit").Inc()
		slog.Debug("validation cache hit", "key", key, "value", v)
		return v
	}

	// Concurrent misses for one key share a single gateway call.
	v, err, _ := s.group.Do(key, func() (any, error) {
		exists, err := fetch(ctx)
		if err != nil {
			return false, err
		}
		s.cache.Add(key, exists)
		return exists, nil
	})
	if err != nil {
		metrics.ValidationLookups.WithLabelValues(kind, "error").Inc()
		slog.Warn("validation lookup failed, treating as absent", "key", key, "error", err)
		return false
	}

	metrics.ValidationLookups.WithLabelValues(kind, "miss").Inc()
	slog.Debug("validation cache miss", "key", key, "value", v)
	return v.(bool)
}

package application_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

const testLabel = "sponsoredissues.org"

// --- Mock gateway ---

type mockGateway struct {
	mu sync.Mutex

	lifetime      map[string]int64 // keyed by lowercase recipient
	lifetimeErr   error
	lifetimeCalls int

	installations []model.Installation
	pages         map[string][]model.RepositoryPage // keyed by account
	pageErrs      map[string][]error                // consumed one per call before pages are served
	pageCalls     map[string]int

	fetched map[string]model.Issue // keyed by lowercase URL

	exists      map[string]bool
	existsErr   error
	existsCalls int
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		lifetime:  map[string]int64{},
		pages:     map[string][]model.RepositoryPage{},
		pageErrs:  map[string][]error{},
		pageCalls: map[string]int{},
		fetched:   map[string]model.Issue{},
		exists:    map[string]bool{},
	}
}

var _ driven.GitHubGateway = (*mockGateway)(nil)

func (m *mockGateway) InstallationToken(_ context.Context, id int64) (string, error) {
	return fmt.Sprintf("ghs_%d", id), nil
}

func (m *mockGateway) ListInstallations(_ context.Context, filterID int64) ([]model.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Installation
	for _, inst := range m.installations {
		if filterID == 0 || inst.ID == filterID {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *mockGateway) FetchRepositoryPage(_ context.Context, _, account, label, cursor string, _ int) (model.RepositoryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageCalls[account]++

	if errs := m.pageErrs[account]; len(errs) > 0 {
		m.pageErrs[account] = errs[1:]
		return model.RepositoryPage{}, errs[0]
	}
	if label != testLabel {
		return model.RepositoryPage{}, fmt.Errorf("unexpected label %q", label)
	}

	pages := m.pages[account]
	idx := 0
	if cursor != "" {
		_, err := fmt.Sscanf(cursor, "page-%d", &idx)
		if err != nil {
			return model.RepositoryPage{}, err
		}
	}
	if idx >= len(pages) {
		return model.RepositoryPage{}, nil
	}
	page := pages[idx]
	if idx+1 < len(pages) {
		page.HasNextPage = true
		page.EndCursor = fmt.Sprintf("page-%d", idx+1)
	}
	return page, nil
}

func (m *mockGateway) FetchIssue(_ context.Context, ref model.IssueRef) (model.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.fetched[strings.ToLower(ref.URL())]
	if !ok {
		return model.Issue{}, driven.ErrIssueNotFound
	}
	return issue, nil
}

func (m *mockGateway) ResourceExists(_ context.Context, kind model.ResourceKind, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existsCalls++
	if m.existsErr != nil {
		return false, m.existsErr
	}
	return m.exists[string(kind)+":"+strings.ToLower(path)], nil
}

func (m *mockGateway) HasSponsorsProfile(_ context.Context, login string) (bool, error) {
	return m.ResourceExists(context.Background(), "sponsors", login)
}

func (m *mockGateway) LifetimeSponsorshipCents(_ context.Context, userToken, recipient string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifetimeCalls++
	if userToken == "" {
		return 0, driven.ErrMissingToken
	}
	if m.lifetimeErr != nil {
		return 0, m.lifetimeErr
	}
	return m.lifetime[strings.ToLower(recipient)], nil
}

func (m *mockGateway) ViewerLogin(_ context.Context, userToken string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockGateway) setLifetime(recipient string, cents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifetime[strings.ToLower(recipient)] = cents
}

// --- In-memory store ---

// memStore implements IssueStore and AllocationStore. WithinTx holds the store
// lock for the whole callback and commits a copy of the allocation map.
type memStore struct {
	mu     sync.Mutex
	issues map[string]model.Issue
	allocs map[string]model.Allocation
	clock  time.Time
}

var (
	_ driven.IssueStore      = (*memStore)(nil)
	_ driven.AllocationStore = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		issues: map[string]model.Issue{},
		allocs: map[string]model.Allocation{},
		clock:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) Get(_ context.Context, ref model.IssueRef) (*model.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ref), nil
}

func (s *memStore) getLocked(ref model.IssueRef) *model.Issue {
	issue, ok := s.issues[strings.ToLower(ref.URL())]
	if !ok {
		return nil
	}
	return &issue
}

func (s *memStore) Upsert(_ context.Context, issue model.Issue) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(issue.URL)
	now := s.tick()
	existing, ok := s.issues[key]
	if ok {
		existing.Snapshot = issue.Snapshot
		existing.UpdatedAt = now
		s.issues[key] = existing
		return false, nil
	}
	issue.CreatedAt, issue.UpdatedAt = now, now
	s.issues[key] = issue
	return true, nil
}

func (s *memStore) Delete(_ context.Context, ref model.IssueRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(ref.URL())
	issue, ok := s.issues[key]
	if !ok {
		return false, nil
	}
	delete(s.issues, key)
	for id, a := range s.allocs {
		if a.IssueURL == issue.URL {
			delete(s.allocs, id)
		}
	}
	return true, nil
}

func (s *memStore) ListURLsByOwner(_ context.Context, owner string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := []string{}
	for _, issue := range s.issues {
		if strings.EqualFold(issue.Ref.Owner, owner) {
			urls = append(urls, issue.URL)
		}
	}
	sort.Strings(urls)
	return urls, nil
}

func (s *memStore) ListWithAllocations(_ context.Context, filter driven.IssueFilter) ([]model.FundedIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.FundedIssue
	for _, issue := range s.issues {
		if filter.Owner != "" && !strings.EqualFold(issue.Ref.Owner, filter.Owner) {
			continue
		}
		if filter.Repo != "" && !strings.EqualFold(issue.Ref.Repo, filter.Repo) {
			continue
		}
		if filter.OpenOnly && issue.State() != model.IssueStateOpen {
			continue
		}
		fi := model.FundedIssue{Issue: issue, Allocations: []model.Allocation{}}
		for _, a := range s.allocs {
			if a.IssueURL == issue.URL {
				fi.Allocations = append(fi.Allocations, a)
			}
		}
		if filter.FundedOnly && len(fi.Allocations) == 0 {
			continue
		}
		sort.Slice(fi.Allocations, func(i, j int) bool { return fi.Allocations[i].ID < fi.Allocations[j].ID })
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Issue.CreatedAt.Equal(out[j].Issue.CreatedAt) {
			return out[i].Issue.CreatedAt.Before(out[j].Issue.CreatedAt)
		}
		return out[i].Issue.URL < out[j].Issue.URL
	})
	return out, nil
}

func (s *memStore) WithinTx(_ context.Context, fn func(tx driven.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, allocs: maps.Clone(s.allocs)}
	if err := fn(tx); err != nil {
		return err
	}
	s.allocs = tx.allocs
	return nil
}

func (s *memStore) ListBySponsor(_ context.Context, sponsor, recipient string) ([]model.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Allocation
	for _, a := range s.allocs {
		if !strings.EqualFold(a.SponsorLogin, sponsor) {
			continue
		}
		ref, _ := model.ParseIssueURL(a.IssueURL)
		if recipient != "" && !strings.EqualFold(ref.Owner, recipient) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// allocationsOf returns the sponsor's committed allocations keyed by issue URL.
func (s *memStore) allocationsOf(sponsor string) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int64{}
	for _, a := range s.allocs {
		if strings.EqualFold(a.SponsorLogin, sponsor) {
			out[a.IssueURL] = a.Cents
		}
	}
	return out
}

type memTx struct {
	store  *memStore
	allocs map[string]model.Allocation
}

func (tx *memTx) GetIssue(_ context.Context, ref model.IssueRef) (*model.Issue, error) {
	return tx.store.getLocked(ref), nil
}

func (tx *memTx) GetAllocation(_ context.Context, sponsor, issueURL string) (mo.Option[model.Allocation], error) {
	for _, a := range tx.allocs {
		if strings.EqualFold(a.SponsorLogin, sponsor) && a.IssueURL == issueURL {
			return mo.Some(a), nil
		}
	}
	return mo.None[model.Allocation](), nil
}

func (tx *memTx) SumAllocated(_ context.Context, sponsor, recipient string) (int64, error) {
	var sum int64
	for _, a := range tx.allocs {
		ref, _ := model.ParseIssueURL(a.IssueURL)
		if strings.EqualFold(a.SponsorLogin, sponsor) && strings.EqualFold(ref.Owner, recipient) {
			sum += a.Cents
		}
	}
	return sum, nil
}

func (tx *memTx) CreateAllocation(_ context.Context, a model.Allocation) error {
	if _, ok := tx.store.issues[strings.ToLower(a.IssueURL)]; !ok {
		return errors.New("foreign key constraint failed")
	}
	tx.allocs[a.ID] = a
	return nil
}

func (tx *memTx) UpdateAllocation(_ context.Context, id string, cents int64, at time.Time) error {
	a, ok := tx.allocs[id]
	if !ok {
		return errors.New("allocation not found")
	}
	a.Cents, a.UpdatedAt = cents, at
	tx.allocs[id] = a
	return nil
}

func (tx *memTx) DeleteAllocation(_ context.Context, id string) error {
	delete(tx.allocs, id)
	return nil
}

// --- Fixtures ---

func testIssue(t *testing.T, owner, repo string, number int, state model.IssueState, labels ...string) model.Issue {
	t.Helper()
	snapshot := model.IssueSnapshot{
		Number: number,
		Title:  fmt.Sprintf("Issue %d", number),
		State:  state,
		URL:    fmt.Sprintf("https://github.com/%s/%s/issues/%d", owner, repo, number),
		User:   model.IssueUser{Login: owner},
	}
	for _, l := range labels {
		snapshot.Labels = append(snapshot.Labels, model.Label{Name: l})
	}
	issue, err := model.NewIssue(snapshot)
	require.NoError(t, err)
	return issue
}

func seedIssue(t *testing.T, store *memStore, owner, repo string, number int) model.Issue {
	t.Helper()
	issue := testIssue(t, owner, repo, number, model.IssueStateOpen, testLabel)
	_, err := store.Upsert(context.Background(), issue)
	require.NoError(t, err)
	return issue
}

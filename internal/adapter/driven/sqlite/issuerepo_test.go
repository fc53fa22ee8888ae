package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func TestIssueRepo_Upsert_InsertThenUpdate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIssueRepo(db)
	ctx := context.Background()

	issue := makeIssue(t, "octocat", "hello", 1, model.IssueStateOpen, "sponsoredissues.org")

	repo.now = func() time.Time { return t0 }
	inserted, err := repo.Upsert(ctx, issue)
	require.NoError(t, err)
	assert.True(t, inserted)

	issue.Snapshot.Title = "Renamed"
	repo.now = func() time.Time { return t0.Add(time.Hour) }
	inserted, err = repo.Upsert(ctx, issue)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.Get(ctx, issue.Ref)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Renamed", got.Snapshot.Title)
	assert.Equal(t, issue.URL, got.URL)
	assert.True(t, got.CreatedAt.Equal(t0), "created_at preserved")
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))
	assert.True(t, got.HasLabel("sponsoredissues.org"))
}

func TestIssueRepo_Get_CaseInsensitiveOwner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIssueRepo(db)
	ctx := context.Background()

	storeIssue(t, db, makeIssue(t, "OctoCat", "Hello", 7, model.IssueStateOpen), t0)

	got, err := repo.Get(ctx, model.IssueRef{Owner: "octocat", Repo: "hello", Number: 7})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://github.com/OctoCat/Hello/issues/7", got.URL)
}

func TestIssueRepo_Get_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIssueRepo(db)

	got, err := repo.Get(context.Background(), model.IssueRef{Owner: "a", Repo: "b", Number: 1})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIssueRepo_Delete_CascadesAllocations(t *testing.T) {
	db := setupTestDB(t)
	issues := NewIssueRepo(db)
	allocations := NewAllocationRepo(db)
	ctx := context.Background()

	issue := makeIssue(t, "octocat", "hello", 1, model.IssueStateOpen)
	storeIssue(t, db, issue, t0)
	createAllocation(t, allocations, "alice", issue.URL, 500)

	deleted, err := issues.Delete(ctx, issue.Ref)
	require.NoError(t, err)
	assert.True(t, deleted)

	remaining, err := allocations.ListBySponsor(ctx, "alice", "")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	var count int
	require.NoError(t, db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM allocations`).Scan(&count))
	assert.Zero(t, count)

	deleted, err = issues.Delete(ctx, issue.Ref)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestIssueRepo_ListURLsByOwner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIssueRepo(db)

	storeIssue(t, db, makeIssue(t, "octocat", "a", 1, model.IssueStateOpen), t0)
	storeIssue(t, db, makeIssue(t, "octocat", "b", 2, model.IssueStateOpen), t0)
	storeIssue(t, db, makeIssue(t, "other", "a", 1, model.IssueStateOpen), t0)

	urls, err := repo.ListURLsByOwner(context.Background(), "OCTOCAT")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://github.com/octocat/a/issues/1",
		"https://github.com/octocat/b/issues/2",
	}, urls)
}

func TestIssueRepo_ListWithAllocations(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIssueRepo(db)
	allocations := NewAllocationRepo(db)
	ctx := context.Background()

	funded := makeIssue(t, "octocat", "a", 1, model.IssueStateOpen)
	unfunded := makeIssue(t, "octocat", "a", 2, model.IssueStateOpen)
	closed := makeIssue(t, "octocat", "b", 3, model.IssueStateClosed)
	storeIssue(t, db, funded, t0)
	storeIssue(t, db, unfunded, t0.Add(time.Minute))
	storeIssue(t, db, closed, t0.Add(2*time.Minute))

	createAllocation(t, allocations, "alice", funded.URL, 300)
	createAllocation(t, allocations, "bob", funded.URL, 200)
	createAllocation(t, allocations, "alice", closed.URL, 100)

	tests := []struct {
		name   string
		filter driven.IssueFilter
		want   map[string]int // url -> allocation count
		order  []string
	}{
		{
			name:   "all",
			filter: driven.IssueFilter{},
			order:  []string{funded.URL, unfunded.URL, closed.URL},
			want:   map[string]int{funded.URL: 2, unfunded.URL: 0, closed.URL: 1},
		},
		{
			name:   "funded only",
			filter: driven.IssueFilter{FundedOnly: true},
			order:  []string{funded.URL, closed.URL},
			want:   map[string]int{funded.URL: 2, closed.URL: 1},
		},
		{
			name:   "open in repo",
			filter: driven.IssueFilter{Owner: "octocat", Repo: "a", OpenOnly: true},
			order:  []string{funded.URL, unfunded.URL},
			want:   map[string]int{funded.URL: 2, unfunded.URL: 0},
		},
		{
			name:   "other owner",
			filter: driven.IssueFilter{Owner: "nobody"},
			order:  []string{},
			want:   map[string]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListWithAllocations(ctx, tt.filter)
			require.NoError(t, err)

			order := make([]string, 0, len(got))
			counts := make(map[string]int, len(got))
			for _, fi := range got {
				order = append(order, fi.Issue.URL)
				counts[fi.Issue.URL] = len(fi.Allocations)
			}
			assert.Equal(t, tt.order, order)
			assert.Equal(t, tt.want, counts)
		})
	}
}

package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

func createAllocation(t *testing.T, repo *AllocationRepo, sponsor, issueURL string, cents int64) model.Allocation {
	t.Helper()

	a := model.Allocation{
		ID:           model.NewAllocationID(),
		SponsorLogin: sponsor,
		IssueURL:     issueURL,
		Cents:        cents,
		Currency:     model.CurrencyUSD,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	err := repo.WithinTx(context.Background(), func(tx driven.LedgerTx) error {
		return tx.CreateAllocation(context.Background(), a)
	})
	require.NoError(t, err)
	return a
}

func TestAllocationRepo_GetAllocation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAllocationRepo(db)
	ctx := context.Background()

	issue := makeIssue(t, "octocat", "hello", 1, model.IssueStateOpen)
	storeIssue(t, db, issue, t0)
	created := createAllocation(t, repo, "Alice", issue.URL, 1234)

	err := repo.WithinTx(ctx, func(tx driven.LedgerTx) error {
		got, err := tx.GetAllocation(ctx, "alice", issue.URL)
		require.NoError(t, err)
		a, ok := got.Get()
		require.True(t, ok)
		assert.Equal(t, created.ID, a.ID)
		assert.Equal(t, int64(1234), a.Cents)
		assert.Equal(t, model.CurrencyUSD, a.Currency)

		none, err := tx.GetAllocation(ctx, "bob", issue.URL)
		require.NoError(t, err)
		assert.True(t, none.IsAbsent())
		return nil
	})
	require.NoError(t, err)
}

func TestAllocationRepo_SumAllocated_ScopedToRecipient(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAllocationRepo(db)
	ctx := context.Background()

	i1 := makeIssue(t, "octocat", "a", 1, model.IssueStateOpen)
	i2 := makeIssue(t, "octocat", "b", 2, model.IssueStateOpen)
	other := makeIssue(t, "hubot", "a", 1, model.IssueStateOpen)
	for _, i := range []model.Issue{i1, i2, other} {
		storeIssue(t, db, i, t0)
	}
	createAllocation(t, repo, "alice", i1.URL, 300)
	createAllocation(t, repo, "alice", i2.URL, 600)
	createAllocation(t, repo, "alice", other.URL, 999)
	createAllocation(t, repo, "bob", i1.URL, 50)

	err := repo.WithinTx(ctx, func(tx driven.LedgerTx) error {
		sum, err := tx.SumAllocated(ctx, "alice", "OctoCat")
		require.NoError(t, err)
		assert.Equal(t, int64(900), sum)

		sum, err = tx.SumAllocated(ctx, "carol", "octocat")
		require.NoError(t, err)
		assert.Zero(t, sum)
		return nil
	})
	require.NoError(t, err)

	list, err := repo.ListBySponsor(ctx, "alice", "octocat")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	all, err := repo.ListBySponsor(ctx, "alice", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAllocationRepo_UpdateAndDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAllocationRepo(db)
	ctx := context.Background()

	issue := makeIssue(t, "octocat", "hello", 1, model.IssueStateOpen)
	storeIssue(t, db, issue, t0)
	a := createAllocation(t, repo, "alice", issue.URL, 100)

	later := t0.Add(time.Hour)
	require.NoError(t, repo.WithinTx(ctx, func(tx driven.LedgerTx) error {
		return tx.UpdateAllocation(ctx, a.ID, 250, later)
	}))

	list, err := repo.ListBySponsor(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(250), list[0].Cents)
	assert.True(t, list[0].UpdatedAt.Equal(later))
	assert.True(t, list[0].CreatedAt.Equal(t0))

	require.NoError(t, repo.WithinTx(ctx, func(tx driven.LedgerTx) error {
		return tx.DeleteAllocation(ctx, a.ID)
	}))

	list, err = repo.ListBySponsor(ctx, "alice", "")
	require.NoError(t, err)
	assert.Empty(t, list)

	err = repo.WithinTx(ctx, func(tx driven.LedgerTx) error {
		return tx.DeleteAllocation(ctx, a.ID)
	})
	assert.Error(t, err)
}

func TestAllocationRepo_WithinTx_RollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAllocationRepo(db)
	ctx := context.Background()

	issue := makeIssue(t, "octocat", "hello", 1, model.IssueStateOpen)
	storeIssue(t, db, issue, t0)

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(tx driven.LedgerTx) error {
		require.NoError(t, tx.CreateAllocation(ctx, model.Allocation{
			ID: model.NewAllocationID(), SponsorLogin: "alice", IssueURL: issue.URL,
			Cents: 10, Currency: model.CurrencyUSD, CreatedAt: t0, UpdatedAt: t0,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := repo.ListBySponsor(ctx, "alice", "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAllocationRepo_RejectsDuplicatesAndZero(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAllocationRepo(db)
	ctx := context.Background()

	issue := makeIssue(t, "octocat", "hello", 1, model.IssueStateOpen)
	storeIssue(t, db, issue, t0)
	createAllocation(t, repo, "alice", issue.URL, 100)

	insert := func(sponsor string, cents int64) error {
		return repo.WithinTx(ctx, func(tx driven.LedgerTx) error {
			return tx.CreateAllocation(ctx, model.Allocation{
				ID: model.NewAllocationID(), SponsorLogin: sponsor, IssueURL: issue.URL,
				Cents: cents, Currency: model.CurrencyUSD, CreatedAt: t0, UpdatedAt: t0,
			})
		})
	}

	assert.Error(t, insert("ALICE", 50), "unique (sponsor, issue) is case-insensitive")
	assert.Error(t, insert("bob", 0), "zero amounts are not stored")
	assert.NoError(t, insert("bob", 1))
}

package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

// setupTestDB creates a named shared in-memory SQLite database with migrations
// applied. Reader and writer share it via cache=shared; the name derived from
// t.Name() isolates parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// WAL does not apply to in-memory databases, so journal_mode is omitted.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", url.PathEscape(t.Name()), pragmas)

	db, err := open(context.Background(), dsn, dsn)
	require.NoError(t, err, "open test db")

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func makeIssue(t *testing.T, owner, repo string, number int, state model.IssueState, labels ...string) model.Issue {
	t.Helper()

	snapshot := model.IssueSnapshot{
		Number:    number,
		Title:     fmt.Sprintf("Issue %d", number),
		Body:      "Details",
		State:     state,
		URL:       fmt.Sprintf("https://github.com/%s/%s/issues/%d", owner, repo, number),
		User:      model.IssueUser{Login: "reporter"},
		CreatedAt: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 11, 9, 0, 0, 0, time.UTC),
	}
	for _, l := range labels {
		snapshot.Labels = append(snapshot.Labels, model.Label{Name: l, Color: "0e8a16"})
	}

	issue, err := model.NewIssue(snapshot)
	require.NoError(t, err)
	return issue
}

// storeIssue upserts the issue with a fixed clock so list ordering is predictable.
func storeIssue(t *testing.T, db *DB, issue model.Issue, at time.Time) {
	t.Helper()

	repo := NewIssueRepo(db)
	repo.now = func() time.Time { return at }
	_, err := repo.Upsert(context.Background(), issue)
	require.NoError(t, err)
}

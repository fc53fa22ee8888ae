package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IssueStore = (*IssueRepo)(nil)

// IssueRepo is the SQLite implementation of the IssueStore port interface.
// The snapshot is stored as a JSON document in the data column; owner, repo,
// number and state are denormalized next to it for lookups.
type IssueRepo struct {
	db  *DB
	now func() time.Time
}

// NewIssueRepo creates a new IssueRepo backed by the given DB.
func NewIssueRepo(db *DB) *IssueRepo {
	return &IssueRepo{db: db, now: time.Now}
}

const issueColumns = `url, owner, repo, number, data, created_at, updated_at`

// Get retrieves an issue by owner, repo and number. Returns nil, nil if the
// issue is not in the catalog.
func (r *IssueRepo) Get(ctx context.Context, ref model.IssueRef) (*model.Issue, error) {
	issue, err := getIssue(ctx, r.db.Reader, ref)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", ref, err)
	}
	return issue, nil
}

// Upsert inserts the issue or replaces the stored snapshot. The first-seen
// created_at is preserved across updates.
func (r *IssueRepo) Upsert(ctx context.Context, issue model.Issue) (bool, error) {
	data, err := json.Marshal(issue.Snapshot)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot %s: %w", issue.URL, err)
	}
	now := formatTime(r.now())

	var inserted bool
	err = r.db.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := getIssue(ctx, tx, issue.Ref)
		if err != nil {
			return err
		}

		if existing == nil {
			const insert = `
				INSERT INTO issues (url, owner, repo, number, state, data, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`
			_, err = tx.ExecContext(ctx, insert,
				issue.URL, issue.Ref.Owner, issue.Ref.Repo, issue.Ref.Number,
				string(issue.State()), string(data), now, now,
			)
			inserted = true
			return err
		}

		const update = `UPDATE issues SET state = ?, data = ?, updated_at = ? WHERE url = ?`
		_, err = tx.ExecContext(ctx, update, string(issue.State()), string(data), now, existing.URL)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("upsert issue %s: %w", issue.URL, err)
	}

	return inserted, nil
}

// Delete removes the issue; its allocations go with it via ON DELETE CASCADE.
func (r *IssueRepo) Delete(ctx context.Context, ref model.IssueRef) (bool, error) {
	const query = `DELETE FROM issues WHERE owner = ? AND repo = ? AND number = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return false, fmt.Errorf("delete issue %s: %w", ref, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListURLsByOwner returns every stored issue URL under owner.
func (r *IssueRepo) ListURLsByOwner(ctx context.Context, owner string) ([]string, error) {
	const query = `SELECT url FROM issues WHERE owner = ? ORDER BY url`

	rows, err := r.db.Reader.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list issue urls for %s: %w", owner, err)
	}
	defer rows.Close()

	urls := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan issue url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue urls: %w", err)
	}

	return urls, nil
}

// ListWithAllocations returns the filtered issues, oldest first, each with its
// allocations ordered by creation time.
func (r *IssueRepo) ListWithAllocations(ctx context.Context, filter driven.IssueFilter) ([]model.FundedIssue, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Owner != "" {
		conds = append(conds, "i.owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Repo != "" {
		conds = append(conds, "i.repo = ?")
		args = append(args, filter.Repo)
	}
	if filter.OpenOnly {
		conds = append(conds, "i.state = ?")
		args = append(args, string(model.IssueStateOpen))
	}
	if filter.FundedOnly {
		conds = append(conds, "EXISTS (SELECT 1 FROM allocations x WHERE x.issue_url = i.url)")
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := `
		SELECT i.url, i.owner, i.repo, i.number, i.data, i.created_at, i.updated_at,
		       a.id, a.sponsor_login, a.cents, a.currency, a.created_at, a.updated_at
		FROM issues i
		LEFT JOIN allocations a ON a.issue_url = i.url
		` + where + `
		ORDER BY i.created_at, i.url, a.created_at, a.id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query issues with allocations: %w", err)
	}
	defer rows.Close()

	result := []model.FundedIssue{}
	for rows.Next() {
		var row issueRow
		var allocID, sponsor, currency, allocCreated, allocUpdated sql.NullString
		var cents sql.NullInt64

		err := rows.Scan(
			&row.url, &row.owner, &row.repo, &row.number,
			&row.data, &row.createdAt, &row.updatedAt,
			&allocID, &sponsor, &cents, &currency, &allocCreated, &allocUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan issue with allocation: %w", err)
		}

		if n := len(result); n == 0 || result[n-1].Issue.URL != row.url {
			issue, err := row.toModel()
			if err != nil {
				return nil, err
			}
			result = append(result, model.FundedIssue{Issue: *issue, Allocations: []model.Allocation{}})
		}

		if !allocID.Valid {
			continue
		}

		a := model.Allocation{
			ID:           allocID.String,
			SponsorLogin: sponsor.String,
			IssueURL:     row.url,
			Cents:        cents.Int64,
			Currency:     currency.String,
		}
		if a.CreatedAt, err = parseTime(allocCreated.String); err != nil {
			return nil, fmt.Errorf("parse allocation created_at: %w", err)
		}
		if a.UpdatedAt, err = parseTime(allocUpdated.String); err != nil {
			return nil, fmt.Errorf("parse allocation updated_at: %w", err)
		}

		last := &result[len(result)-1]
		last.Allocations = append(last.Allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues with allocations: %w", err)
	}

	return result, nil
}

func getIssue(ctx context.Context, q queryer, ref model.IssueRef) (*model.Issue, error) {
	const query = `SELECT ` + issueColumns + ` FROM issues WHERE owner = ? AND repo = ? AND number = ?`

	issue, err := scanIssue(q.QueryRowContext(ctx, query, ref.Owner, ref.Repo, ref.Number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return issue, nil
}

// issueRow is the raw column set of the issues table.
type issueRow struct {
	url, owner, repo     string
	number               int
	data                 string
	createdAt, updatedAt string
}

func (row issueRow) toModel() (*model.Issue, error) {
	issue := model.Issue{
		URL: row.url,
		Ref: model.IssueRef{Owner: row.owner, Repo: row.repo, Number: row.number},
	}

	if err := json.Unmarshal([]byte(row.data), &issue.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", row.url, err)
	}

	var err error
	if issue.CreatedAt, err = parseTime(row.createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if issue.UpdatedAt, err = parseTime(row.updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &issue, nil
}

func scanIssue(s scanner) (*model.Issue, error) {
	var row issueRow
	if err := s.Scan(&row.url, &row.owner, &row.repo, &row.number, &row.data, &row.createdAt, &row.updatedAt); err != nil {
		return nil, err
	}
	return row.toModel()
}

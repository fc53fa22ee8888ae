package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.AllocationStore = (*AllocationRepo)(nil)
	_ driven.LedgerTx        = (*ledgerTx)(nil)
)

// AllocationRepo is the SQLite implementation of the AllocationStore port interface.
type AllocationRepo struct {
	db *DB
}

// NewAllocationRepo creates a new AllocationRepo backed by the given DB.
func NewAllocationRepo(db *DB) *AllocationRepo {
	return &AllocationRepo{db: db}
}

// WithinTx runs fn in a writer transaction. Since the writer pool holds a single
// connection, no other write can interleave with fn.
func (r *AllocationRepo) WithinTx(ctx context.Context, fn func(tx driven.LedgerTx) error) error {
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

// ListBySponsor returns the sponsor's allocations, restricted to issues owned by
// recipient when recipient is non-empty. Newest first.
func (r *AllocationRepo) ListBySponsor(ctx context.Context, sponsor, recipient string) ([]model.Allocation, error) {
	query := `
		SELECT a.id, a.sponsor_login, a.issue_url, a.cents, a.currency, a.created_at, a.updated_at
		FROM allocations a
		JOIN issues i ON i.url = a.issue_url
		WHERE a.sponsor_login = ?
	`
	args := []any{sponsor}
	if recipient != "" {
		query += ` AND i.owner = ?`
		args = append(args, recipient)
	}
	query += ` ORDER BY a.updated_at DESC, a.id`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list allocations for %s: %w", sponsor, err)
	}
	defer rows.Close()

	allocations := []model.Allocation{}
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		allocations = append(allocations, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}

	return allocations, nil
}

// ledgerTx binds LedgerTx operations to one *sql.Tx.
type ledgerTx struct {
	tx *sql.Tx
}

func (t *ledgerTx) GetIssue(ctx context.Context, ref model.IssueRef) (*model.Issue, error) {
	issue, err := getIssue(ctx, t.tx, ref)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", ref, err)
	}
	return issue, nil
}

func (t *ledgerTx) GetAllocation(ctx context.Context, sponsor, issueURL string) (mo.Option[model.Allocation], error) {
	const query = `
		SELECT id, sponsor_login, issue_url, cents, currency, created_at, updated_at
		FROM allocations
		WHERE sponsor_login = ? AND issue_url = ?
	`

	a, err := scanAllocation(t.tx.QueryRowContext(ctx, query, sponsor, issueURL))
	if errors.Is(err, sql.ErrNoRows) {
		return mo.None[model.Allocation](), nil
	}
	if err != nil {
		return mo.None[model.Allocation](), fmt.Errorf("get allocation %s -> %s: %w", sponsor, issueURL, err)
	}

	return mo.Some(*a), nil
}

func (t *ledgerTx) SumAllocated(ctx context.Context, sponsor, recipient string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(a.cents), 0)
		FROM allocations a
		JOIN issues i ON i.url = a.issue_url
		WHERE a.sponsor_login = ? AND i.owner = ?
	`

	var total int64
	if err := t.tx.QueryRowContext(ctx, query, sponsor, recipient).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum allocations %s -> %s: %w", sponsor, recipient, err)
	}
	return total, nil
}

func (t *ledgerTx) CreateAllocation(ctx context.Context, a model.Allocation) error {
	const query = `
		INSERT INTO allocations (id, sponsor_login, issue_url, cents, currency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, query,
		a.ID, a.SponsorLogin, a.IssueURL, a.Cents, a.Currency,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create allocation %s -> %s: %w", a.SponsorLogin, a.IssueURL, err)
	}
	return nil
}

func (t *ledgerTx) UpdateAllocation(ctx context.Context, id string, cents int64, at time.Time) error {
	const query = `UPDATE allocations SET cents = ?, updated_at = ? WHERE id = ?`

	result, err := t.tx.ExecContext(ctx, query, cents, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update allocation %s: %w", id, err)
	}
	return expectOneRow(result, "allocation", id)
}

func (t *ledgerTx) DeleteAllocation(ctx context.Context, id string) error {
	const query = `DELETE FROM allocations WHERE id = ?`

	result, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete allocation %s: %w", id, err)
	}
	return expectOneRow(result, "allocation", id)
}

func expectOneRow(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("%s %s not found", what, id)
	}
	return nil
}

func scanAllocation(s scanner) (*model.Allocation, error) {
	var a model.Allocation
	var createdAt, updatedAt string

	err := s.Scan(&a.ID, &a.SponsorLogin, &a.IssueURL, &a.Cents, &a.Currency, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	a.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &a, nil
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"FillLedger/internal/execution"
	"FillLedger/internal/integrity"
)

// IssueStore persists integrity issues. Issues are append-then-transition:
// inserted as OPEN, mutated only through an explicit resolution update.
type IssueStore struct {
	db *sql.DB
}

func NewIssueStore(db *sql.DB) *IssueStore {
	return &IssueStore{db: db}
}

// Insert writes a new issue. Re-detecting an identical open issue (same
// kind, key and execution) is a no-op so validation passes stay idempotent.
func (s *IssueStore) Insert(ctx context.Context, issue *integrity.Issue) error {
	var account, instrument interface{}
	if issue.Key != nil {
		account = issue.Key.Account
		instrument = issue.Key.Instrument
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills.integrity_issues
			(id, account, instrument, execution_id, kind, severity, description, repairable, resolution, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (kind, coalesce(account, ''), coalesce(instrument, ''), coalesce(execution_id, ''))
			WHERE resolution = 'OPEN'
		DO NOTHING
	`, issue.ID, account, instrument, issue.ExecutionID, string(issue.Kind),
		string(issue.Severity), issue.Description, issue.Repairable,
		string(issue.Resolution), issue.DetectedAt)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

// CountOpen returns the number of currently open issues across all keys.
func (s *IssueStore) CountOpen(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM fills.integrity_issues WHERE resolution = 'OPEN'
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open issues: %w", err)
	}
	return count, nil
}

// Get fetches one issue by identifier.
func (s *IssueStore) Get(ctx context.Context, id uuid.UUID) (*integrity.Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account, instrument, execution_id, kind, severity, description, repairable, resolution, detected_at
		FROM fills.integrity_issues
		WHERE id = $1
	`, id)
	return scanIssue(row)
}

// ListOpenByKey returns the open issues for one position key.
func (s *IssueStore) ListOpenByKey(ctx context.Context, key execution.PositionKey) ([]*integrity.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, instrument, execution_id, kind, severity, description, repairable, resolution, detected_at
		FROM fills.integrity_issues
		WHERE account = $1 AND instrument = $2 AND resolution = 'OPEN'
		ORDER BY detected_at
	`, key.Account, key.Instrument)
	if err != nil {
		return nil, fmt.Errorf("list open issues %s: %w", key, err)
	}
	defer rows.Close()

	var issues []*integrity.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// UpdateResolution applies an explicit resolution transition.
func (s *IssueStore) UpdateResolution(ctx context.Context, id uuid.UUID, resolution integrity.Resolution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fills.integrity_issues
		SET resolution = $2
		WHERE id = $1 AND resolution = 'OPEN'
	`, id, string(resolution))
	if err != nil {
		return fmt.Errorf("update issue %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("issue %s not found or not open", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row rowScanner) (*integrity.Issue, error) {
	var (
		issue               integrity.Issue
		account, instrument sql.NullString
		executionID         sql.NullString
		kind, severity      string
		resolution          string
	)
	if err := row.Scan(&issue.ID, &account, &instrument, &executionID,
		&kind, &severity, &issue.Description, &issue.Repairable,
		&resolution, &issue.DetectedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("issue not found")
		}
		return nil, fmt.Errorf("scan issue: %w", err)
	}

	if account.Valid && instrument.Valid {
		issue.Key = &execution.PositionKey{Account: account.String, Instrument: instrument.String}
	}
	if executionID.Valid {
		v := executionID.String
		issue.ExecutionID = &v
	}
	issue.Kind = integrity.Kind(kind)
	issue.Severity = integrity.Severity(severity)
	issue.Resolution = integrity.Resolution(resolution)
	issue.DetectedAt = issue.DetectedAt.UTC()
	return &issue, nil
}

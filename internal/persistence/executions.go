// Package persistence implements the durable Postgres stores for
// executions, positions and integrity issues, plus in-memory equivalents
// used by tests.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"FillLedger/internal/execution"
)

// ExecutionStore persists immutable execution facts. Accepted executions
// are append-only: never updated, never deleted.
type ExecutionStore struct {
	db *sql.DB
}

func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// InsertBatch appends a batch of executions using a multi-row INSERT.
// ON CONFLICT DO NOTHING makes re-insertion of an already-stored identifier
// harmless, which is the second guard behind the dedup ledger and what
// makes ingestion retries safe.
func (s *ExecutionStore) InsertBatch(ctx context.Context, execs []*execution.Execution) (int64, error) {
	if len(execs) == 0 {
		return 0, nil
	}

	query := `INSERT INTO fills.executions
		(id, account, instrument, side, quantity, price, commission, executed_at, running_hint)
		VALUES `

	values := make([]string, 0, len(execs))
	args := make([]interface{}, 0, len(execs)*9)

	for i, e := range execs {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.ID, e.Account, e.Instrument, int32(e.Side), e.Quantity,
			e.Price.String(), e.Commission.String(), e.Timestamp, e.RunningHint,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (id) DO NOTHING"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert executions: %w", err)
	}
	inserted, _ := res.RowsAffected()
	return inserted, nil
}

// ListByKey returns the full execution history for one position key,
// ordered by (executed_at, sequence), the derivation order.
func (s *ExecutionStore) ListByKey(ctx context.Context, key execution.PositionKey) ([]*execution.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, instrument, side, quantity, price, commission, executed_at, sequence, running_hint
		FROM fills.executions
		WHERE account = $1 AND instrument = $2
		ORDER BY executed_at, sequence
	`, key.Account, key.Instrument)
	if err != nil {
		return nil, fmt.Errorf("list executions %s: %w", key, err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// GetByIDs fetches executions by identifier; missing identifiers are simply
// absent from the result (the integrity validator treats absence as a
// completeness failure).
func (s *ExecutionStore) GetByIDs(ctx context.Context, ids []string) (map[string]*execution.Execution, error) {
	result := make(map[string]*execution.Execution, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, instrument, side, quantity, price, commission, executed_at, sequence, running_hint
		FROM fills.executions
		WHERE id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get executions by id: %w", err)
	}
	defer rows.Close()

	execs, err := scanExecutions(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range execs {
		result[e.ID] = e
	}
	return result, nil
}

func scanExecutions(rows *sql.Rows) ([]*execution.Execution, error) {
	var execs []*execution.Execution
	for rows.Next() {
		var (
			e          execution.Execution
			side       int32
			price      string
			commission string
			ts         time.Time
			hint       sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Account, &e.Instrument, &side, &e.Quantity,
			&price, &commission, &ts, &e.Sequence, &hint); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}

		e.Side = execution.Side(side)
		e.Timestamp = ts
		var err error
		if e.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price for %s: %w", e.ID, err)
		}
		if e.Commission, err = decimal.NewFromString(commission); err != nil {
			return nil, fmt.Errorf("parse commission for %s: %w", e.ID, err)
		}
		if hint.Valid {
			v := hint.Int64
			e.RunningHint = &v
		}
		execs = append(execs, &e)
	}
	return execs, rows.Err()
}

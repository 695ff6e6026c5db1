package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"FillLedger/internal/execution"
	"FillLedger/internal/position"
)

// PositionStore persists derived positions. Positions for a key are only
// ever replaced wholesale, in one transaction: readers see either the
// previous full set or the new full set, never a mix.
type PositionStore struct {
	db *sql.DB
}

func NewPositionStore(db *sql.DB) *PositionStore {
	return &PositionStore{db: db}
}

// ReplaceForKey deletes the key's position set and writes the rebuilt one
// atomically.
func (s *PositionStore) ReplaceForKey(ctx context.Context, key execution.PositionKey, positions []*position.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM fills.positions WHERE account = $1 AND instrument = $2
	`, key.Account, key.Instrument); err != nil {
		return fmt.Errorf("delete positions %s: %w", key, err)
	}

	if len(positions) > 0 {
		query := `INSERT INTO fills.positions
			(account, instrument, seq_in_key, status, direction, entry_time, avg_entry_price,
			 exit_time, avg_exit_price, quantity, net_quantity, peak_quantity,
			 realized_pnl, commission, refs)
			VALUES `

		values := make([]string, 0, len(positions))
		args := make([]interface{}, 0, len(positions)*15)

		for i, p := range positions {
			base := i * 15
			ph := make([]string, 15)
			for j := range ph {
				ph[j] = fmt.Sprintf("$%d", base+j+1)
			}
			values = append(values, "("+strings.Join(ph, ", ")+")")

			refs, err := json.Marshal(p.Refs)
			if err != nil {
				return fmt.Errorf("marshal refs %s/%d: %w", key, p.Sequence, err)
			}

			var exitTime interface{}
			if p.ExitTime != nil {
				exitTime = *p.ExitTime
			}
			var exitPrice interface{}
			if p.AvgExitPrice != nil {
				exitPrice = p.AvgExitPrice.String()
			}

			args = append(args,
				p.Key.Account, p.Key.Instrument, p.Sequence, int32(p.Status), int32(p.Direction),
				p.EntryTime, p.AvgEntryPrice.String(), exitTime, exitPrice,
				p.Quantity, p.NetQuantity, p.PeakQuantity,
				p.RealizedPnL.String(), p.Commission.String(), refs,
			)
		}

		query += strings.Join(values, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert positions %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace %s: %w", key, err)
	}
	return nil
}

// ListByKey returns the key's positions ordered by sequence-within-key.
func (s *PositionStore) ListByKey(ctx context.Context, key execution.PositionKey) ([]*position.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, instrument, seq_in_key, status, direction, entry_time, avg_entry_price,
		       exit_time, avg_exit_price, quantity, net_quantity, peak_quantity,
		       realized_pnl, commission, refs
		FROM fills.positions
		WHERE account = $1 AND instrument = $2
		ORDER BY seq_in_key
	`, key.Account, key.Instrument)
	if err != nil {
		return nil, fmt.Errorf("list positions %s: %w", key, err)
	}
	defer rows.Close()

	var positions []*position.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ClaimedElsewhere reports execution identifiers that are already referenced
// by positions of a different key. A non-empty result is cross-key
// contamination: a fatal integrity condition that blocks rebuild.
func (s *PositionStore) ClaimedElsewhere(ctx context.Context, key execution.PositionKey, executionIDs []string) ([]execution.PositionKey, error) {
	if len(executionIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(executionIDs))
	args := []interface{}{key.Account, key.Instrument}
	for i, id := range executionIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.account, p.instrument
		FROM fills.positions p, jsonb_array_elements(p.refs) ref
		WHERE (p.account <> $1 OR p.instrument <> $2)
		  AND ref->>'ExecutionID' IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("claims check %s: %w", key, err)
	}
	defer rows.Close()

	var claims []execution.PositionKey
	for rows.Next() {
		var k execution.PositionKey
		if err := rows.Scan(&k.Account, &k.Instrument); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, k)
	}
	return claims, rows.Err()
}

func scanPosition(rows *sql.Rows) (*position.Position, error) {
	var (
		p                 position.Position
		status, direction int32
		entryPrice        string
		exitTime          sql.NullTime
		exitPrice         sql.NullString
		pnl, commission   string
		refs              []byte
	)
	if err := rows.Scan(&p.Key.Account, &p.Key.Instrument, &p.Sequence, &status, &direction,
		&p.EntryTime, &entryPrice, &exitTime, &exitPrice,
		&p.Quantity, &p.NetQuantity, &p.PeakQuantity, &pnl, &commission, &refs); err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}

	p.Status = position.Status(status)
	p.Direction = position.Direction(direction)

	var err error
	if p.AvgEntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return nil, fmt.Errorf("parse entry price: %w", err)
	}
	if exitTime.Valid {
		t := exitTime.Time.UTC()
		p.ExitTime = &t
	}
	if exitPrice.Valid {
		v, err := decimal.NewFromString(exitPrice.String)
		if err != nil {
			return nil, fmt.Errorf("parse exit price: %w", err)
		}
		p.AvgExitPrice = &v
	}
	if p.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
		return nil, fmt.Errorf("parse realized pnl: %w", err)
	}
	if p.Commission, err = decimal.NewFromString(commission); err != nil {
		return nil, fmt.Errorf("parse commission: %w", err)
	}
	if err := json.Unmarshal(refs, &p.Refs); err != nil {
		return nil, fmt.Errorf("unmarshal refs: %w", err)
	}

	p.EntryTime = p.EntryTime.UTC()
	return &p, nil
}

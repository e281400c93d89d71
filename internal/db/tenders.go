package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/tender-monitor/internal/types"
)

const upsertTenderSQL = `INSERT INTO tenders (id, record, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, updated_at = NOW()
WHERE tenders.record IS DISTINCT FROM EXCLUDED.record`

// UpsertTenders writes records in one batch. Rows whose stored JSON is already
// identical are left alone. It returns how many rows were inserted or changed.
func (db *DB) UpsertTenders(ctx context.Context, records []types.TenderRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		jsonBytes, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal tender %s: %w", rec.ID, err)
		}
		batch.Queue(upsertTenderSQL, rec.ID, jsonBytes)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for _, rec := range records {
		tag, err := results.Exec()
		if err != nil {
			return written, fmt.Errorf("failed to upsert tender %s: %w", rec.ID, err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// GetTender retrieves one mirrored record, or nil if it is not present
func (db *DB) GetTender(ctx context.Context, id string) (*types.TenderRecord, error) {
	var jsonBytes []byte
	err := db.pool.QueryRow(ctx, `SELECT record FROM tenders WHERE id = $1`, id).Scan(&jsonBytes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tender %s: %w", id, err)
	}

	var rec types.TenderRecord
	if err := json.Unmarshal(jsonBytes, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse tender %s: %w", id, err)
	}
	return &rec, nil
}

// CountTenders returns the number of mirrored records
func (db *DB) CountTenders(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tenders: %w", err)
	}
	return n, nil
}

package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/slide-narrator/internal/progress"
)

var _ progress.Store = (*DB)(nil)

// SetProgress overwrites a document's progress
func (db *DB) SetProgress(ctx context.Context, documentID int64, p progress.Progress) error {
	p = progress.New(p.Completed, p.Total)
	result, err := db.pool.Exec(ctx,
		`UPDATE documents SET progress_completed = $2, progress_total = $3 WHERE id = $1`,
		documentID, p.Completed, p.Total,
	)
	if err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("document not found: %d", documentID)
	}
	return nil
}

// AdvanceProgress writes p unless it lowers completed for the same total.
// The comparison runs in the UPDATE so concurrent reporters cannot regress it.
func (db *DB) AdvanceProgress(ctx context.Context, documentID int64, p progress.Progress) (progress.Progress, error) {
	p = progress.New(p.Completed, p.Total)
	var out progress.Progress
	err := db.pool.QueryRow(ctx,
		`UPDATE documents SET
		     progress_completed = CASE
		         WHEN progress_total = $3 THEN GREATEST(progress_completed, $2)
		         ELSE $2
		     END,
		     progress_total = $3
		 WHERE id = $1
		 RETURNING progress_completed, progress_total`,
		documentID, p.Completed, p.Total,
	).Scan(&out.Completed, &out.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return progress.Progress{}, fmt.Errorf("document not found: %d", documentID)
		}
		return progress.Progress{}, fmt.Errorf("failed to advance progress: %w", err)
	}
	return out, nil
}

// GetProgress returns a document's progress, zero when the document is unknown
func (db *DB) GetProgress(ctx context.Context, documentID int64) (progress.Progress, error) {
	var out progress.Progress
	err := db.pool.QueryRow(ctx,
		`SELECT progress_completed, progress_total FROM documents WHERE id = $1`,
		documentID,
	).Scan(&out.Completed, &out.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return progress.Progress{}, nil
		}
		return progress.Progress{}, fmt.Errorf("failed to get progress: %w", err)
	}
	return out, nil
}

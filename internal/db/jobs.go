package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/slide-narrator/internal/jobs"
)

// JobStore implements jobs.Store on PostgreSQL
type JobStore struct {
	pool *pgxpool.Pool
}

var _ jobs.Store = (*JobStore)(nil)

// Create inserts a new job record at the kind's initial stage
func (s *JobStore) Create(ctx context.Context, kind jobs.Kind, subjectID, relatedArtifactID int64) (*jobs.Record, error) {
	rec, err := insertJob(ctx, s.pool, kind, subjectID, relatedArtifactID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, s.alreadyRunning(ctx, kind, subjectID)
		}
		return nil, err
	}
	return rec, nil
}

// CreateExclusive inserts a job unless an active job of the same kind exists
// for the subject. An advisory lock on (kind, subject) serializes concurrent
// launches and the partial unique index backs it up.
func (s *JobStore) CreateExclusive(ctx context.Context, kind jobs.Kind, subjectID, relatedArtifactID int64) (*jobs.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(kind, subjectID)); err != nil {
		return nil, fmt.Errorf("failed to acquire launch lock: %w", err)
	}

	existing, err := getActive(ctx, tx, subjectID, kind)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &jobs.AlreadyRunningError{SubjectID: subjectID, Kind: kind, ExistingID: existing.ID}
	}

	rec, err := insertJob(ctx, tx, kind, subjectID, relatedArtifactID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, s.alreadyRunning(ctx, kind, subjectID)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit job creation: %w", err)
	}
	return rec, nil
}

// Get returns the job record or jobs.ErrNotFound
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*jobs.Record, error) {
	rec, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return rec, nil
}

// GetActiveBySubject returns the newest active job of a kind, or nil
func (s *JobStore) GetActiveBySubject(ctx context.Context, subjectID int64, kind jobs.Kind) (*jobs.Record, error) {
	return getActive(ctx, s.pool, subjectID, kind)
}

// Update locks the row, applies m and writes the result with a bumped version
func (s *JobStore) Update(ctx context.Context, id uuid.UUID, m jobs.Mutator) (*jobs.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}

	next, err := jobs.Apply(*cur, m, time.Now())
	if err != nil {
		return nil, err
	}

	updated, err := scanJob(tx.QueryRow(ctx,
		`UPDATE jobs SET
		     stage = $2,
		     related_artifact_id = $3,
		     error_message = $4,
		     failed_from = $5,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $1 AND version = $6
		 RETURNING `+jobColumns,
		id, next.Stage.String(), next.RelatedArtifactID, nullIfEmpty(next.ErrorMessage),
		stageOrNil(next.FailedFrom), cur.Version,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: version %d of job %s was replaced", jobs.ErrStageConflict, cur.Version, id)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, s.alreadyRunning(ctx, cur.Kind, cur.SubjectID)
		}
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return updated, nil
}

// List returns jobs matching the filter, newest first
func (s *JobStore) List(ctx context.Context, filter jobs.ListFilter) ([]jobs.Record, error) {
	query, args := buildListQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.Record
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return out, nil
}

func buildListQuery(filter jobs.ListFilter) (string, []any) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	argNum := 1

	if filter.SubjectID != nil {
		query += fmt.Sprintf(" AND subject_id = $%d", argNum)
		args = append(args, *filter.SubjectID)
		argNum++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argNum)
		args = append(args, string(filter.Kind))
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, filter.Limit)
	return query, args
}

func (s *JobStore) alreadyRunning(ctx context.Context, kind jobs.Kind, subjectID int64) error {
	existing, err := getActive(ctx, s.pool, subjectID, kind)
	if err != nil {
		return err
	}
	running := &jobs.AlreadyRunningError{SubjectID: subjectID, Kind: kind}
	if existing != nil {
		running.ExistingID = existing.ID
	}
	return running
}

// querier is the subset of pgxpool.Pool and pgx.Tx the job helpers need
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertJob(ctx context.Context, q querier, kind jobs.Kind, subjectID, relatedArtifactID int64) (*jobs.Record, error) {
	initial, err := jobs.InitialStage(kind)
	if err != nil {
		return nil, err
	}
	rec, err := scanJob(q.QueryRow(ctx,
		`INSERT INTO jobs (id, subject_id, kind, stage, version, related_artifact_id)
		 VALUES ($1, $2, $3, $4, 1, $5)
		 RETURNING `+jobColumns,
		uuid.New(), subjectID, string(kind), initial.String(), relatedArtifactID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return rec, nil
}

func getActive(ctx context.Context, q querier, subjectID int64, kind jobs.Kind) (*jobs.Record, error) {
	rec, err := scanJob(q.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE subject_id = $1 AND kind = $2 AND `+activeJobCondition+`
		 ORDER BY created_at DESC LIMIT 1`,
		subjectID, string(kind),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active job: %w", err)
	}
	return rec, nil
}

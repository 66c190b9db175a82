package db

import (
	"fmt"
	"hash/fnv"

	"github.com/jonathan/slide-narrator/internal/jobs"
)

// jobColumns is the column list every job query selects, in scan order
const jobColumns = `id, subject_id, kind, stage, version, related_artifact_id,
	error_message, failed_from, created_at, updated_at`

// activeJobCondition matches the partial unique index jobs_one_active_per_subject
const activeJobCondition = `stage NOT IN ('FINISH', 'FAILED')`

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Record, error) {
	var (
		rec          jobs.Record
		kind, stage  string
		errorMessage *string
		failedFrom   *string
	)
	if err := row.Scan(&rec.ID, &rec.SubjectID, &kind, &stage, &rec.Version, &rec.RelatedArtifactID,
		&errorMessage, &failedFrom, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if rec.Kind, err = jobs.ParseKind(kind); err != nil {
		return nil, fmt.Errorf("job %s: %w", rec.ID, err)
	}
	if rec.Stage, err = jobs.ParseStage(rec.Kind, stage); err != nil {
		return nil, fmt.Errorf("job %s: %w", rec.ID, err)
	}
	if errorMessage != nil {
		rec.ErrorMessage = *errorMessage
	}
	if failedFrom != nil && *failedFrom != "" {
		if rec.FailedFrom, err = jobs.ParseStage(rec.Kind, *failedFrom); err != nil {
			return nil, fmt.Errorf("job %s failed_from: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// advisoryKey maps (kind, subject) onto the bigint space of pg_advisory_xact_lock
func advisoryKey(kind jobs.Kind, subjectID int64) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s:%d", kind, subjectID)
	return int64(h.Sum64())
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stageOrNil(s jobs.Stage) *string {
	if !s.Valid() {
		return nil
	}
	name := s.String()
	return &name
}

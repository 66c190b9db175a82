package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/slide-narrator/internal/subject"
	"github.com/jonathan/slide-narrator/internal/types"
)

var _ subject.Store = (*DB)(nil)

// CreateSubject inserts a subject and returns its id
func (db *DB) CreateSubject(ctx context.Context, title string) (int64, error) {
	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO subjects (title) VALUES ($1) RETURNING id`,
		title,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create subject: %w", err)
	}
	return id, nil
}

// CreateDocument registers a source document for a subject
func (db *DB) CreateDocument(ctx context.Context, subjectID int64, storagePath string) (*subject.Document, error) {
	doc := subject.Document{SubjectID: subjectID, StoragePath: storagePath}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO documents (subject_id, storage_path) VALUES ($1, $2) RETURNING id`,
		subjectID, storagePath,
	).Scan(&doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return &doc, nil
}

// GetDocument returns a document or subject.ErrDocumentNotFound
func (db *DB) GetDocument(ctx context.Context, documentID int64) (*subject.Document, error) {
	var doc subject.Document
	err := db.pool.QueryRow(ctx,
		`SELECT id, subject_id, storage_path FROM documents WHERE id = $1`,
		documentID,
	).Scan(&doc.ID, &doc.SubjectID, &doc.StoragePath)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", subject.ErrDocumentNotFound, documentID)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// SaveDrafts replaces the subject's serialized page drafts
func (db *DB) SaveDrafts(ctx context.Context, subjectID int64, drafts *types.PageDrafts) error {
	data, err := subject.EncodeDrafts(drafts)
	if err != nil {
		return err
	}
	return db.saveBlob(ctx, subjectID, "drafts", data)
}

// LoadDrafts returns the subject's page drafts, nil when none are stored
func (db *DB) LoadDrafts(ctx context.Context, subjectID int64) (*types.PageDrafts, error) {
	data, err := db.loadBlob(ctx, subjectID, "drafts")
	if err != nil {
		return nil, err
	}
	return subject.DecodeDrafts(data)
}

// SaveTranscript replaces the subject's transcript
func (db *DB) SaveTranscript(ctx context.Context, subjectID int64, transcript *types.Transcript) error {
	data, err := subject.EncodeTranscript(transcript)
	if err != nil {
		return err
	}
	return db.saveBlob(ctx, subjectID, "transcript", data)
}

// LoadTranscript returns the subject's transcript, nil when none is stored
func (db *DB) LoadTranscript(ctx context.Context, subjectID int64) (*types.Transcript, error) {
	data, err := db.loadBlob(ctx, subjectID, "transcript")
	if err != nil {
		return nil, err
	}
	return subject.DecodeTranscript(data)
}

// saveBlob writes one JSONB column; column is always a package constant
func (db *DB) saveBlob(ctx context.Context, subjectID int64, column string, data []byte) error {
	result, err := db.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE subjects SET %s = $2, updated_at = NOW() WHERE id = $1`, column),
		subjectID, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save %s for subject %d: %w", column, subjectID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("subject not found: %d", subjectID)
	}
	return nil
}

func (db *DB) loadBlob(ctx context.Context, subjectID int64, column string) ([]byte, error) {
	var data []byte
	err := db.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM subjects WHERE id = $1`, column),
		subjectID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load %s for subject %d: %w", column, subjectID, err)
	}
	return data, nil
}

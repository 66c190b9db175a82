// Package subject persists the serialized drafts and transcript attached to
// a subject, and resolves the documents being transcribed.
package subject

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jonathan/slide-narrator/internal/schemas"
	"github.com/jonathan/slide-narrator/internal/types"
)

// ErrDocumentNotFound is returned when a document id has no row
var ErrDocumentNotFound = errors.New("document not found")

// Document is a source file belonging to a subject
type Document struct {
	ID          int64  `json:"id"`
	SubjectID   int64  `json:"subject_id"`
	StoragePath string `json:"storage_path"`
}

// Store persists subject-attached state
type Store interface {
	SaveDrafts(ctx context.Context, subjectID int64, drafts *types.PageDrafts) error
	// LoadDrafts returns nil when nothing is stored
	LoadDrafts(ctx context.Context, subjectID int64) (*types.PageDrafts, error)
	SaveTranscript(ctx context.Context, subjectID int64, transcript *types.Transcript) error
	// LoadTranscript returns nil when nothing is stored
	LoadTranscript(ctx context.Context, subjectID int64) (*types.Transcript, error)
	GetDocument(ctx context.Context, documentID int64) (*Document, error)
}

// EncodeDrafts serializes drafts for storage
func EncodeDrafts(drafts *types.PageDrafts) ([]byte, error) {
	data, err := json.Marshal(drafts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal drafts: %w", err)
	}
	return data, nil
}

// DecodeDrafts validates and parses stored drafts
func DecodeDrafts(data []byte) (*types.PageDrafts, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if err := schemas.ValidatePageDrafts(data); err != nil {
		return nil, fmt.Errorf("stored drafts are invalid: %w", err)
	}
	var drafts types.PageDrafts
	if err := json.Unmarshal(data, &drafts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal drafts: %w", err)
	}
	return &drafts, nil
}

// EncodeTranscript serializes a transcript for storage
func EncodeTranscript(transcript *types.Transcript) ([]byte, error) {
	if err := transcript.Check(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(transcript)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return data, nil
}

// DecodeTranscript validates and parses a stored transcript
func DecodeTranscript(data []byte) (*types.Transcript, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if err := schemas.ValidateTranscript(data); err != nil {
		return nil, fmt.Errorf("stored transcript is invalid: %w", err)
	}
	var transcript types.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	if err := transcript.Check(); err != nil {
		return nil, fmt.Errorf("stored transcript is invalid: %w", err)
	}
	return &transcript, nil
}

type blobs struct {
	drafts     []byte
	transcript []byte
}

// MemoryStore keeps subject state in memory, serialized the same way the
// database stores it.
type MemoryStore struct {
	mu        sync.Mutex
	subjects  map[int64]blobs
	documents map[int64]Document
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects:  make(map[int64]blobs),
		documents: make(map[int64]Document),
	}
}

// AddDocument registers a document
func (m *MemoryStore) AddDocument(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = doc
}

// SaveDrafts stores drafts, replacing any previous value
func (m *MemoryStore) SaveDrafts(_ context.Context, subjectID int64, drafts *types.PageDrafts) error {
	data, err := EncodeDrafts(drafts)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.subjects[subjectID]
	b.drafts = data
	m.subjects[subjectID] = b
	return nil
}

// LoadDrafts returns stored drafts or nil
func (m *MemoryStore) LoadDrafts(_ context.Context, subjectID int64) (*types.PageDrafts, error) {
	m.mu.Lock()
	data := m.subjects[subjectID].drafts
	m.mu.Unlock()
	return DecodeDrafts(data)
}

// SaveTranscript stores the transcript, replacing any previous value
func (m *MemoryStore) SaveTranscript(_ context.Context, subjectID int64, transcript *types.Transcript) error {
	data, err := EncodeTranscript(transcript)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.subjects[subjectID]
	b.transcript = data
	m.subjects[subjectID] = b
	return nil
}

// LoadTranscript returns the stored transcript or nil
func (m *MemoryStore) LoadTranscript(_ context.Context, subjectID int64) (*types.Transcript, error) {
	m.mu.Lock()
	data := m.subjects[subjectID].transcript
	m.mu.Unlock()
	return DecodeTranscript(data)
}

// GetDocument returns the document or ErrDocumentNotFound
func (m *MemoryStore) GetDocument(_ context.Context, documentID int64) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, documentID)
	}
	return &doc, nil
}

package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is durable access to job records. Update must be atomic per job_id.
type Store interface {
	// Create inserts a new record at the kind's initial stage
	Create(ctx context.Context, kind Kind, subjectID, relatedArtifactID int64) (*Record, error)
	// CreateExclusive inserts a new record unless an active record of the same
	// kind exists for the subject, in which case it returns *AlreadyRunningError.
	// The check and the insert are a single atomic operation.
	CreateExclusive(ctx context.Context, kind Kind, subjectID, relatedArtifactID int64) (*Record, error)
	// Get returns the record or ErrNotFound
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	// GetActiveBySubject returns the active record of a kind for a subject, or nil
	GetActiveBySubject(ctx context.Context, subjectID int64, kind Kind) (*Record, error)
	// Update applies m to the current record under a read-modify-write lock
	Update(ctx context.Context, id uuid.UUID, m Mutator) (*Record, error)
	// List returns records matching the filter, newest first
	List(ctx context.Context, filter ListFilter) ([]Record, error)
}

// ListFilter holds optional filters for listing jobs
type ListFilter struct {
	SubjectID *int64
	Kind      Kind
	Limit     int
}

// MemoryStore is an in-process Store. All operations serialize on one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]Record),
		now:     time.Now,
	}
}

// Create inserts a new record
func (s *MemoryStore) Create(ctx context.Context, kind Kind, subjectID, relatedArtifactID int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(ctx, kind, subjectID, relatedArtifactID)
}

// CreateExclusive inserts a new record unless one is already active
func (s *MemoryStore) CreateExclusive(ctx context.Context, kind Kind, subjectID, relatedArtifactID int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.activeLocked(subjectID, kind); existing != nil {
		return nil, &AlreadyRunningError{SubjectID: subjectID, Kind: kind, ExistingID: existing.ID}
	}
	return s.insertLocked(ctx, kind, subjectID, relatedArtifactID)
}

func (s *MemoryStore) insertLocked(ctx context.Context, kind Kind, subjectID, relatedArtifactID int64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	initial, err := InitialStage(kind)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec := Record{
		ID:                uuid.New(),
		SubjectID:         subjectID,
		Kind:              kind,
		Stage:             initial,
		Version:           1,
		RelatedArtifactID: relatedArtifactID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.records[rec.ID] = rec
	return &rec, nil
}

// Get returns a copy of the record
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &rec, nil
}

// GetActiveBySubject returns the active record for subject and kind, or nil
func (s *MemoryStore) GetActiveBySubject(ctx context.Context, subjectID int64, kind Kind) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(subjectID, kind), nil
}

func (s *MemoryStore) activeLocked(subjectID int64, kind Kind) *Record {
	var found *Record
	for _, rec := range s.records {
		if rec.SubjectID != subjectID || rec.Kind != kind || !rec.Active() {
			continue
		}
		if found == nil || rec.CreatedAt.After(found.CreatedAt) {
			r := rec
			found = &r
		}
	}
	return found
}

// Update applies m under the store lock
func (s *MemoryStore) Update(ctx context.Context, id uuid.UUID, m Mutator) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, err := Apply(cur, m, s.now())
	if err != nil {
		return nil, err
	}
	if !cur.Active() && next.Active() {
		if existing := s.activeLocked(cur.SubjectID, cur.Kind); existing != nil {
			return nil, &AlreadyRunningError{SubjectID: cur.SubjectID, Kind: cur.Kind, ExistingID: existing.ID}
		}
	}
	s.records[id] = next
	return &next, nil
}

// List returns matching records, newest first
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if filter.SubjectID != nil && rec.SubjectID != *filter.SubjectID {
			continue
		}
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Package guard rejects a second launch of a job kind for a subject while one
// is still active.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/slide-narrator/internal/jobs"
)

// Decision is the outcome of a point-in-time launch check
type Decision struct {
	Allowed    bool
	ExistingID uuid.UUID
}

// Guard serializes launches per (subject, kind) in this process and relies on
// the store's CreateExclusive for cross-process exclusion.
type Guard struct {
	store jobs.Store
	locks *KeyedMutex
}

// New creates a guard over store
func New(store jobs.Store) *Guard {
	return &Guard{store: store, locks: NewKeyedMutex()}
}

// TryStart reports whether a new job may start for the subject. The answer
// can change before the caller creates a record; use Launch to create.
func (g *Guard) TryStart(ctx context.Context, subjectID int64, kind jobs.Kind) (Decision, error) {
	existing, err := g.store.GetActiveBySubject(ctx, subjectID, kind)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check active jobs: %w", err)
	}
	if existing != nil {
		return Decision{Allowed: false, ExistingID: existing.ID}, nil
	}
	return Decision{Allowed: true}, nil
}

// Launch creates a job record unless one is already active for the subject,
// in which case it returns *jobs.AlreadyRunningError carrying the existing id.
func (g *Guard) Launch(ctx context.Context, kind jobs.Kind, subjectID, relatedArtifactID int64) (*jobs.Record, error) {
	unlock := g.locks.Lock(lockKey(kind, subjectID))
	defer unlock()

	rec, err := g.store.CreateExclusive(ctx, kind, subjectID, relatedArtifactID)
	if err != nil {
		var running *jobs.AlreadyRunningError
		if errors.As(err, &running) {
			return nil, running
		}
		return nil, fmt.Errorf("failed to create %s job: %w", kind, err)
	}
	return rec, nil
}

func lockKey(kind jobs.Kind, subjectID int64) string {
	return fmt.Sprintf("%s/%d", kind, subjectID)
}

// KeyedMutex hands out one mutex per key and drops it once unused
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock func
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

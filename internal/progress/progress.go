// Package progress tracks fine-grained "completed:total" counters attached to
// the artifact being transformed, independent of the coarse job stage.
package progress

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Progress is a completed/total pair. 0 <= Completed <= Total.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// String formats progress as "completed:total"
func (p Progress) String() string {
	return fmt.Sprintf("%d:%d", p.Completed, p.Total)
}

// Done reports whether every unit is complete
func (p Progress) Done() bool {
	return p.Total > 0 && p.Completed >= p.Total
}

// Parse reads a "completed:total" string
func Parse(s string) (Progress, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Progress{}, fmt.Errorf("invalid progress %q: expected completed:total", s)
	}
	completed, err := strconv.Atoi(parts[0])
	if err != nil {
		return Progress{}, fmt.Errorf("invalid progress %q: %w", s, err)
	}
	total, err := strconv.Atoi(parts[1])
	if err != nil {
		return Progress{}, fmt.Errorf("invalid progress %q: %w", s, err)
	}
	return New(completed, total), nil
}

// New builds a progress value clamped into 0 <= completed <= total
func New(completed, total int) Progress {
	if total < 0 {
		total = 0
	}
	if completed < 0 {
		completed = 0
	}
	if completed > total {
		completed = total
	}
	return Progress{Completed: completed, Total: total}
}

// Store persists progress per artifact
type Store interface {
	// SetProgress overwrites the artifact's progress
	SetProgress(ctx context.Context, artifactID int64, p Progress) error
	// AdvanceProgress writes p unless it would lower Completed for the same
	// Total, and returns the stored value.
	AdvanceProgress(ctx context.Context, artifactID int64, p Progress) (Progress, error)
	// GetProgress returns the stored progress, zero when none is stored
	GetProgress(ctx context.Context, artifactID int64) (Progress, error)
}

// Tracker reports progress from inside long-running stages. Each stage
// episode starts with Begin; Report never moves Completed backwards within an
// episode.
type Tracker struct {
	store Store
}

// NewTracker creates a tracker writing to store
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Begin starts a new episode at 0:total
func (t *Tracker) Begin(ctx context.Context, artifactID int64, total int) error {
	if err := t.store.SetProgress(ctx, artifactID, New(0, total)); err != nil {
		return fmt.Errorf("failed to begin progress for artifact %d: %w", artifactID, err)
	}
	return nil
}

// Report records completed units. Out-of-range values are clamped and
// downward writes within an episode are ignored.
func (t *Tracker) Report(ctx context.Context, artifactID int64, completed, total int) (Progress, error) {
	p, err := t.store.AdvanceProgress(ctx, artifactID, New(completed, total))
	if err != nil {
		return Progress{}, fmt.Errorf("failed to report progress for artifact %d: %w", artifactID, err)
	}
	return p, nil
}

// Get returns the last stored progress
func (t *Tracker) Get(ctx context.Context, artifactID int64) (Progress, error) {
	return t.store.GetProgress(ctx, artifactID)
}

// MemoryStore is an in-process progress Store
type MemoryStore struct {
	mu     sync.Mutex
	values map[int64]Progress
}

// NewMemoryStore creates an empty in-memory progress store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[int64]Progress)}
}

// SetProgress overwrites the stored value
func (m *MemoryStore) SetProgress(_ context.Context, artifactID int64, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[artifactID] = New(p.Completed, p.Total)
	return nil
}

// AdvanceProgress stores p unless it regresses the current episode
func (m *MemoryStore) AdvanceProgress(_ context.Context, artifactID int64, p Progress) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := merge(m.values[artifactID], p)
	m.values[artifactID] = next
	return next, nil
}

// GetProgress returns the stored value
func (m *MemoryStore) GetProgress(_ context.Context, artifactID int64) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[artifactID], nil
}

// merge applies an incoming report to the current value. A report with the
// same total as the current episode can only raise Completed.
func merge(current, incoming Progress) Progress {
	incoming = New(incoming.Completed, incoming.Total)
	if incoming.Total == current.Total && incoming.Completed < current.Completed {
		return current
	}
	return incoming
}

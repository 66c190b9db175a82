package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NoArtifact marks a record with no related artifact (pure audio/video jobs)
const NoArtifact int64 = -1

// ErrNotFound is returned when a job_id has no record
var ErrNotFound = errors.New("job not found")

// ErrStageConflict is returned when a checkpoint expected the record at a stage
// it is no longer at, meaning another execution advanced or reset it.
var ErrStageConflict = errors.New("job stage changed concurrently")

// ErrInvalidStage is returned for stage names outside a kind's machine
var ErrInvalidStage = errors.New("invalid stage")

// AlreadyRunningError reports an active job of the same kind for a subject
type AlreadyRunningError struct {
	SubjectID  int64
	Kind       Kind
	ExistingID uuid.UUID
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("%s job already running for subject %d: %s", e.Kind, e.SubjectID, e.ExistingID)
}

// Record is the durable row describing one pipeline execution
type Record struct {
	ID                uuid.UUID `json:"job_id"`
	SubjectID         int64     `json:"subject_id"`
	Kind              Kind      `json:"kind"`
	Stage             Stage     `json:"stage"`
	Version           int       `json:"version"`
	RelatedArtifactID int64     `json:"related_artifact_id"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	// FailedFrom is the stage the job was executing when it moved to FAILED.
	FailedFrom Stage     `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Active reports whether the record has not reached a terminal stage
func (r *Record) Active() bool {
	return !r.Stage.Terminal()
}

// HasRelatedArtifact reports whether the record points to a document
func (r *Record) HasRelatedArtifact() bool {
	return r.RelatedArtifactID != NoArtifact && r.RelatedArtifactID != 0
}

// Mutator receives the current record and returns its replacement. The store
// owns ID, Kind, SubjectID, Version and UpdatedAt; changes to those are ignored.
type Mutator func(current Record) (Record, error)

// AdvanceFrom moves a record at expected to the next stage and clears any
// recorded error.
func AdvanceFrom(expected Stage) Mutator {
	return func(cur Record) (Record, error) {
		if cur.Stage != expected {
			return cur, fmt.Errorf("%w: expected %s, found %s", ErrStageConflict, expected, cur.Stage)
		}
		next, err := Next(cur.Stage)
		if err != nil {
			return cur, err
		}
		cur.Stage = next
		cur.ErrorMessage = ""
		return cur, nil
	}
}

// NoteFailure records a stage-fatal error without moving the stage
func NoteFailure(expected Stage, message string) Mutator {
	return func(cur Record) (Record, error) {
		if cur.Stage != expected {
			return cur, fmt.Errorf("%w: expected %s, found %s", ErrStageConflict, expected, cur.Stage)
		}
		cur.ErrorMessage = message
		return cur, nil
	}
}

// FailFrom moves the record to its kind's failure stage, remembering where it
// failed. Kinds without a failure stage keep their stage and only record the error.
func FailFrom(expected Stage, message string) Mutator {
	return func(cur Record) (Record, error) {
		if cur.Stage != expected {
			return cur, fmt.Errorf("%w: expected %s, found %s", ErrStageConflict, expected, cur.Stage)
		}
		cur.ErrorMessage = message
		if failed, ok := FailureStage(cur.Stage); ok {
			cur.FailedFrom = cur.Stage
			cur.Stage = failed
		}
		return cur, nil
	}
}

// FailRestartingAt is FailFrom for failures whose cause lies in an earlier
// stage: the record remembers restart instead of expected as the stage to
// re-drive from.
func FailRestartingAt(expected, restart Stage, message string) Mutator {
	return func(cur Record) (Record, error) {
		if restart.Kind() != cur.Kind || restart.Terminal() {
			return cur, fmt.Errorf("%w: cannot restart %s jobs at %s", ErrInvalidStage, cur.Kind, restart)
		}
		next, err := FailFrom(expected, message)(cur)
		if err != nil {
			return cur, err
		}
		if next.Stage.Failed() {
			next.FailedFrom = restart
		}
		return next, nil
	}
}

// ResetTo puts a record back to stage for an operator-triggered re-run
func ResetTo(stage Stage) Mutator {
	return func(cur Record) (Record, error) {
		if stage.Kind() != cur.Kind || !stage.Valid() {
			return cur, fmt.Errorf("stage %s is not valid for kind %s", stage, cur.Kind)
		}
		cur.Stage = stage
		cur.ErrorMessage = ""
		cur.FailedFrom = Stage{}
		return cur, nil
	}
}

// Apply runs m against cur and enforces the fields a store owns. Stores call
// it inside their read-modify-write section.
func Apply(cur Record, m Mutator, now time.Time) (Record, error) {
	next, err := m(cur)
	if err != nil {
		return cur, err
	}
	if !next.Stage.Valid() || next.Stage.Kind() != cur.Kind {
		return cur, fmt.Errorf("stage %s is not valid for kind %s", next.Stage, cur.Kind)
	}
	next.ID = cur.ID
	next.Kind = cur.Kind
	next.SubjectID = cur.SubjectID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	return next, nil
}

package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/slide-narrator/internal/jobs"
)

// ErrJobBusy is returned when the job is already executing in this process
var ErrJobBusy = errors.New("job is already running")

// ErrJobFailed is returned when a FAILED job is resumed without force
var ErrJobFailed = errors.New("job has failed")

// ErrUnsupportedKind is returned for kinds this pipeline does not execute
var ErrUnsupportedKind = errors.New("job kind is not executed by this pipeline")

// ErrNoSpeeches is returned when a synthesis job has nothing to narrate
var ErrNoSpeeches = errors.New("no speeches to synthesize")

// ErrDocumentMismatch is returned when a document belongs to another subject
var ErrDocumentMismatch = errors.New("document does not belong to subject")

// StageError reports work that failed inside a stage. Terminal is set when
// the failure moved the job to FAILED.
type StageError struct {
	JobID    uuid.UUID
	Stage    jobs.Stage
	Terminal bool
	Err      error
}

func (e *StageError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("job %s failed at %s: %v", e.JobID, e.Stage, e.Err)
	}
	return fmt.Sprintf("job %s stopped at %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ItemError reports one page or segment whose retries were exhausted
type ItemError struct {
	Item int
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Item, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// MissingAudioError reports narrated pages that have no synthesized audio.
// A job failing with it restarts at PROCESSING, which fills only the gaps.
type MissingAudioError struct {
	Pages []int
}

func (e *MissingAudioError) Error() string {
	return fmt.Sprintf("pages %v have no narration audio", e.Pages)
}

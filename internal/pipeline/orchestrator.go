// Package pipeline drives transcription and narration jobs through their
// stages, checkpointing the job record after every stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/slide-narrator/internal/capability"
	"github.com/jonathan/slide-narrator/internal/guard"
	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/progress"
	"github.com/jonathan/slide-narrator/internal/retry"
	"github.com/jonathan/slide-narrator/internal/storage"
	"github.com/jonathan/slide-narrator/internal/subject"
)

// DefaultVoice is the synthesis voice used when none is configured
const DefaultVoice = "en-US-Neural2-D"

// Files is the subject-scoped file layout the stages read and write
type Files interface {
	SavePage(ctx context.Context, subjectID int64, n int, data []byte) (string, error)
	ListPages(subjectID int64) ([]storage.File, error)
	ClearPages(subjectID int64) error
	SaveAudio(ctx context.Context, subjectID int64, n int, data []byte) (string, error)
	HasAudio(subjectID int64, n int) bool
	ListAudio(subjectID int64) ([]storage.File, error)
	ClearAudio(subjectID int64) error
	SaveCaptions(ctx context.Context, subjectID int64, n int, data []byte) (string, error)
	SaveSubtitles(ctx context.Context, subjectID int64, data []byte) (string, error)
	ResetHLSDir(subjectID int64) (string, error)
	WorkDir(subjectID int64) (string, func() error, error)
}

// Dispatcher hands a job id to whatever executes jobs
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID) error
}

// Capabilities are the external providers the stages call
type Capabilities struct {
	Segmenter    capability.Segmenter
	Drafter      capability.Drafter
	SpeechWriter capability.SpeechWriter
	Synthesizer  capability.Synthesizer
	Assembler    capability.VideoAssembler
	Packager     capability.StreamPackager
}

// ProgressEvent is emitted at stage boundaries and after each unit of work
type ProgressEvent struct {
	JobID    uuid.UUID `json:"job_id"`
	Stage    string    `json:"stage"`
	Message  string    `json:"message"`
	Progress string    `json:"progress,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// Deps are the collaborators an Orchestrator is built from. The process
// entry point owns their lifecycle.
type Deps struct {
	Jobs       jobs.Store
	Subjects   subject.Store
	Progress   progress.Store
	Files      Files
	Caps       Capabilities
	Retry      retry.Policy
	ItemPolicy ItemPolicy
	Voice      string
	Dispatcher Dispatcher
	Logger     *log.Logger
	OnProgress ProgressCallback
}

// Payload carries submission inputs. DocumentID is required for TRANSCRIBE;
// Speeches replace the subject transcript for AUDIO_VIDEO_SYNTH when set.
type Payload struct {
	DocumentID int64    `json:"document_id,omitempty"`
	Speeches   []string `json:"speeches,omitempty"`
}

// Status is a point-in-time view of a job read from the store
type Status struct {
	JobID     uuid.UUID `json:"job_id"`
	Kind      jobs.Kind `json:"kind"`
	SubjectID int64     `json:"subject_id"`
	Stage     string    `json:"stage"`
	Progress  string    `json:"progress"`
	Terminal  bool      `json:"terminal"`
	Failed    bool      `json:"failed"`
	Running   bool      `json:"running"`
	Error     string    `json:"error,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Orchestrator executes jobs stage by stage
type Orchestrator struct {
	jobs       jobs.Store
	subjects   subject.Store
	tracker    *progress.Tracker
	files      Files
	caps       Capabilities
	retry      retry.Policy
	itemPolicy ItemPolicy
	voice      string
	guard      *guard.Guard
	logger     *log.Logger
	onProgress ProgressCallback

	mu         sync.Mutex
	dispatcher Dispatcher
	inFlight   map[uuid.UUID]struct{}
}

// New builds an Orchestrator from deps
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	itemPolicy := deps.ItemPolicy
	if itemPolicy == "" {
		itemPolicy = ItemSkip
	}
	voice := deps.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	return &Orchestrator{
		jobs:       deps.Jobs,
		subjects:   deps.Subjects,
		tracker:    progress.NewTracker(deps.Progress),
		files:      deps.Files,
		caps:       deps.Caps,
		retry:      deps.Retry,
		itemPolicy: itemPolicy,
		voice:      voice,
		guard:      guard.New(deps.Jobs),
		logger:     logger,
		onProgress: deps.OnProgress,
		dispatcher: deps.Dispatcher,
		inFlight:   make(map[uuid.UUID]struct{}),
	}
}

// SetDispatcher replaces the dispatcher used by Submit and Resume. A nil
// dispatcher makes Resume run the job on the calling goroutine.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatcher = d
}

func (o *Orchestrator) currentDispatcher() Dispatcher {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dispatcher
}

// Submit creates a job record and dispatches it. A second active job of the
// same kind for the subject is rejected with *jobs.AlreadyRunningError.
func (o *Orchestrator) Submit(ctx context.Context, kind jobs.Kind, subjectID int64, payload Payload) (uuid.UUID, error) {
	related := jobs.NoArtifact
	switch kind {
	case jobs.KindTranscribe:
		doc, err := o.subjects.GetDocument(ctx, payload.DocumentID)
		if err != nil {
			return uuid.Nil, err
		}
		if doc.SubjectID != subjectID {
			return uuid.Nil, fmt.Errorf("%w: document %d belongs to subject %d, not %d", ErrDocumentMismatch, doc.ID, doc.SubjectID, subjectID)
		}
		related = doc.ID
	case jobs.KindAudioVideoSynth:
		if len(payload.Speeches) == 0 {
			existing, err := o.subjects.LoadTranscript(ctx, subjectID)
			if err != nil {
				return uuid.Nil, err
			}
			if existing == nil || len(existing.Speeches) == 0 {
				return uuid.Nil, fmt.Errorf("%w for subject %d", ErrNoSpeeches, subjectID)
			}
		}
		if payload.DocumentID > 0 {
			related = payload.DocumentID
		}
	default:
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	rec, err := o.guard.Launch(ctx, kind, subjectID, related)
	if err != nil {
		return uuid.Nil, err
	}
	o.logger.Printf("[job %s] created %s for subject %d", rec.ID, kind, subjectID)

	if kind == jobs.KindAudioVideoSynth {
		if err := o.prepareSynthesis(ctx, subjectID, payload.Speeches); err != nil {
			_, _ = o.jobs.Update(ctx, rec.ID, jobs.FailFrom(rec.Stage, err.Error()))
			return rec.ID, err
		}
	}

	if d := o.currentDispatcher(); d != nil {
		if err := d.Dispatch(ctx, rec.ID); err != nil {
			return rec.ID, fmt.Errorf("job %s created but not dispatched: %w", rec.ID, err)
		}
	}
	return rec.ID, nil
}

// Resume continues a job from its persisted stage. FAILED jobs are refused
// unless force is set, in which case they are reset to the stage they
// failed from first.
func (o *Orchestrator) Resume(ctx context.Context, jobID uuid.UUID, force bool) error {
	rec, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.Stage.Failed() {
		if !force {
			return fmt.Errorf("%w: %s (%s)", ErrJobFailed, jobID, rec.ErrorMessage)
		}
		if _, err := o.Reset(ctx, jobID, ""); err != nil {
			return err
		}
	} else if rec.Stage.Terminal() {
		o.logger.Printf("[job %s] already at %s, nothing to resume", jobID, rec.Stage)
		return nil
	}

	if d := o.currentDispatcher(); d != nil {
		return d.Dispatch(ctx, jobID)
	}
	return o.Run(ctx, jobID)
}

// Reset puts a job back to stageName for a re-run. An empty stageName means
// the stage the job failed from, or the kind's initial stage.
func (o *Orchestrator) Reset(ctx context.Context, jobID uuid.UUID, stageName string) (*jobs.Record, error) {
	if o.running(jobID) {
		return nil, fmt.Errorf("%w: %s", ErrJobBusy, jobID)
	}
	rec, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var target jobs.Stage
	switch {
	case stageName != "":
		if target, err = jobs.ParseStage(rec.Kind, stageName); err != nil {
			return nil, err
		}
	case rec.FailedFrom.Valid():
		target = rec.FailedFrom
	default:
		if target, err = jobs.InitialStage(rec.Kind); err != nil {
			return nil, err
		}
	}
	if target.Terminal() {
		return nil, fmt.Errorf("%w: cannot reset job %s to terminal stage %s", jobs.ErrInvalidStage, jobID, target)
	}

	updated, err := o.jobs.Update(ctx, jobID, jobs.ResetTo(target))
	if err != nil {
		return nil, fmt.Errorf("failed to reset job %s: %w", jobID, err)
	}
	o.logger.Printf("[job %s] reset from %s to %s", jobID, rec.Stage, target)
	return updated, nil
}

// Status reads the last checkpoint and progress without waiting on a running
// stage. Failed is set for FAILED jobs and for idle jobs whose last stage
// recorded a fatal error.
func (o *Orchestrator) Status(ctx context.Context, jobID uuid.UUID) (*Status, error) {
	rec, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	running := o.running(jobID)
	var p progress.Progress
	if rec.HasRelatedArtifact() {
		if p, err = o.tracker.Get(ctx, rec.RelatedArtifactID); err != nil {
			return nil, fmt.Errorf("failed to read progress: %w", err)
		}
	}
	return &Status{
		JobID:     rec.ID,
		Kind:      rec.Kind,
		SubjectID: rec.SubjectID,
		Stage:     rec.Stage.String(),
		Progress:  p.String(),
		Terminal:  rec.Stage.Terminal(),
		Failed:    rec.Stage.Failed() || (rec.ErrorMessage != "" && !running),
		Running:   running,
		Error:     rec.ErrorMessage,
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// Run executes the job on the calling goroutine until it reaches a terminal
// stage, a stage fails, or ctx is done. A cancelled job stays at the stage it
// was running.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) error {
	if !o.acquire(jobID) {
		return fmt.Errorf("%w: %s", ErrJobBusy, jobID)
	}
	defer o.release(jobID)

	rec, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	for {
		switch {
		case rec.Stage.Failed():
			return fmt.Errorf("%w: %s (%s)", ErrJobFailed, jobID, rec.ErrorMessage)
		case rec.Stage.Terminal():
			o.emit(rec, "finished", "")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		started := rec.Stage
		o.logger.Printf("[job %s] %s: running %s", jobID, rec.Kind, started)
		o.emit(rec, "started", "")

		if err := o.execute(ctx, rec); err != nil {
			return o.stageFailed(ctx, rec, err)
		}

		next, err := o.jobs.Update(ctx, jobID, jobs.AdvanceFrom(started))
		if err != nil {
			return fmt.Errorf("failed to checkpoint job %s after %s: %w", jobID, started, err)
		}
		o.logger.Printf("[job %s] checkpoint %s -> %s (version %d)", jobID, started, next.Stage, next.Version)
		rec = next
	}
}

// execute performs the work of rec's current stage
func (o *Orchestrator) execute(ctx context.Context, rec *jobs.Record) error {
	switch rec.Stage {
	case jobs.TranscribeKickoff:
		return nil
	case jobs.TranscribeSegment:
		return o.segment(ctx, rec)
	case jobs.TranscribeDraft:
		return o.draft(ctx, rec)
	case jobs.TranscribeGenTranscript:
		return o.genTranscript(ctx, rec)
	case jobs.SynthProcessing:
		return o.synthesize(ctx, rec)
	case jobs.SynthAudio:
		return o.audioReady(ctx, rec)
	case jobs.SynthVideo:
		return o.video(ctx, rec)
	default:
		return fmt.Errorf("%w: %s at %s", ErrUnsupportedKind, rec.Kind, rec.Stage)
	}
}

// stageFailed records a stage's failure. Cancellation and lost checkpoints
// leave the record untouched so the job stays resumable.
func (o *Orchestrator) stageFailed(ctx context.Context, rec *jobs.Record, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		o.logger.Printf("[job %s] interrupted at %s", rec.ID, rec.Stage)
		return fmt.Errorf("job %s interrupted at %s: %w", rec.ID, rec.Stage, ctxErr)
	}
	if errors.Is(cause, jobs.ErrStageConflict) || errors.Is(cause, ErrUnsupportedKind) {
		return cause
	}

	fail := jobs.FailFrom(rec.Stage, cause.Error())
	var missing *MissingAudioError
	if errors.As(cause, &missing) {
		fail = jobs.FailRestartingAt(rec.Stage, jobs.SynthProcessing, cause.Error())
	}
	updated, err := o.jobs.Update(ctx, rec.ID, fail)
	if err != nil {
		o.logger.Printf("[job %s] failed to record failure at %s: %v", rec.ID, rec.Stage, err)
		return errors.Join(&StageError{JobID: rec.ID, Stage: rec.Stage, Err: cause}, err)
	}

	terminal := updated.Stage.Failed()
	o.logger.Printf("[job %s] %s failed: %v", rec.ID, rec.Stage, cause)
	o.emit(updated, "failed: "+cause.Error(), "")
	return &StageError{JobID: rec.ID, Stage: rec.Stage, Terminal: terminal, Err: cause}
}

// reportItem advances the related artifact's progress after one unit of work
func (o *Orchestrator) reportItem(ctx context.Context, rec *jobs.Record, completed, total int) {
	if !rec.HasRelatedArtifact() {
		return
	}
	p, err := o.tracker.Report(ctx, rec.RelatedArtifactID, completed, total)
	if err != nil {
		o.logger.Printf("[job %s] %v", rec.ID, err)
		return
	}
	o.emit(rec, "progress", p.String())
}

// beginEpisode starts a progress episode on the related artifact
func (o *Orchestrator) beginEpisode(ctx context.Context, rec *jobs.Record, total int) error {
	if !rec.HasRelatedArtifact() {
		return nil
	}
	if err := o.tracker.Begin(ctx, rec.RelatedArtifactID, total); err != nil {
		return err
	}
	o.emit(rec, "progress", progress.New(0, total).String())
	return nil
}

// itemFailed applies the item policy. It returns nil when the item is skipped.
func (o *Orchestrator) itemFailed(ctx context.Context, rec *jobs.Record, item int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	itemErr := &ItemError{Item: item, Err: err}
	if o.itemPolicy == ItemFail {
		return itemErr
	}
	o.logger.Printf("[job %s] %s: skipping %v", rec.ID, rec.Stage, itemErr)
	return nil
}

func (o *Orchestrator) emit(rec *jobs.Record, message, p string) {
	if o.onProgress == nil {
		return
	}
	o.onProgress(ProgressEvent{JobID: rec.ID, Stage: rec.Stage.String(), Message: message, Progress: p})
}

func (o *Orchestrator) acquire(jobID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inFlight[jobID]; ok {
		return false
	}
	o.inFlight[jobID] = struct{}{}
	return true
}

func (o *Orchestrator) release(jobID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, jobID)
}

func (o *Orchestrator) running(jobID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[jobID]
	return ok
}

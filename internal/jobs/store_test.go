package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, err := s.Create(ctx, KindTranscribe, 7, 3)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, TranscribeKickoff, rec.Stage)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, int64(3), rec.RelatedArtifactID)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, err := s.Create(ctx, KindAudioVideoSynth, 1, NoArtifact)
	require.NoError(t, err)

	updated, err := s.Update(ctx, rec.ID, AdvanceFrom(SynthProcessing))
	require.NoError(t, err)
	assert.Equal(t, SynthAudio, updated.Stage)
	assert.Equal(t, 2, updated.Version)

	updated, err = s.Update(ctx, rec.ID, AdvanceFrom(SynthAudio))
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version)
	assert.False(t, updated.UpdatedAt.Before(rec.UpdatedAt))
}

func TestMemoryStore_UpdateConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, err := s.Create(ctx, KindTranscribe, 1, 1)
	require.NoError(t, err)

	_, err = s.Update(ctx, rec.ID, AdvanceFrom(TranscribeKickoff))
	require.NoError(t, err)

	// A second worker that also started from KICKOFF must not overwrite
	_, err = s.Update(ctx, rec.ID, AdvanceFrom(TranscribeKickoff))
	assert.ErrorIs(t, err, ErrStageConflict)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, TranscribeSegment, got.Stage)
	assert.Equal(t, 2, got.Version)
}

func TestMemoryStore_UpdateNotFound(t *testing.T) {
	_, err := NewMemoryStore().Update(context.Background(), uuid.New(), AdvanceFrom(TranscribeKickoff))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateRejectsForeignStage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, err := s.Create(ctx, KindTranscribe, 1, 1)
	require.NoError(t, err)

	_, err = s.Update(ctx, rec.ID, func(cur Record) (Record, error) {
		cur.Stage = SynthVideo
		return cur, nil
	})
	assert.Error(t, err)

	got, _ := s.Get(ctx, rec.ID)
	assert.Equal(t, 1, got.Version)
}

func TestMemoryStore_UpdateOwnsIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, err := s.Create(ctx, KindTranscribe, 5, 1)
	require.NoError(t, err)

	updated, err := s.Update(ctx, rec.ID, func(cur Record) (Record, error) {
		cur.ID = uuid.New()
		cur.SubjectID = 99
		cur.Version = 100
		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, updated.ID)
	assert.Equal(t, int64(5), updated.SubjectID)
	assert.Equal(t, 2, updated.Version)
}

func TestMemoryStore_FailFrom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, err := s.Create(ctx, KindAudioVideoSynth, 1, NoArtifact)
	require.NoError(t, err)

	failed, err := s.Update(ctx, rec.ID, FailFrom(SynthProcessing, "quota exceeded"))
	require.NoError(t, err)
	assert.Equal(t, SynthFailed, failed.Stage)
	assert.Equal(t, SynthProcessing, failed.FailedFrom)
	assert.Equal(t, "quota exceeded", failed.ErrorMessage)

	reset, err := s.Update(ctx, rec.ID, ResetTo(failed.FailedFrom))
	require.NoError(t, err)
	assert.Equal(t, SynthProcessing, reset.Stage)
	assert.Empty(t, reset.ErrorMessage)
	assert.False(t, reset.FailedFrom.Valid())
}

func TestMemoryStore_FailFromWithoutFailureStage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, err := s.Create(ctx, KindTranscribe, 1, 1)
	require.NoError(t, err)

	updated, err := s.Update(ctx, rec.ID, FailFrom(TranscribeKickoff, "boom"))
	require.NoError(t, err)
	assert.Equal(t, TranscribeKickoff, updated.Stage)
	assert.Equal(t, "boom", updated.ErrorMessage)
}

func TestMemoryStore_CreateExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.CreateExclusive(ctx, KindAudioVideoSynth, 42, NoArtifact)
	require.NoError(t, err)

	_, err = s.CreateExclusive(ctx, KindAudioVideoSynth, 42, NoArtifact)
	var running *AlreadyRunningError
	require.True(t, errors.As(err, &running))
	assert.Equal(t, first.ID, running.ExistingID)

	// Other kinds and other subjects are unaffected
	_, err = s.CreateExclusive(ctx, KindTranscribe, 42, 1)
	assert.NoError(t, err)
	_, err = s.CreateExclusive(ctx, KindAudioVideoSynth, 43, NoArtifact)
	assert.NoError(t, err)

	// Once terminal, a new launch is allowed
	_, err = s.Update(ctx, first.ID, FailFrom(SynthProcessing, "x"))
	require.NoError(t, err)
	_, err = s.CreateExclusive(ctx, KindAudioVideoSynth, 42, NoArtifact)
	assert.NoError(t, err)
}

func TestMemoryStore_CreateExclusiveConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreateExclusive(ctx, KindAudioVideoSynth, 9, NoArtifact); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Create(ctx, KindTranscribe, 1, 1)
	_, _ = s.Create(ctx, KindAudioVideoSynth, 1, NoArtifact)
	_, _ = s.Create(ctx, KindTranscribe, 2, 2)

	subject := int64(1)
	recs, err := s.List(ctx, ListFilter{SubjectID: &subject})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.List(ctx, ListFilter{Kind: KindTranscribe, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemoryStore_ResetRespectsActiveLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	old, err := s.CreateExclusive(ctx, KindAudioVideoSynth, 8, NoArtifact)
	require.NoError(t, err)
	_, err = s.Update(ctx, old.ID, FailFrom(SynthAudio, "boom"))
	require.NoError(t, err)

	current, err := s.CreateExclusive(ctx, KindAudioVideoSynth, 8, NoArtifact)
	require.NoError(t, err)

	// Re-driving the failed job would make two active jobs for the subject
	_, err = s.Update(ctx, old.ID, ResetTo(SynthAudio))
	var running *AlreadyRunningError
	require.True(t, errors.As(err, &running))
	assert.Equal(t, current.ID, running.ExistingID)
}

func TestMemoryStore_FailRestartingAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, err := s.Create(ctx, KindAudioVideoSynth, 1, NoArtifact)
	require.NoError(t, err)
	for _, st := range []Stage{SynthProcessing, SynthAudio} {
		_, err = s.Update(ctx, rec.ID, AdvanceFrom(st))
		require.NoError(t, err)
	}

	failed, err := s.Update(ctx, rec.ID, FailRestartingAt(SynthVideo, SynthProcessing, "pages [2] have no narration audio"))
	require.NoError(t, err)
	assert.Equal(t, SynthFailed, failed.Stage)
	assert.Equal(t, SynthProcessing, failed.FailedFrom)

	_, err = s.Update(ctx, rec.ID, FailRestartingAt(SynthFailed, SynthFinish, "x"))
	assert.ErrorIs(t, err, ErrInvalidStage)
	_, err = s.Update(ctx, rec.ID, FailRestartingAt(SynthFailed, TranscribeDraft, "x"))
	assert.ErrorIs(t, err, ErrInvalidStage)
}

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/slide-narrator/internal/jobs"
)

func TestTranscribe_ThreePageDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	docID := h.addDocument(1)

	id, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, id))

	pages, err := h.files.ListPages(1)
	require.NoError(t, err)
	assert.Len(t, pages, 3)

	segment := h.progressFor(jobs.TranscribeSegment)
	require.NotEmpty(t, segment)
	assert.Equal(t, "0:3", segment[0])
	assert.Equal(t, "3:3", segment[len(segment)-1])

	draft := h.progressFor(jobs.TranscribeDraft)
	require.NotEmpty(t, draft)
	assert.Equal(t, "0:2", draft[0])
	assert.Equal(t, "2:2", draft[len(draft)-1])

	cornerstoneCalls, pageCalls := h.drafter.Calls()
	assert.Equal(t, 1, cornerstoneCalls)
	assert.Equal(t, 2, pageCalls)

	drafts, err := h.subjects.LoadDrafts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, drafts.Drafts, 3)
	assert.Equal(t, "cornerstone of page-1", drafts.Drafts[0].Draft)
	assert.Equal(t, drafts.Drafts[0].Cornerstone, drafts.Drafts[0].Draft)
	assert.Equal(t, []int{1, 2, 3}, []int{drafts.Drafts[0].Page, drafts.Drafts[1].Page, drafts.Drafts[2].Page})

	transcript, err := h.subjects.LoadTranscript(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"speech 1", "speech 2", "speech 3"}, transcript.Speeches)

	rec := h.record(t, id)
	assert.Equal(t, jobs.TranscribeFinish, rec.Stage)
	assert.Equal(t, 5, rec.Version)
	assert.Equal(t, []string{"KICKOFF", "SEGMENT", "DRAFT", "GEN_TRANSCRIPT"}, h.startedStages())

	status, err := h.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.Terminal)
	assert.False(t, status.Failed)
	assert.Equal(t, "3:3", status.Progress)
}

func TestTranscribe_SpeechWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	docID := h.addDocument(1)

	id, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, id))

	reqs := h.writer.requests
	require.Len(t, reqs, 3)

	assert.Empty(t, reqs[0].BackwardDraft)
	assert.Equal(t, "draft of page-2", reqs[0].ForwardDraft)
	assert.Equal(t, "cornerstone of page-1", reqs[0].CurrentDraft)
	assert.Empty(t, reqs[0].PreviousSpeech)

	assert.Equal(t, "cornerstone of page-1", reqs[1].BackwardDraft)
	assert.Equal(t, "draft of page-3", reqs[1].ForwardDraft)
	assert.Equal(t, "speech 1", reqs[1].PreviousSpeech)

	assert.Empty(t, reqs[2].ForwardDraft)
	assert.Equal(t, "speech 2", reqs[2].PreviousSpeech)
	for _, r := range reqs {
		assert.Equal(t, "cornerstone of page-1", r.Cornerstone)
	}
}

func TestTranscribe_ResumeFromDraftSkipsSegmentation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	docID := h.addDocument(2)
	h.savePages(t, 2, 3)

	rec, err := h.jobs.Create(ctx, jobs.KindTranscribe, 2, docID)
	require.NoError(t, err)
	_, err = h.jobs.Update(ctx, rec.ID, jobs.ResetTo(jobs.TranscribeDraft))
	require.NoError(t, err)

	require.NoError(t, h.orch.Resume(ctx, rec.ID, false))

	assert.Equal(t, 0, h.segmenter.Calls())
	cornerstoneCalls, pageCalls := h.drafter.Calls()
	assert.Equal(t, 1, cornerstoneCalls)
	assert.Equal(t, 2, pageCalls)
	assert.Equal(t, 3, h.writer.Calls())
	assert.Equal(t, []string{"DRAFT", "GEN_TRANSCRIPT"}, h.startedStages())
	assert.Equal(t, jobs.TranscribeFinish, h.record(t, rec.ID).Stage)
}

func TestTranscribe_ResumeFromGenTranscriptUsesStoredDrafts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	docID := h.addDocument(3)

	// A first run stopped after drafting
	first, err := h.orch.Submit(ctx, jobs.KindTranscribe, 3, Payload{DocumentID: docID})
	require.NoError(t, err)
	rec := h.record(t, first)
	for _, stage := range []jobs.Stage{jobs.TranscribeKickoff, jobs.TranscribeSegment, jobs.TranscribeDraft} {
		require.NoError(t, h.orch.execute(ctx, rec))
		rec, err = h.jobs.Update(ctx, first, jobs.AdvanceFrom(stage))
		require.NoError(t, err)
	}
	require.Equal(t, jobs.TranscribeGenTranscript, rec.Stage)
	segmentCalls := h.segmenter.Calls()
	cornerstoneCalls, pageCalls := h.drafter.Calls()

	require.NoError(t, h.orch.Resume(ctx, first, false))

	assert.Equal(t, segmentCalls, h.segmenter.Calls())
	c, p := h.drafter.Calls()
	assert.Equal(t, cornerstoneCalls, c)
	assert.Equal(t, pageCalls, p)
	assert.Equal(t, 3, h.writer.Calls())
	assert.Equal(t, jobs.TranscribeFinish, h.record(t, first).Stage)
}

func TestTranscribe_FinishedResumeIsNoOp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	docID := h.addDocument(1)

	id, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, id))
	version := h.record(t, id).Version

	require.NoError(t, h.orch.Resume(ctx, id, false))
	require.NoError(t, h.orch.Run(ctx, id))

	assert.Equal(t, 1, h.segmenter.Calls())
	assert.Equal(t, 3, h.writer.Calls())
	assert.Equal(t, version, h.record(t, id).Version)
}

func TestTranscribe_SegmentRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.segmenter.failures = 2
	docID := h.addDocument(1)

	id, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, id))

	assert.Equal(t, 3, h.segmenter.Calls())
	assert.Equal(t, jobs.TranscribeFinish, h.record(t, id).Stage)
}

func TestTranscribe_SegmentExhaustionStaysResumable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.segmenter.failures = -1
	docID := h.addDocument(1)

	id, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)

	err = h.orch.Run(ctx, id)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, jobs.TranscribeSegment, stageErr.Stage)
	assert.False(t, stageErr.Terminal)
	assert.ErrorIs(t, err, errProvider)
	assert.Equal(t, 3, h.segmenter.Calls())

	rec := h.record(t, id)
	assert.Equal(t, jobs.TranscribeSegment, rec.Stage)
	assert.Contains(t, rec.ErrorMessage, "gave up after 3 attempts")

	status, err := h.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.False(t, status.Terminal)
	assert.True(t, status.Failed)
	assert.NotEmpty(t, status.Error)

	h.segmenter.failures = 0
	require.NoError(t, h.orch.Resume(ctx, id, false))
	rec = h.record(t, id)
	assert.Equal(t, jobs.TranscribeFinish, rec.Stage)
	assert.Empty(t, rec.ErrorMessage)

	status, err = h.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.False(t, status.Failed)
}

func TestTranscribe_CornerstoneExhaustionIsStageFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.drafter.cornerstoneErr = errProvider
	docID := h.addDocument(1)

	id, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)
	require.Error(t, h.orch.Run(ctx, id))

	cornerstoneCalls, pageCalls := h.drafter.Calls()
	assert.Equal(t, 3, cornerstoneCalls)
	assert.Equal(t, 0, pageCalls)

	rec := h.record(t, id)
	assert.Equal(t, jobs.TranscribeDraft, rec.Stage)
	assert.Contains(t, rec.ErrorMessage, "cornerstone")
	assert.Equal(t, 0, h.writer.Calls())
}

func TestTranscribe_SkipsExhaustedPage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.drafter.onPage = func(_ context.Context, img string) (string, error) {
		if img == "page-2" {
			return "", errProvider
		}
		return "draft of " + img, nil
	}
	docID := h.addDocument(1)

	id, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, id))

	_, pageCalls := h.drafter.Calls()
	assert.Equal(t, 4, pageCalls)

	drafts, err := h.subjects.LoadDrafts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, drafts.Drafts, 2)
	assert.Equal(t, 3, drafts.Drafts[1].Page)
	assert.Equal(t, []int{2}, drafts.Skipped)

	transcript, err := h.subjects.LoadTranscript(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"speech 1", "speech 3"}, transcript.Speeches)
	assert.Equal(t, []int{1, 3}, transcript.Pages)
	assert.Equal(t, jobs.TranscribeFinish, h.record(t, id).Stage)
}

func TestTranscribe_FailPolicyStopsAtExhaustedPage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withItemPolicy(ItemFail))
	h.drafter.onPage = func(_ context.Context, img string) (string, error) {
		if img == "page-2" {
			return "", errProvider
		}
		return "draft of " + img, nil
	}
	docID := h.addDocument(1)

	id, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)

	err = h.orch.Run(ctx, id)
	var itemErr *ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, 2, itemErr.Item)

	_, pageCalls := h.drafter.Calls()
	assert.Equal(t, 3, pageCalls)
	assert.Equal(t, jobs.TranscribeDraft, h.record(t, id).Stage)

	drafts, err := h.subjects.LoadDrafts(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, drafts)
}

func TestTranscribe_CancelBetweenPages(t *testing.T) {
	h := newHarness(t)
	docID := h.addDocument(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.drafter.onPage = func(ctx context.Context, img string) (string, error) {
		if img == "page-2" {
			cancel()
			return "", ctx.Err()
		}
		return "draft of " + img, nil
	}

	id, err := h.orch.Submit(context.Background(), jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)

	err = h.orch.Run(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	rec := h.record(t, id)
	assert.Equal(t, jobs.TranscribeDraft, rec.Stage)
	assert.Empty(t, rec.ErrorMessage)

	h.drafter.mu.Lock()
	h.drafter.onPage = nil
	h.drafter.mu.Unlock()
	require.NoError(t, h.orch.Resume(context.Background(), id, false))
	assert.Equal(t, jobs.TranscribeFinish, h.record(t, id).Stage)
	assert.Equal(t, 1, h.segmenter.Calls())
}

func TestRun_BusyJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	docID := h.addDocument(1)
	id, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)

	require.True(t, h.orch.acquire(id))
	assert.ErrorIs(t, h.orch.Run(ctx, id), ErrJobBusy)
	_, err = h.orch.Reset(ctx, id, "")
	assert.ErrorIs(t, err, ErrJobBusy)

	status, err := h.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.Running)
	h.orch.release(id)

	assert.Equal(t, 0, h.segmenter.Calls())
}

func TestSubmit_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	docID := h.addDocument(1)

	_, err := h.orch.Submit(ctx, jobs.KindTranscribe, 2, Payload{DocumentID: docID})
	assert.Error(t, err)

	_, err = h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: 999})
	assert.Error(t, err)

	_, err = h.orch.Submit(ctx, jobs.KindEmbedding, 1, Payload{})
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	first, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)
	_, err = h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	var running *jobs.AlreadyRunningError
	require.True(t, errors.As(err, &running))
	assert.Equal(t, first, running.ExistingID)
}

func TestReset_ToNamedStage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	docID := h.addDocument(1)
	id, err := h.orch.Submit(ctx, jobs.KindTranscribe, 1, Payload{DocumentID: docID})
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, id))

	rec, err := h.orch.Reset(ctx, id, "GEN_TRANSCRIPT")
	require.NoError(t, err)
	assert.Equal(t, jobs.TranscribeGenTranscript, rec.Stage)

	_, err = h.orch.Reset(ctx, id, "FINISH")
	assert.Error(t, err)
	_, err = h.orch.Reset(ctx, id, "VIDEO")
	assert.Error(t, err)

	require.NoError(t, h.orch.Run(ctx, id))
	assert.Equal(t, 6, h.writer.Calls())
	assert.Equal(t, 1, h.segmenter.Calls())
}

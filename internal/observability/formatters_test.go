package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/pipeline"
	"github.com/jonathan/slide-narrator/internal/types"
)

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintStatus(&pipeline.Status{
		JobID:     uuid.MustParse("7d0c9a36-3f1e-4a55-9a8f-2c1f5b0e9d11"),
		Kind:      jobs.KindAudioVideoSynth,
		SubjectID: 12,
		Stage:     "FAILED",
		Progress:  "3:5",
		Failed:    true,
		Terminal:  true,
		Error:     "pages [4 5] have no narration audio",
		Version:   6,
	})
	output := buf.String()

	assert.Contains(t, output, "JOB STATUS")
	assert.Contains(t, output, "7d0c9a36-3f1e-4a55-9a8f-2c1f5b0e9d11")
	assert.Contains(t, output, "AUDIO_VIDEO_SYNTH")
	assert.Contains(t, output, "FAILED (failed)")
	assert.Contains(t, output, "3:5")
	assert.Contains(t, output, "no narration audio")
}

func TestPrintStatus_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintStatus(nil)
	assert.Empty(t, buf.String())
}

func TestPrintJobs(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintJobs([]jobs.Record{
		{ID: uuid.New(), Kind: jobs.KindTranscribe, SubjectID: 3, Stage: jobs.TranscribeDraft, UpdatedAt: time.Now()},
		{ID: uuid.New(), Kind: jobs.KindAudioVideoSynth, SubjectID: 3, Stage: jobs.SynthFinish, UpdatedAt: time.Now()},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STAGE")
	assert.Contains(t, lines[1], "DRAFT")
	assert.Contains(t, lines[2], "FINISH")
}

func TestPrintJobs_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintJobs(nil)
	assert.Contains(t, buf.String(), "No jobs found")
}

func TestPrintDrafts(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	drafts := &types.PageDrafts{Drafts: []types.PageDraft{
		{Page: 1, Cornerstone: "A deck about rockets", Draft: "A deck about rockets"},
		{Page: 3, Cornerstone: "A deck about rockets", Draft: "Engines and fuel\nmore detail"},
	}, Skipped: []int{2}}
	p.PrintDrafts(drafts)
	output := buf.String()

	assert.Contains(t, output, "PAGE DRAFTS")
	assert.Contains(t, output, "A deck about rockets")
	assert.Contains(t, output, "Page 3: Engines and fuel")
	assert.NotContains(t, output, "more detail")
	assert.Contains(t, output, "Skipped pages: [2]")
}

func TestPrintTranscript(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	long := strings.Repeat("narration ", 20)
	p.PrintTranscript(&types.Transcript{Speeches: []string{"Welcome.", long}, Pages: []int{1, 3}})
	output := buf.String()

	assert.Contains(t, output, "TRANSCRIPT")
	assert.Contains(t, output, "[page 1]")
	assert.Contains(t, output, "[page 3]")
	assert.NotContains(t, output, "[page 2]")
	for _, line := range strings.Split(output, "\n") {
		assert.LessOrEqual(t, len([]rune(line)), boxWidth)
	}
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	id := uuid.MustParse("7d0c9a36-3f1e-4a55-9a8f-2c1f5b0e9d11")
	NewPrinter(&buf).PrintEvent(pipeline.ProgressEvent{JobID: id, Stage: "SEGMENT", Message: "progress", Progress: "2:9"})
	assert.Equal(t, "[7d0c9a36] SEGMENT        progress 2:9\n", buf.String())
}

func TestWrap(t *testing.T) {
	assert.Equal(t, []string{"one two", "three"}, wrap("one two three", 7))
	assert.Nil(t, wrap("   ", 10))
}

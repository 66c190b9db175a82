package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/slide-narrator/internal/capability"
	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/progress"
	"github.com/jonathan/slide-narrator/internal/retry"
	"github.com/jonathan/slide-narrator/internal/storage"
	"github.com/jonathan/slide-narrator/internal/subject"
)

var errProvider = errors.New("provider unavailable")

type stubSegmenter struct {
	mu       sync.Mutex
	pages    int
	failures int // calls that fail before one succeeds; -1 fails forever
	calls    int
}

func (s *stubSegmenter) Segment(_ context.Context, _ string) ([]capability.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures < 0 || s.calls <= s.failures {
		return nil, errProvider
	}
	pages := make([]capability.Page, s.pages)
	for i := range pages {
		pages[i] = capability.Page{Number: i + 1, JPEG: []byte(fmt.Sprintf("page-%d", i+1))}
	}
	return pages, nil
}

func (s *stubSegmenter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubDrafter struct {
	mu               sync.Mutex
	cornerstoneCalls int
	pageCalls        int
	cornerstoneErr   error
	// onPage, if set, replaces the default page draft
	onPage func(ctx context.Context, img string) (string, error)
}

func (d *stubDrafter) DraftCornerstone(_ context.Context, cover []byte) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cornerstoneCalls++
	if d.cornerstoneErr != nil {
		return "", d.cornerstoneErr
	}
	return "cornerstone of " + string(cover), nil
}

func (d *stubDrafter) DraftPage(ctx context.Context, page []byte, cornerstone string) (string, error) {
	d.mu.Lock()
	d.pageCalls++
	hook := d.onPage
	d.mu.Unlock()
	if hook != nil {
		return hook(ctx, string(page))
	}
	return "draft of " + string(page), nil
}

func (d *stubDrafter) Calls() (cornerstone, pages int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cornerstoneCalls, d.pageCalls
}

type stubWriter struct {
	mu       sync.Mutex
	requests []capability.SpeechRequest
	prefix   string
}

func (w *stubWriter) GenerateSpeechText(_ context.Context, req capability.SpeechRequest) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = append(w.requests, req)
	return fmt.Sprintf("%sspeech %d", w.prefix, req.Page), nil
}

func (w *stubWriter) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

type stubSynth struct {
	mu    sync.Mutex
	texts []string
	fail  map[string]bool
}

func (s *stubSynth) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if s.fail[text] {
		return nil, errProvider
	}
	return []byte("RIFF " + voice + " " + text), nil
}

func (s *stubSynth) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

func (s *stubSynth) SetFail(text string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail == nil {
		s.fail = make(map[string]bool)
	}
	s.fail[text] = fail
}

// stubAssembler writes one intermediate file per page next to the output
type stubAssembler struct {
	mu       sync.Mutex
	segments []capability.Segment
	workDir  string
	err      error
}

// Every page lasts two seconds.
func (a *stubAssembler) Assemble(_ context.Context, segments []capability.Segment, outPath string) ([]capability.Timing, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.segments = segments
	a.workDir = filepath.Dir(outPath)
	if a.err != nil {
		return nil, a.err
	}
	timeline := make([]capability.Timing, 0, len(segments))
	for i, s := range segments {
		if err := os.WriteFile(filepath.Join(a.workDir, fmt.Sprintf("segment_%d.mp4", s.Page)), []byte("v"), 0644); err != nil {
			return nil, err
		}
		timeline = append(timeline, capability.Timing{
			Page:     s.Page,
			Start:    time.Duration(i) * 2 * time.Second,
			Duration: 2 * time.Second,
		})
	}
	return timeline, os.WriteFile(outPath, []byte("video"), 0644)
}

type stubPackager struct {
	mu    sync.Mutex
	calls int
}

func (p *stubPackager) Package(_ context.Context, videoPath, outDir string) (*capability.Playlist, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if _, err := os.Stat(videoPath); err != nil {
		return nil, err
	}
	var names []string
	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("segment_%03d.ts", i)
		if err := os.WriteFile(filepath.Join(outDir, name), []byte("ts"), 0644); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	path := filepath.Join(outDir, "playlist.m3u8")
	body := "#EXTM3U\n" + strings.Join(names, "\n") + "\n#EXT-X-ENDLIST\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return nil, err
	}
	return &capability.Playlist{Path: path, Segments: names}, nil
}

type harness struct {
	orch      *Orchestrator
	jobs      *jobs.MemoryStore
	subjects  *subject.MemoryStore
	progress  *progress.MemoryStore
	files     *storage.Local
	segmenter *stubSegmenter
	drafter   *stubDrafter
	writer    *stubWriter
	synth     *stubSynth
	assembler *stubAssembler
	packager  *stubPackager

	mu     sync.Mutex
	events []ProgressEvent
}

type harnessOption func(*Deps)

func withItemPolicy(p ItemPolicy) harnessOption {
	return func(d *Deps) { d.ItemPolicy = p }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		jobs:      jobs.NewMemoryStore(),
		subjects:  subject.NewMemoryStore(),
		progress:  progress.NewMemoryStore(),
		files:     storage.NewLocal(filepath.Join(root, "uploads"), filepath.Join(root, "media")),
		segmenter: &stubSegmenter{pages: 3},
		drafter:   &stubDrafter{},
		writer:    &stubWriter{},
		synth:     &stubSynth{},
		assembler: &stubAssembler{},
		packager:  &stubPackager{},
	}
	deps := Deps{
		Jobs:     h.jobs,
		Subjects: h.subjects,
		Progress: h.progress,
		Files:    h.files,
		Caps: Capabilities{
			Segmenter:    h.segmenter,
			Drafter:      h.drafter,
			SpeechWriter: h.writer,
			Synthesizer:  h.synth,
			Assembler:    h.assembler,
			Packager:     h.packager,
		},
		Retry:  retry.Policy{MaxAttempts: 3},
		Logger: log.New(io.Discard, "", 0),
		OnProgress: func(e ProgressEvent) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.orch = New(deps)
	return h
}

// addDocument registers document 100+subject for the subject
func (h *harness) addDocument(subjectID int64) int64 {
	id := 100 + subjectID
	h.subjects.AddDocument(subject.Document{ID: id, SubjectID: subjectID, StoragePath: "/decks/deck.pdf"})
	return id
}

// savePages writes n page images as segmentation would
func (h *harness) savePages(t *testing.T, subjectID int64, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := h.files.SavePage(context.Background(), subjectID, i, []byte(fmt.Sprintf("page-%d", i)))
		require.NoError(t, err)
	}
}

// progressFor returns the progress values reported while stage was running
func (h *harness) progressFor(stage jobs.Stage) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		if e.Stage == stage.String() && e.Progress != "" {
			out = append(out, e.Progress)
		}
	}
	return out
}

// startedStages returns stages in the order they began running
func (h *harness) startedStages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		if e.Message == "started" {
			out = append(out, e.Stage)
		}
	}
	return out
}

func (h *harness) record(t *testing.T, id uuid.UUID) *jobs.Record {
	t.Helper()
	rec, err := h.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

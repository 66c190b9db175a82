package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/jonathan/slide-narrator/internal/capability"
	"github.com/jonathan/slide-narrator/internal/captions"
	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/retry"
	"github.com/jonathan/slide-narrator/internal/types"
)

// prepareSynthesis starts a new synthesis job's lineage. Explicit speeches
// replace the subject transcript, and audio left by earlier jobs is dropped
// so only this job's own interrupted work is reused on resume.
func (o *Orchestrator) prepareSynthesis(ctx context.Context, subjectID int64, speeches []string) error {
	if len(speeches) > 0 {
		if err := o.subjects.SaveTranscript(ctx, subjectID, &types.Transcript{Speeches: speeches}); err != nil {
			return err
		}
	}
	return o.files.ClearAudio(subjectID)
}

// narration loads the subject transcript as page-numbered speeches
func (o *Orchestrator) narration(ctx context.Context, subjectID int64) ([]types.Narration, error) {
	transcript, err := o.subjects.LoadTranscript(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	entries := transcript.Entries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w for subject %d", ErrNoSpeeches, subjectID)
	}
	return entries, nil
}

// synthesize renders each speech as <page>.wav. Segments already on disk
// from an interrupted run of this job are kept.
func (o *Orchestrator) synthesize(ctx context.Context, rec *jobs.Record) error {
	entries, err := o.narration(ctx, rec.SubjectID)
	if err != nil {
		return err
	}

	var missing []int
	if err := o.beginEpisode(ctx, rec, len(entries)); err != nil {
		return err
	}
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.files.HasAudio(rec.SubjectID, entry.Page) {
			o.reportItem(ctx, rec, i+1, len(entries))
			continue
		}

		text := entry.Speech
		audio, err := retry.Value(ctx, o.retryPolicy(rec, fmt.Sprintf("page %d audio", entry.Page)), func(ctx context.Context) ([]byte, error) {
			return o.caps.Synthesizer.Synthesize(ctx, text, o.voice)
		})
		if err != nil {
			if err := o.itemFailed(ctx, rec, entry.Page, err); err != nil {
				return err
			}
			missing = append(missing, entry.Page)
			continue
		}
		if _, err := o.files.SaveAudio(ctx, rec.SubjectID, entry.Page, audio); err != nil {
			return err
		}
		o.reportItem(ctx, rec, i+1, len(entries))
	}

	if len(missing) > 0 {
		o.logger.Printf("[job %s] pages without audio: %v", rec.ID, missing)
	}
	return nil
}

// audioReady confirms some narration exists before video assembly starts
func (o *Orchestrator) audioReady(ctx context.Context, rec *jobs.Record) error {
	entries, err := o.narration(ctx, rec.SubjectID)
	if err != nil {
		return err
	}
	pages := make([]int, 0, len(entries))
	for _, e := range entries {
		if o.files.HasAudio(rec.SubjectID, e.Page) {
			return nil
		}
		pages = append(pages, e.Page)
	}
	return &MissingAudioError{Pages: pages}
}

// video pairs page_<n>.jpg with <n>.wav, assembles one video, packages it
// as HLS and writes captions from the assembled timeline. Per-page
// intermediates live in a work directory removed on return.
func (o *Orchestrator) video(ctx context.Context, rec *jobs.Record) error {
	entries, err := o.narration(ctx, rec.SubjectID)
	if err != nil {
		return err
	}
	segments, err := o.pairSegments(rec, entries)
	if err != nil {
		return err
	}

	workDir, cleanup, err := o.files.WorkDir(rec.SubjectID)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cleanup(); cerr != nil {
			o.logger.Printf("[job %s] failed to remove %s: %v", rec.ID, workDir, cerr)
		}
	}()

	videoPath := filepath.Join(workDir, "narration.mp4")
	timeline, err := o.caps.Assembler.Assemble(ctx, segments, videoPath)
	if err != nil {
		return fmt.Errorf("video assembly failed: %w", err)
	}

	hlsDir, err := o.files.ResetHLSDir(rec.SubjectID)
	if err != nil {
		return err
	}
	playlist, err := o.caps.Packager.Package(ctx, videoPath, hlsDir)
	if err != nil {
		return fmt.Errorf("stream packaging failed: %w", err)
	}
	if err := o.writeCaptions(ctx, rec, entries, timeline); err != nil {
		return err
	}
	o.logger.Printf("[job %s] packaged %d pages into %s (%d media segments)",
		rec.ID, len(segments), playlist.Path, len(playlist.Segments))
	return nil
}

// pairSegments matches every narrated page with its image and audio by page
// number. Pages the transcript does not narrate are left out of the video;
// a narrated page without audio fails the stage.
func (o *Orchestrator) pairSegments(rec *jobs.Record, entries []types.Narration) ([]capability.Segment, error) {
	pages, err := o.files.ListPages(rec.SubjectID)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page images for subject %d", rec.SubjectID)
	}
	audio, err := o.files.ListAudio(rec.SubjectID)
	if err != nil {
		return nil, err
	}
	images := make(map[int]string, len(pages))
	for _, p := range pages {
		images[p.Number] = p.Path
	}
	sounds := make(map[int]string, len(audio))
	for _, a := range audio {
		sounds[a.Number] = a.Path
	}

	segments := make([]capability.Segment, 0, len(entries))
	narrated := make(map[int]bool, len(entries))
	var noImage, noAudio []int
	for _, e := range entries {
		narrated[e.Page] = true
		image, ok := images[e.Page]
		if !ok {
			noImage = append(noImage, e.Page)
			continue
		}
		sound, ok := sounds[e.Page]
		if !ok {
			noAudio = append(noAudio, e.Page)
			continue
		}
		segments = append(segments, capability.Segment{Page: e.Page, ImagePath: image, AudioPath: sound})
	}
	if len(noImage) > 0 {
		return nil, fmt.Errorf("transcript narrates pages %v that have no page image", noImage)
	}
	if len(noAudio) > 0 {
		return nil, &MissingAudioError{Pages: noAudio}
	}

	var silent []int
	for _, p := range pages {
		if !narrated[p.Number] {
			silent = append(silent, p.Number)
		}
	}
	if len(silent) > 0 {
		o.logger.Printf("[job %s] pages %v have no speech and are left out of the video", rec.ID, silent)
	}
	return segments, nil
}

// writeCaptions writes <page>.srt next to each audio segment, timed from the
// segment start, and one WebVTT track for the whole stream.
func (o *Orchestrator) writeCaptions(ctx context.Context, rec *jobs.Record, entries []types.Narration, timeline []capability.Timing) error {
	speech := make(map[int]string, len(entries))
	for _, e := range entries {
		speech[e.Page] = e.Speech
	}

	var track []captions.Cue
	for _, t := range timeline {
		text := speech[t.Page]
		var srt bytes.Buffer
		if err := captions.WriteSRT(&srt, captions.Split(text, 0, t.Duration)); err != nil {
			return err
		}
		if _, err := o.files.SaveCaptions(ctx, rec.SubjectID, t.Page, srt.Bytes()); err != nil {
			return err
		}
		track = append(track, captions.Split(text, t.Start, t.Duration)...)
	}

	var vtt bytes.Buffer
	if err := captions.WriteVTT(&vtt, track); err != nil {
		return err
	}
	_, err := o.files.SaveSubtitles(ctx, rec.SubjectID, vtt.Bytes())
	return err
}

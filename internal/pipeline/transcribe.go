package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonathan/slide-narrator/internal/capability"
	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/retry"
	"github.com/jonathan/slide-narrator/internal/types"
)

// segment splits the document into pages and stores them as page_<n>.jpg
func (o *Orchestrator) segment(ctx context.Context, rec *jobs.Record) error {
	doc, err := o.subjects.GetDocument(ctx, rec.RelatedArtifactID)
	if err != nil {
		return err
	}

	pages, err := retry.Value(ctx, o.retryPolicy(rec, "segment"), func(ctx context.Context) ([]capability.Page, error) {
		return o.caps.Segmenter.Segment(ctx, doc.StoragePath)
	})
	if err != nil {
		return fmt.Errorf("segmentation failed: %w", err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("document %d has no pages", doc.ID)
	}

	if err := o.files.ClearPages(rec.SubjectID); err != nil {
		return err
	}
	if err := o.beginEpisode(ctx, rec, len(pages)); err != nil {
		return err
	}
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.files.SavePage(ctx, rec.SubjectID, i+1, page.JPEG); err != nil {
			return err
		}
		o.reportItem(ctx, rec, i+1, len(pages))
	}
	o.logger.Printf("[job %s] segmented %d pages", rec.ID, len(pages))
	return nil
}

// draft derives the cornerstone from page 1 and drafts every later page
// with it as context.
func (o *Orchestrator) draft(ctx context.Context, rec *jobs.Record) error {
	pages, err := o.files.ListPages(rec.SubjectID)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("no page images for subject %d", rec.SubjectID)
	}

	cover, err := os.ReadFile(pages[0].Path)
	if err != nil {
		return fmt.Errorf("failed to read cover page: %w", err)
	}
	cornerstone, err := retry.Value(ctx, o.retryPolicy(rec, "cornerstone"), func(ctx context.Context) (string, error) {
		return o.caps.Drafter.DraftCornerstone(ctx, cover)
	})
	if err != nil {
		return fmt.Errorf("cornerstone generation failed: %w", err)
	}

	drafts := &types.PageDrafts{
		Drafts: []types.PageDraft{{
			Page:        pages[0].Number,
			Cornerstone: cornerstone,
			Draft:       cornerstone,
			Links:       []string{},
			Medias:      []string{},
		}},
	}

	rest := pages[1:]
	if err := o.beginEpisode(ctx, rec, len(rest)); err != nil {
		return err
	}
	for i, page := range rest {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := os.ReadFile(page.Path)
		if err != nil {
			return fmt.Errorf("failed to read page %d: %w", page.Number, err)
		}
		text, err := retry.Value(ctx, o.retryPolicy(rec, fmt.Sprintf("page %d", page.Number)), func(ctx context.Context) (string, error) {
			return o.caps.Drafter.DraftPage(ctx, img, cornerstone)
		})
		if err != nil {
			if err := o.itemFailed(ctx, rec, page.Number, err); err != nil {
				return err
			}
			drafts.Skipped = append(drafts.Skipped, page.Number)
			continue
		}
		drafts.Drafts = append(drafts.Drafts, types.PageDraft{
			Page:        page.Number,
			Cornerstone: cornerstone,
			Draft:       text,
			Links:       []string{},
			Medias:      []string{},
		})
		o.reportItem(ctx, rec, i+1, len(rest))
	}

	if err := o.subjects.SaveDrafts(ctx, rec.SubjectID, drafts); err != nil {
		return err
	}
	if len(drafts.Skipped) > 0 {
		o.logger.Printf("[job %s] drafted %d pages, skipped %v", rec.ID, len(drafts.Drafts), drafts.Skipped)
	}
	return nil
}

// genTranscript narrates each drafted page using its neighbours and the
// previous page's speech for continuity. Each speech keeps its page number
// so skipped pages never shift the narration of later ones.
func (o *Orchestrator) genTranscript(ctx context.Context, rec *jobs.Record) error {
	drafts, err := o.subjects.LoadDrafts(ctx, rec.SubjectID)
	if err != nil {
		return err
	}
	if drafts == nil || len(drafts.Drafts) == 0 {
		return fmt.Errorf("no page drafts stored for subject %d", rec.SubjectID)
	}

	pages := drafts.Drafts
	transcript := &types.Transcript{
		Speeches: make([]string, 0, len(pages)),
		Pages:    make([]int, 0, len(pages)),
	}
	previous := ""
	if err := o.beginEpisode(ctx, rec, len(pages)); err != nil {
		return err
	}
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := capability.SpeechRequest{
			Page:           page.Page,
			Cornerstone:    page.Cornerstone,
			CurrentDraft:   page.Draft,
			PreviousSpeech: previous,
		}
		if i > 0 {
			req.BackwardDraft = pages[i-1].Draft
		}
		if i < len(pages)-1 {
			req.ForwardDraft = pages[i+1].Draft
		}

		speech, err := retry.Value(ctx, o.retryPolicy(rec, fmt.Sprintf("speech %d", page.Page)), func(ctx context.Context) (string, error) {
			return o.caps.SpeechWriter.GenerateSpeechText(ctx, req)
		})
		if err != nil {
			return fmt.Errorf("speech generation for page %d failed: %w", page.Page, err)
		}
		transcript.Speeches = append(transcript.Speeches, speech)
		transcript.Pages = append(transcript.Pages, page.Page)
		previous = speech
		o.reportItem(ctx, rec, i+1, len(pages))
	}

	if err := o.subjects.SaveTranscript(ctx, rec.SubjectID, transcript); err != nil {
		return err
	}
	// Audio narrates the previous transcript
	return o.files.ClearAudio(rec.SubjectID)
}

// retryPolicy returns the configured policy with attempt logging for one call site
func (o *Orchestrator) retryPolicy(rec *jobs.Record, what string) retry.Policy {
	p := o.retry
	next := p.OnRetry
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		o.logger.Printf("[job %s] %s attempt %d failed, retrying in %s: %v", rec.ID, what, attempt, wait, err)
		if next != nil {
			next(attempt, err, wait)
		}
	}
	return p
}

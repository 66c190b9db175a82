// Package capability defines the external capabilities the pipeline drives.
// Implementations may be remote API calls; the pipeline only depends on these
// contracts.
package capability

import (
	"context"
	"time"
)

// Page is one rendered page of a segmented document
type Page struct {
	Number int    // 1-based page number
	JPEG   []byte // encoded page image
}

// Segmenter splits a document into ordered page images
type Segmenter interface {
	// Segment fails on a malformed document
	Segment(ctx context.Context, sourcePath string) ([]Page, error)
}

// Drafter derives text from page images with a vision-language model
type Drafter interface {
	// DraftCornerstone summarizes the cover page
	DraftCornerstone(ctx context.Context, cover []byte) (string, error)
	// DraftPage drafts a page using the cornerstone as shared context
	DraftPage(ctx context.Context, page []byte, cornerstone string) (string, error)
}

// SpeechRequest is the sliding window used to narrate one page
type SpeechRequest struct {
	Page           int
	Cornerstone    string
	BackwardDraft  string // previous page's draft, empty for the first page
	ForwardDraft   string // next page's draft, empty for the last page
	CurrentDraft   string
	PreviousSpeech string // speech generated for the previous page
}

// SpeechWriter turns a page window into narration text
type SpeechWriter interface {
	GenerateSpeechText(ctx context.Context, req SpeechRequest) (string, error)
}

// Synthesizer renders narration text as audio
type Synthesizer interface {
	// Synthesize returns WAV audio; it fails on provider or quota errors
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Segment pairs a page image with its narration audio
type Segment struct {
	Page      int
	ImagePath string
	AudioPath string
}

// Timing places one page on the assembled video's timeline
type Timing struct {
	Page     int
	Start    time.Duration
	Duration time.Duration
}

// VideoAssembler builds one time-aligned video from ordered page/audio pairs
// and returns where each page landed.
type VideoAssembler interface {
	Assemble(ctx context.Context, segments []Segment, outPath string) ([]Timing, error)
}

// Playlist describes a packaged adaptive-bitrate stream
type Playlist struct {
	Path     string   `json:"path"`
	Segments []string `json:"segments"`
}

// StreamPackager packages a video file into a segmented playlist
type StreamPackager interface {
	Package(ctx context.Context, videoPath, outDir string) (*Playlist, error)
}

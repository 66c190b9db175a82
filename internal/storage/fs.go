// Package storage lays out subject-scoped artifacts on the local filesystem.
// File names carry the sequence number, and ordering on resume is rebuilt
// from them.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

const (
	hlsDirName    = "hls"
	playlistName  = "playlist.m3u8"
	subtitlesName = "narration.vtt"
)

var (
	pagePattern  = regexp.MustCompile(`^page_(\d+)\.jpg$`)
	audioPattern   = regexp.MustCompile(`^(\d+)\.wav$`)
	captionPattern = regexp.MustCompile(`^(\d+)\.srt$`)
)

// File is a sequence-numbered artifact
type File struct {
	Number int
	Path   string
}

// Local stores page images under UploadsDir and narration media under MediaDir
type Local struct {
	UploadsDir string
	MediaDir   string
}

// NewLocal creates a Local storage rooted at the given directories
func NewLocal(uploadsDir, mediaDir string) *Local {
	return &Local{UploadsDir: uploadsDir, MediaDir: mediaDir}
}

// SubjectUploadDir returns <uploads>/<subject>
func (s *Local) SubjectUploadDir(subjectID int64) string {
	return filepath.Join(s.UploadsDir, strconv.FormatInt(subjectID, 10))
}

// SubjectMediaDir returns <media>/<subject>
func (s *Local) SubjectMediaDir(subjectID int64) string {
	return filepath.Join(s.MediaDir, strconv.FormatInt(subjectID, 10))
}

// PagePath returns the path of page n (1-based)
func (s *Local) PagePath(subjectID int64, n int) string {
	return filepath.Join(s.SubjectUploadDir(subjectID), fmt.Sprintf("page_%d.jpg", n))
}

// AudioPath returns the path of narration segment n (1-based)
func (s *Local) AudioPath(subjectID int64, n int) string {
	return filepath.Join(s.SubjectMediaDir(subjectID), fmt.Sprintf("%d.wav", n))
}

// CaptionPath returns the path of the SRT captions for segment n
func (s *Local) CaptionPath(subjectID int64, n int) string {
	return filepath.Join(s.SubjectMediaDir(subjectID), fmt.Sprintf("%d.srt", n))
}

// SubtitlesPath returns the WebVTT track written next to the playlist
func (s *Local) SubtitlesPath(subjectID int64) string {
	return filepath.Join(s.HLSDir(subjectID), subtitlesName)
}

// HLSDir returns the directory holding the packaged stream
func (s *Local) HLSDir(subjectID int64) string {
	return filepath.Join(s.SubjectMediaDir(subjectID), hlsDirName)
}

// PlaylistPath returns the path of the packaged stream's playlist
func (s *Local) PlaylistPath(subjectID int64) string {
	return filepath.Join(s.HLSDir(subjectID), playlistName)
}

// DocumentPath returns where a source document named name is kept
func (s *Local) DocumentPath(subjectID int64, name string) string {
	return filepath.Join(s.SubjectUploadDir(subjectID), "source", filepath.Base(name))
}

// SaveDocument stores a source document for the subject
func (s *Local) SaveDocument(ctx context.Context, subjectID int64, name string, data []byte) (string, error) {
	return writeFile(ctx, s.DocumentPath(subjectID, name), data)
}

// SavePage writes page n's image
func (s *Local) SavePage(ctx context.Context, subjectID int64, n int, data []byte) (string, error) {
	return writeFile(ctx, s.PagePath(subjectID, n), data)
}

// SaveAudio writes narration segment n
func (s *Local) SaveAudio(ctx context.Context, subjectID int64, n int, data []byte) (string, error) {
	return writeFile(ctx, s.AudioPath(subjectID, n), data)
}

// SaveCaptions writes the SRT captions of segment n
func (s *Local) SaveCaptions(ctx context.Context, subjectID int64, n int, data []byte) (string, error) {
	return writeFile(ctx, s.CaptionPath(subjectID, n), data)
}

// SaveSubtitles writes the whole-video WebVTT track into the stream directory
func (s *Local) SaveSubtitles(ctx context.Context, subjectID int64, data []byte) (string, error) {
	return writeFile(ctx, s.SubtitlesPath(subjectID), data)
}

// HasAudio reports whether segment n already exists with content
func (s *Local) HasAudio(subjectID int64, n int) bool {
	info, err := os.Stat(s.AudioPath(subjectID, n))
	return err == nil && !info.IsDir() && info.Size() > 0
}

// ListPages returns the subject's page images ordered by page number
func (s *Local) ListPages(subjectID int64) ([]File, error) {
	return listNumbered(s.SubjectUploadDir(subjectID), pagePattern)
}

// ListAudio returns the subject's narration segments ordered by number
func (s *Local) ListAudio(subjectID int64) ([]File, error) {
	return listNumbered(s.SubjectMediaDir(subjectID), audioPattern)
}

// ClearPages removes previously segmented page images so a re-run of
// segmentation never mixes pages from two documents.
func (s *Local) ClearPages(subjectID int64) error {
	pages, err := s.ListPages(subjectID)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p.Path, err)
		}
	}
	return nil
}

// ClearAudio removes the subject's narration segments and their captions
// before a fresh synthesis.
func (s *Local) ClearAudio(subjectID int64) error {
	dir := s.SubjectMediaDir(subjectID)
	for _, pattern := range []*regexp.Regexp{audioPattern, captionPattern} {
		files, err := listNumbered(dir, pattern)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", f.Path, err)
			}
		}
	}
	return nil
}

// ResetHLSDir empties and recreates the stream directory
func (s *Local) ResetHLSDir(subjectID int64) (string, error) {
	dir := s.HLSDir(subjectID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// WorkDir creates a scratch directory for per-page intermediates. The caller
// removes it with the returned cleanup func.
func (s *Local) WorkDir(subjectID int64) (string, func() error, error) {
	parent := s.SubjectMediaDir(subjectID)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create %s: %w", parent, err)
	}
	dir, err := os.MkdirTemp(parent, "work-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return dir, func() error { return os.RemoveAll(dir) }, nil
}

func writeFile(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return path, nil
}

func listNumbered(dir string, pattern *regexp.Regexp) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		files = append(files, File{Number: n, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Number < files[j].Number })
	return files, nil
}

// Package media assembles narrated slide videos and packages them for HLS
// streaming with ffmpeg and ffprobe.
package media

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/slide-narrator/internal/capability"
)

const (
	// PlaylistName is the HLS playlist written into the output directory
	PlaylistName = "playlist.m3u8"
	// DefaultSegmentSeconds is the target HLS media segment length
	DefaultSegmentSeconds = 10
)

// FFmpeg implements capability.VideoAssembler and capability.StreamPackager
type FFmpeg struct {
	ffmpegPath     string
	ffprobePath    string
	segmentSeconds int
	runner         commandRunner
}

var (
	_ capability.VideoAssembler = (*FFmpeg)(nil)
	_ capability.StreamPackager = (*FFmpeg)(nil)
)

// Options configures the binaries and HLS segment length. Zero values use
// ffmpeg and ffprobe from PATH.
type Options struct {
	FFmpegPath     string
	FFprobePath    string
	SegmentSeconds int
}

// New creates an FFmpeg adapter
func New(opts Options) *FFmpeg {
	return newWithRunner(opts, execRunner{})
}

func newWithRunner(opts Options, runner commandRunner) *FFmpeg {
	f := &FFmpeg{
		ffmpegPath:     opts.FFmpegPath,
		ffprobePath:    opts.FFprobePath,
		segmentSeconds: opts.SegmentSeconds,
		runner:         runner,
	}
	if f.ffmpegPath == "" {
		f.ffmpegPath = "ffmpeg"
	}
	if f.ffprobePath == "" {
		f.ffprobePath = "ffprobe"
	}
	if f.segmentSeconds <= 0 {
		f.segmentSeconds = DefaultSegmentSeconds
	}
	return f
}

// Assemble renders each still page for as long as its narration lasts and
// concatenates the pieces in order into outPath. Per-page files are written
// next to outPath.
func (f *FFmpeg) Assemble(ctx context.Context, segments []capability.Segment, outPath string) ([]capability.Timing, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("no segments to assemble")
	}
	dir := filepath.Dir(outPath)

	parts := make([]string, 0, len(segments))
	timeline := make([]capability.Timing, 0, len(segments))
	var at time.Duration
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seconds, err := f.duration(ctx, seg.AudioPath)
		if err != nil {
			return nil, err
		}
		part := filepath.Join(dir, fmt.Sprintf("segment_%d.mp4", seg.Page))
		if err := f.run(ctx, fmt.Sprintf("render page %d", seg.Page), buildSegmentArgs(seg, seconds, part)...); err != nil {
			return nil, err
		}
		parts = append(parts, part)

		length := time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
		timeline = append(timeline, capability.Timing{Page: seg.Page, Start: at, Duration: length})
		at += length
	}

	listPath := filepath.Join(dir, "segments.txt")
	if err := os.WriteFile(listPath, []byte(concatList(parts)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write concat list: %w", err)
	}
	if err := f.run(ctx, "concatenate", buildConcatArgs(listPath, outPath)...); err != nil {
		return nil, err
	}
	if _, err := os.Stat(outPath); err != nil {
		return nil, fmt.Errorf("ffmpeg completed but %s is missing: %w", outPath, err)
	}
	return timeline, nil
}

// Package splits videoPath into MPEG-TS segments under outDir and returns
// the playlist with its segment names in play order.
func (f *FFmpeg) Package(ctx context.Context, videoPath, outDir string) (*capability.Playlist, error) {
	playlistPath := filepath.Join(outDir, PlaylistName)
	if err := f.run(ctx, "package hls", buildHLSArgs(videoPath, outDir, f.segmentSeconds)...); err != nil {
		return nil, err
	}
	segments, err := readPlaylist(playlistPath)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("playlist %s lists no segments", playlistPath)
	}
	return &capability.Playlist{Path: playlistPath, Segments: segments}, nil
}

// duration asks ffprobe for an audio file's length in seconds
func (f *FFmpeg) duration(ctx context.Context, audioPath string) (float64, error) {
	res, err := f.runner.Run(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		audioPath,
	)
	if err != nil {
		return 0, &CommandError{Step: "probe " + filepath.Base(audioPath), Command: f.ffprobePath, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("unreadable duration for %s: %w", audioPath, err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("%s has no audio", audioPath)
	}
	return seconds, nil
}

func (f *FFmpeg) run(ctx context.Context, step string, args ...string) error {
	res, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &CommandError{Step: step, Command: f.ffmpegPath, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	return nil
}

// buildSegmentArgs loops one image at 1 fps for the audio's duration
func buildSegmentArgs(seg capability.Segment, seconds float64, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-loop", "1",
		"-framerate", "1",
		"-i", seg.ImagePath,
		"-i", seg.AudioPath,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-pix_fmt", "yuv420p",
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:a", "aac",
		"-b:a", "192k",
		"-t", strconv.FormatFloat(seconds, 'f', 3, 64),
		outPath,
	}
}

func buildConcatArgs(listPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	}
}

func buildHLSArgs(videoPath, outDir string, segmentSeconds int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", videoPath,
		"-c", "copy",
		"-start_number", "0",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outDir, "segment_%03d.ts"),
		filepath.Join(outDir, PlaylistName),
	}
}

// concatList renders the concat demuxer input, quoting paths
func concatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	return b.String()
}

// readPlaylist returns the media segment URIs of an HLS playlist
func readPlaylist(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open playlist: %w", err)
	}
	defer file.Close()

	var segments []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		segments = append(segments, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}
	return segments, nil
}

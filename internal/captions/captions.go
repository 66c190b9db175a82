// Package captions turns narration text and its audio timing into SRT and
// WebVTT subtitle tracks.
package captions

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Cue is one subtitle shown between Start and End
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Split breaks text into sentence cues spread over [start, start+duration).
// Each sentence gets a share of the time proportional to its length.
func Split(text string, start, duration time.Duration) []Cue {
	sentences := Sentences(text)
	if len(sentences) == 0 || duration <= 0 {
		return nil
	}

	total := 0
	for _, s := range sentences {
		total += utf8.RuneCountInString(s)
	}

	cues := make([]Cue, 0, len(sentences))
	at := start
	seen := 0
	for i, s := range sentences {
		seen += utf8.RuneCountInString(s)
		end := start + time.Duration(int64(duration)*int64(seen)/int64(total))
		if i == len(sentences)-1 {
			end = start + duration
		}
		cues = append(cues, Cue{Start: at, End: end, Text: s})
		at = end
	}
	return cues
}

// Sentences splits on terminal punctuation followed by whitespace and
// collapses runs of whitespace.
func Sentences(text string) []string {
	fields := strings.Fields(text)
	var out []string
	var cur []string
	for _, f := range fields {
		cur = append(cur, f)
		last, _ := utf8.DecodeLastRuneInString(strings.TrimRightFunc(f, func(r rune) bool {
			return r == '"' || r == '\'' || r == ')' || r == '”'
		}))
		if last == '.' || last == '!' || last == '?' || last == '…' {
			out = append(out, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

// WriteSRT writes cues as a SubRip file
func WriteSRT(w io.Writer, cues []Cue) error {
	for i, c := range cues {
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(c.Start), srtTime(c.End), c.Text); err != nil {
			return fmt.Errorf("failed to write srt cue %d: %w", i+1, err)
		}
	}
	return nil
}

// WriteVTT writes cues as a WebVTT track
func WriteVTT(w io.Writer, cues []Cue) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return fmt.Errorf("failed to write vtt header: %w", err)
	}
	for i, c := range cues {
		if _, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n", vttTime(c.Start), vttTime(c.End), vttText(c.Text)); err != nil {
			return fmt.Errorf("failed to write vtt cue %d: %w", i+1, err)
		}
	}
	return nil
}

// srtTime formats d as HH:MM:SS,mmm
func srtTime(d time.Duration) string {
	h, m, s, ms := clock(d)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// vttTime formats d as HH:MM:SS.mmm
func vttTime(d time.Duration) string {
	h, m, s, ms := clock(d)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func clock(d time.Duration) (h, m, s, ms int64) {
	if d < 0 {
		d = 0
	}
	total := d.Milliseconds()
	ms = total % 1000
	total /= 1000
	s = total % 60
	total /= 60
	m = total % 60
	h = total / 60
	return h, m, s, ms
}

// vttText escapes the characters WebVTT reserves in cue payloads and drops
// control characters.
func vttText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// Package observability formats job state for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/pipeline"
	"github.com/jonathan/slide-narrator/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to n runes with a trailing ellipsis
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintStatus outputs one job's checkpoint and progress
func (p *Printer) PrintStatus(st *pipeline.Status) {
	if st == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Job:      %s\n", st.JobID)
	fmt.Fprintf(&sb, "Kind:     %s\n", st.Kind)
	fmt.Fprintf(&sb, "Subject:  %d\n", st.SubjectID)
	fmt.Fprintf(&sb, "Stage:    %s\n", stageLabel(st))
	if st.Progress != "" && st.Progress != "0:0" {
		fmt.Fprintf(&sb, "Progress: %s\n", st.Progress)
	}
	fmt.Fprintf(&sb, "Version:  %d\n", st.Version)
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(&sb, "Updated:  %s\n", st.UpdatedAt.Format(time.RFC3339))
	}
	if st.Error != "" {
		sb.WriteString("\nError:\n")
		for _, line := range wrap(st.Error, boxWidth-6) {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
	}

	p.printBox("JOB STATUS", strings.TrimSuffix(sb.String(), "\n"))
}

func stageLabel(st *pipeline.Status) string {
	switch {
	case st.Running:
		return st.Stage + " (running)"
	case st.Failed:
		return st.Stage + " (failed)"
	case st.Terminal:
		return st.Stage + " (done)"
	default:
		return st.Stage
	}
}

// PrintJobs outputs a table of job records, newest first as given
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintJobs(records []jobs.Record) {
	if len(records) == 0 {
		fmt.Fprintln(p.out, "No jobs found.")
		return
	}
	fmt.Fprintf(p.out, "%-36s  %-17s  %7s  %-14s  %s\n", "ID", "KIND", "SUBJECT", "STAGE", "UPDATED")
	for _, r := range records {
		fmt.Fprintf(p.out, "%-36s  %-17s  %7d  %-14s  %s\n",
			r.ID, r.Kind, r.SubjectID, r.Stage, r.UpdatedAt.Format(time.RFC3339))
	}
}

// PrintDrafts outputs the cornerstone and the first page drafts
func (p *Printer) PrintDrafts(drafts *types.PageDrafts) {
	if drafts == nil || len(drafts.Drafts) == 0 {
		return
	}

	var sb strings.Builder
	if c := drafts.Cornerstone(); c != "" {
		sb.WriteString("Cornerstone:\n")
		for _, line := range wrap(c, boxWidth-6) {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
		sb.WriteString("\n")
	}

	count := min(len(drafts.Drafts), maxItemsToShow)
	for i := 0; i < count; i++ {
		d := drafts.Drafts[i]
		fmt.Fprintf(&sb, "Page %d: %s\n", d.Page, truncate(firstLine(d.Draft), boxWidth-14))
	}
	if len(drafts.Drafts) > maxItemsToShow {
		fmt.Fprintf(&sb, "  ... and %d more\n", len(drafts.Drafts)-maxItemsToShow)
	}
	if len(drafts.Skipped) > 0 {
		fmt.Fprintf(&sb, "\nSkipped pages: %v\n", drafts.Skipped)
	}

	p.printBox("PAGE DRAFTS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintTranscript outputs each speech, wrapped, under its page number
func (p *Printer) PrintTranscript(t *types.Transcript) {
	entries := t.Entries()
	if len(entries) == 0 {
		return
	}

	var sb strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&sb, "[page %d]\n", e.Page)
		for _, line := range wrap(e.Speech, boxWidth-6) {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
		if i < len(entries)-1 {
			sb.WriteString("\n")
		}
	}
	p.printBox("TRANSCRIPT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintEvent outputs one progress event on a single line
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEvent(e pipeline.ProgressEvent) {
	if e.Progress != "" {
		fmt.Fprintf(p.out, "[%s] %-14s %s %s\n", shortID(e.JobID.String()), e.Stage, e.Message, e.Progress)
		return
	}
	fmt.Fprintf(p.out, "[%s] %-14s %s\n", shortID(e.JobID.String()), e.Stage, e.Message)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// wrap breaks text into lines of at most width runes on word boundaries
func wrap(text string, width int) []string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && len([]rune(line.String()))+1+len([]rune(word)) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}

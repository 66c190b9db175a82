package types

import (
	"fmt"
	"strings"
)

// Transcript is the narration generated for a document in page order.
// Pages holds the page number of each speech; when absent, speech i
// narrates page i+1.
type Transcript struct {
	Speeches []string `json:"speeches"`
	Pages    []int    `json:"pages,omitempty"`
}

// Narration is one speech and the page it is spoken over
type Narration struct {
	Page   int
	Speech string
}

// Entries pairs every speech with its page number
func (t *Transcript) Entries() []Narration {
	if t == nil {
		return nil
	}
	out := make([]Narration, len(t.Speeches))
	for i, s := range t.Speeches {
		page := i + 1
		if len(t.Pages) == len(t.Speeches) {
			page = t.Pages[i]
		}
		out[i] = Narration{Page: page, Speech: s}
	}
	return out
}

// Check rejects page lists that do not line up with the speeches
func (t *Transcript) Check() error {
	if t == nil || len(t.Pages) == 0 {
		return nil
	}
	if len(t.Pages) != len(t.Speeches) {
		return fmt.Errorf("transcript has %d speeches but %d page numbers", len(t.Speeches), len(t.Pages))
	}
	for i := 1; i < len(t.Pages); i++ {
		if t.Pages[i] <= t.Pages[i-1] {
			return fmt.Errorf("transcript page numbers must increase, got %d after %d", t.Pages[i], t.Pages[i-1])
		}
	}
	return nil
}

// Text joins the speeches into a single narration
func (t *Transcript) Text() string {
	if t == nil {
		return ""
	}
	return strings.Join(t.Speeches, "\n\n")
}

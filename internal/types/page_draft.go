// Package types provides type definitions for structured data passed between pipeline stages.
//
//nolint:revive // types is a standard Go package name pattern
package types

// PageDraft is the intermediate per-page output of the drafting stage.
// Page 1 always carries the cornerstone as its draft.
type PageDraft struct {
	Page            int      `json:"page"`
	Cornerstone     string   `json:"cornerstone"`
	Draft           string   `json:"draft"`
	DraftFromImages string   `json:"draft_from_images"`
	Links           []string `json:"links"`
	Medias          []string `json:"medias"`
}

// PageDrafts is the ordered list of drafts persisted on the subject
type PageDrafts struct {
	Drafts []PageDraft `json:"drafts"`
	// Skipped lists page numbers whose drafting attempts were exhausted
	Skipped []int `json:"skipped,omitempty"`
}

// Cornerstone returns the shared summary, empty if there are no drafts
func (d *PageDrafts) Cornerstone() string {
	if d == nil || len(d.Drafts) == 0 {
		return ""
	}
	return d.Drafts[0].Cornerstone
}

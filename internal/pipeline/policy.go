package pipeline

import "fmt"

// ItemPolicy decides what happens when one page or audio segment exhausts
// its retries.
type ItemPolicy string

const (
	// ItemSkip logs the item, keeps numbering stable and continues the stage
	ItemSkip ItemPolicy = "skip"
	// ItemFail makes the item's failure fatal to the stage
	ItemFail ItemPolicy = "fail"
)

// ParseItemPolicy accepts "skip" or "fail"; empty means skip
func ParseItemPolicy(s string) (ItemPolicy, error) {
	switch ItemPolicy(s) {
	case "", ItemSkip:
		return ItemSkip, nil
	case ItemFail:
		return ItemFail, nil
	default:
		return "", fmt.Errorf("unknown item policy %q (want skip or fail)", s)
	}
}

// Package segment renders each page of a PDF deck as a JPEG image.
package segment

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"

	"github.com/gen2brain/go-fitz"

	"github.com/jonathan/slide-narrator/internal/capability"
	"github.com/jonathan/slide-narrator/internal/retry"
)

const (
	// DefaultDPI is the render resolution for page images
	DefaultDPI = 300
	// DefaultQuality is the JPEG quality for page images
	DefaultQuality = 90
)

// PDF implements capability.Segmenter with MuPDF
type PDF struct {
	DPI     float64
	Quality int
}

var _ capability.Segmenter = (*PDF)(nil)

// New creates a PDF segmenter with the default resolution and quality
func New() *PDF {
	return &PDF{DPI: DefaultDPI, Quality: DefaultQuality}
}

// Segment renders every page of the document at sourcePath, numbered from 1.
// Documents that cannot be opened are reported as permanent failures.
func (p *PDF) Segment(ctx context.Context, sourcePath string) ([]capability.Page, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, retry.Permanent(fmt.Errorf("document not readable: %w", err))
	}
	doc, err := fitz.New(sourcePath)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to open document %s: %w", sourcePath, err))
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return nil, retry.Permanent(fmt.Errorf("document %s has no pages", sourcePath))
	}

	dpi := p.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	quality := p.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	pages := make([]capability.Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		pages = append(pages, capability.Page{Number: i + 1, JPEG: buf.Bytes()})
	}
	return pages, nil
}

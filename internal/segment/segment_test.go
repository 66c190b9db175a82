package segment

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/slide-narrator/internal/retry"
)

// writePDF builds a minimal document with the given number of blank pages
func writePDF(t *testing.T, pages int) string {
	t.Helper()
	var objects []string
	kids := make([]string, pages)
	for i := 0; i < pages; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	objects = append(objects, "<< /Type /Catalog /Pages 2 0 R >>")
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 100] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(t.TempDir(), "deck.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestSegment_RendersEveryPage(t *testing.T) {
	path := writePDF(t, 3)
	s := &PDF{DPI: 72, Quality: 80}

	pages, err := s.Segment(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.Equal(t, i+1, p.Number)
		img, err := jpeg.Decode(bytes.NewReader(p.JPEG))
		require.NoError(t, err)
		assert.Equal(t, 200, img.Bounds().Dx())
		assert.Equal(t, 100, img.Bounds().Dy())
	}
}

func TestSegment_DPIScalesImage(t *testing.T) {
	pages, err := New().Segment(context.Background(), writePDF(t, 1))
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(pages[0].JPEG))
	require.NoError(t, err)
	// 200pt at 300 DPI
	assert.InDelta(t, 833, img.Bounds().Dx(), 2)
}

func TestSegment_MissingFileIsPermanent(t *testing.T) {
	_, err := New().Segment(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestSegment_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Segment(ctx, writePDF(t, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

package subject

import (
	"context"
	"testing"

	"github.com/jonathan/slide-narrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Drafts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	got, err := s.LoadDrafts(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	drafts := &types.PageDrafts{
		Drafts: []types.PageDraft{
			{Page: 1, Cornerstone: "cover", Draft: "cover"},
			{Page: 3, Cornerstone: "cover", Draft: "third"},
		},
		Skipped: []int{2},
	}
	require.NoError(t, s.SaveDrafts(ctx, 1, drafts))

	got, err = s.LoadDrafts(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cover", got.Cornerstone())
	assert.Len(t, got.Drafts, 2)
	assert.Equal(t, []int{2}, got.Skipped)
}

func TestMemoryStore_Transcript(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveTranscript(ctx, 4, &types.Transcript{Speeches: []string{"a", "b"}}))
	got, err := s.LoadTranscript(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Speeches)

	// Drafts and transcript are independent fields
	drafts, err := s.LoadDrafts(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, drafts)
}

func TestDecodeDrafts_RejectsInvalid(t *testing.T) {
	_, err := DecodeDrafts([]byte(`{"drafts":[{"page":"one"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stored drafts are invalid")
}

func TestTranscript_PageNumbersRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveTranscript(ctx, 4, &types.Transcript{Speeches: []string{"a", "c"}, Pages: []int{1, 3}}))
	got, err := s.LoadTranscript(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, got.Pages)

	err = s.SaveTranscript(ctx, 4, &types.Transcript{Speeches: []string{"a", "c"}, Pages: []int{1}})
	assert.Error(t, err)
}

func TestDecodeTranscript_RejectsMisalignedPages(t *testing.T) {
	_, err := DecodeTranscript([]byte(`{"speeches":["a","b"],"pages":[2]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stored transcript is invalid")

	_, err = DecodeTranscript([]byte(`{"speeches":["a"],"pages":[0]}`))
	assert.Error(t, err)
}

func TestDecodeTranscript_Empty(t *testing.T) {
	got, err := DecodeTranscript(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_GetDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddDocument(Document{ID: 3, SubjectID: 1, StoragePath: "/tmp/deck.pdf"})

	doc, err := s.GetDocument(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/deck.pdf", doc.StoragePath)

	_, err = s.GetDocument(ctx, 4)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

package captions

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ProportionalToLength(t *testing.T) {
	cues := Split("Short one. A much longer second sentence follows!", 2*time.Second, 10*time.Second)
	require.Len(t, cues, 2)

	assert.Equal(t, "Short one.", cues[0].Text)
	assert.Equal(t, "A much longer second sentence follows!", cues[1].Text)
	assert.Equal(t, 2*time.Second, cues[0].Start)
	assert.Equal(t, cues[0].End, cues[1].Start)
	assert.Equal(t, 12*time.Second, cues[1].End)
	assert.Less(t, cues[0].End-cues[0].Start, cues[1].End-cues[1].Start)
}

func TestSplit_NoTerminalPunctuation(t *testing.T) {
	cues := Split("  words without\n an ending  ", 0, time.Second)
	require.Len(t, cues, 1)
	assert.Equal(t, "words without an ending", cues[0].Text)
	assert.Equal(t, time.Second, cues[0].End)
}

func TestSplit_Empty(t *testing.T) {
	assert.Nil(t, Split("   ", 0, time.Second))
	assert.Nil(t, Split("Text.", 0, 0))
}

func TestSplit_QuotedSentenceEnd(t *testing.T) {
	cues := Split(`He said "stop." Then left.`, 0, 4*time.Second)
	require.Len(t, cues, 2)
	assert.Equal(t, `He said "stop."`, cues[0].Text)
}

func TestWriteSRT(t *testing.T) {
	var b strings.Builder
	err := WriteSRT(&b, []Cue{
		{Start: 0, End: 1500 * time.Millisecond, Text: "First."},
		{Start: 1500 * time.Millisecond, End: time.Hour + 2*time.Minute + 3*time.Second + 4*time.Millisecond, Text: "Second."},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"1\n00:00:00,000 --> 00:00:01,500\nFirst.\n\n"+
			"2\n00:00:01,500 --> 01:02:03,004\nSecond.\n\n",
		b.String())
}

func TestWriteVTT(t *testing.T) {
	var b strings.Builder
	err := WriteVTT(&b, []Cue{{Start: 61 * time.Second, End: 62 * time.Second, Text: "a < b & c"}})
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n\n00:01:01.000 --> 00:01:02.000\na &lt; b &amp; c\n\n", b.String())
}

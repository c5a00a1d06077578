package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortstudio/studio-agent/internal/playback"
	"github.com/shortstudio/studio-agent/internal/storyboard"
)

func board(keywords ...string) storyboard.Storyboard {
	b := make(storyboard.Storyboard, 0, len(keywords))
	for _, kw := range keywords {
		b = append(b, storyboard.KeywordEntry{
			Keyword: kw,
			Options: []storyboard.ClipOption{{DownloadLink: "https://cdn/" + kw + ".mp4"}},
		})
	}
	return b
}

func TestBuildTimeline_EqualBuckets(t *testing.T) {
	b := board("robot", "ciudad", "software")
	sel := storyboard.NewSelections()
	sel.SetDefaults(b)

	clips, unresolved := BuildTimeline(b, sel, 9)
	require.Len(t, clips, 3)
	assert.Empty(t, unresolved)

	assert.Equal(t, 0, clips[0].RecordInMs)
	assert.Equal(t, 3000, clips[0].RecordOutMs)
	assert.Equal(t, 3000, clips[1].RecordInMs)
	assert.Equal(t, 9000, clips[2].RecordOutMs)
	assert.Equal(t, "https://cdn/ciudad.mp4", clips[1].MediaPath)
}

func TestBuildTimeline_MatchesPreviewPartition(t *testing.T) {
	b := board("a", "b", "c", "d", "e", "f", "g")
	sel := storyboard.NewSelections()
	sel.SetDefaults(b)
	const duration = 13.7

	clips, _ := BuildTimeline(b, sel, duration)
	for _, c := range clips {
		mid := float64(c.RecordInMs+c.RecordOutMs) / 2 / 1000
		assert.Equal(t, c.Index, playback.ClipIndex(mid, duration, b.Len()), "clip %s", c.Keyword)
	}
}

func TestBuildTimeline_UnresolvedAndPlaceholder(t *testing.T) {
	b := board("robot", "ciudad")
	sel := storyboard.NewSelections()
	sel.Select("robot", storyboard.AIGeneratedLink)

	clips, unresolved := BuildTimeline(b, sel, 4)
	require.Len(t, clips, 1)
	assert.True(t, clips[0].Placeholder)
	assert.Equal(t, []string{"ciudad"}, unresolved)
}

func TestBuildTimeline_Degenerate(t *testing.T) {
	clips, _ := BuildTimeline(nil, storyboard.NewSelections(), 10)
	assert.Empty(t, clips)

	b := board("robot")
	sel := storyboard.NewSelections()
	sel.SetDefaults(b)
	clips, _ = BuildTimeline(b, sel, 0)
	assert.Empty(t, clips)
}

func TestGenerateSRT(t *testing.T) {
	srt := GenerateSRT([]storyboard.Segment{
		{Start: 0, End: 0.45, Text: "HOLA"},
		{Start: 0.5, End: 0.5, Text: "  "},
		{Start: 3661.25, End: 3662, Text: "mundo"},
		{Start: 5, End: 4, Text: "inverted"},
	})

	want := "1\n00:00:00,000 --> 00:00:00,450\nHOLA\n\n" +
		"2\n01:01:01,250 --> 01:01:02,000\nmundo\n\n"
	assert.Equal(t, want, srt)
}

func TestWriteTimeline(t *testing.T) {
	dir := t.TempDir()
	b := board("robot", "ciudad")
	sel := storyboard.NewSelections()
	sel.SetDefaults(b)
	clips, _ := BuildTimeline(b, sel, 4)

	res, err := WriteTimeline(dir, "Mi video: final", 0, clips, []storyboard.Segment{{Start: 0, End: 1, Text: "hola"}})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Mi video_ final.edl"), res.EDLPath)
	assert.Equal(t, 2, res.ClipCount)

	edl, err := os.ReadFile(res.EDLPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(edl), "TITLE: Mi video_ final\n"))

	srt, err := os.ReadFile(res.SRTPath)
	require.NoError(t, err)
	assert.Contains(t, string(srt), "hola")
}

func TestWriteTimeline_Rejects(t *testing.T) {
	_, err := WriteTimeline(filepath.Join(t.TempDir(), "missing"), "x", 30, []TimelineClip{{}}, nil)
	assert.ErrorIs(t, err, ErrInvalidOutputDir)

	_, err = WriteTimeline(t.TempDir(), "x", 30, nil, nil)
	assert.Error(t, err)
}

package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/shortstudio/studio-agent/internal/storyboard"
)

// SelectionSource resolves a keyword to its chosen download link.
type SelectionSource interface {
	Link(keyword string) (string, bool)
}

// BuildTimeline gives every keyword an equal share of duration, in storyboard
// order. Bucket i spans [i*d/n, (i+1)*d/n), the same partition the preview
// uses. Keywords without a selection are returned as unresolved and leave a
// gap. AI-generated selections are placed with Placeholder set.
func BuildTimeline(board storyboard.Storyboard, selections SelectionSource, duration float64) ([]TimelineClip, []string) {
	n := board.Len()
	if n == 0 || duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil, nil
	}

	totalMs := duration * 1000
	clips := make([]TimelineClip, 0, n)
	unresolved := make([]string, 0)

	for i, entry := range board {
		link, ok := selections.Link(entry.Keyword)
		if !ok || link == "" {
			unresolved = append(unresolved, entry.Keyword)
			continue
		}

		name := SanitizeName(entry.Keyword, maxClipName)
		if name == "" {
			name = fmt.Sprintf("clip_%03d", i+1)
		}

		clips = append(clips, TimelineClip{
			Index:       i,
			Keyword:     entry.Keyword,
			ClipName:    name,
			MediaPath:   link,
			RecordInMs:  int(math.Round(totalMs * float64(i) / float64(n))),
			RecordOutMs: int(math.Round(totalMs * float64(i+1) / float64(n))),
			Placeholder: link == storyboard.AIGeneratedLink,
		})
	}
	return clips, unresolved
}

// WriteTimeline writes <name>.edl and <name>.srt into dir.
func WriteTimeline(dir, projectName string, frameRate float64, clips []TimelineClip, segments []storyboard.Segment) (TimelineResult, error) {
	if err := ValidateOutputDir(dir); err != nil {
		return TimelineResult{}, err
	}
	if len(clips) == 0 {
		return TimelineResult{}, fmt.Errorf("timeline has no clips")
	}

	name := SanitizeName(projectName, maxProjectName)
	if name == "" {
		name = DefaultProjectName
	}
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}

	edlPath := filepath.Join(dir, name+".edl")
	if err := os.WriteFile(edlPath, []byte(GenerateEDL(clips, name, frameRate)), 0o644); err != nil {
		return TimelineResult{}, fmt.Errorf("write edl: %w", err)
	}

	srtPath := filepath.Join(dir, name+".srt")
	if err := os.WriteFile(srtPath, []byte(GenerateSRT(segments)), 0o644); err != nil {
		return TimelineResult{}, fmt.Errorf("write srt: %w", err)
	}

	return TimelineResult{
		Status:    "ok",
		EDLPath:   edlPath,
		SRTPath:   srtPath,
		ClipCount: len(clips),
		Clips:     clips,
	}, nil
}

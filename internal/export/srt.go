package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/shortstudio/studio-agent/internal/storyboard"
)

// GenerateSRT renders segments as SubRip cues. Blank or inverted segments
// are skipped and the remaining cues are numbered consecutively.
func GenerateSRT(segments []storyboard.Segment) string {
	var b strings.Builder
	n := 0
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" || seg.End < seg.Start {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", n, srtTimestamp(seg.Start), srtTimestamp(seg.End), text)
	}
	return b.String()
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(math.Round(seconds * 1000))
	ms := total % 1000
	s := total / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", s/3600, (s/60)%60, s%60, ms)
}

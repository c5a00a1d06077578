// Package storyboard holds the keyword/clip data returned by script analysis
// and the per-keyword clip selections the user makes on top of it.
package storyboard

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AIGeneratedLink is the selection sentinel for "generate this clip via AI"
// instead of fetching a stock clip.
const AIGeneratedLink = "ai:generate"

type ClipOption struct {
	DownloadLink string `json:"download_link"`
	PreviewImage string `json:"preview_img"`
}

// IsAIGenerated reports whether the option is the AI-generation sentinel.
func (o ClipOption) IsAIGenerated() bool {
	return o.DownloadLink == AIGeneratedLink
}

type KeywordEntry struct {
	Keyword string       `json:"keyword"`
	Options []ClipOption `json:"options"`
}

// Option returns the option with the given download link.
func (e KeywordEntry) Option(link string) (ClipOption, bool) {
	for _, o := range e.Options {
		if o.DownloadLink == link {
			return o, true
		}
	}
	return ClipOption{}, false
}

// Storyboard is the ordered keyword list for one analyzed script.
// Keywords are unique within a storyboard.
type Storyboard []KeywordEntry

func (b Storyboard) Len() int { return len(b) }

func (b Storyboard) Keywords() []string {
	out := make([]string, len(b))
	for i, e := range b {
		out[i] = e.Keyword
	}
	return out
}

// Find returns the entry for keyword.
func (b Storyboard) Find(keyword string) (KeywordEntry, bool) {
	for _, e := range b {
		if e.Keyword == keyword {
			return e, true
		}
	}
	return KeywordEntry{}, false
}

// Segment is a time-bounded unit of narration used for subtitle display.
// Offsets are seconds from the start of the narration audio.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"word"`
}

// Contains reports whether t lies in [Start, End].
func (s Segment) Contains(t float64) bool {
	return s.Start <= t && t <= s.End
}

// UnmarshalJSON accepts both the word-level ("word") and phrase-level
// ("words") payloads. "words" may be a string or a list of strings.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw struct {
		Start float64         `json:"start"`
		End   float64         `json:"end"`
		Word  *string         `json:"word"`
		Words json.RawMessage `json:"words"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Start = raw.Start
	s.End = raw.End
	s.Text = ""

	if raw.Word != nil {
		s.Text = *raw.Word
		return nil
	}
	if len(raw.Words) == 0 || string(raw.Words) == "null" {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw.Words, &text); err == nil {
		s.Text = text
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw.Words, &list); err != nil {
		return fmt.Errorf("segment words: expected string or list of strings: %w", err)
	}
	s.Text = strings.Join(list, " ")
	return nil
}

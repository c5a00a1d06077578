package storyboard

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrEmptyStoryboard      = errors.New("storyboard is empty")
	ErrIncompleteSelections = errors.New("every scene needs a clip before exporting")
)

// Selections maps keyword to the chosen option's download link.
type Selections struct {
	mu    sync.RWMutex
	links map[string]string
}

func NewSelections() *Selections {
	return &Selections{links: make(map[string]string)}
}

// SetDefaults replaces the store contents with each keyword's first option.
// Keywords without options get no entry.
func (s *Selections) SetDefaults(board Storyboard) {
	links := make(map[string]string, len(board))
	for _, e := range board {
		if len(e.Options) > 0 {
			links[e.Keyword] = e.Options[0].DownloadLink
		}
	}

	s.mu.Lock()
	s.links = links
	s.mu.Unlock()
}

// Select upserts one keyword's choice without touching the others.
func (s *Selections) Select(keyword, link string) {
	s.mu.Lock()
	s.links[keyword] = link
	s.mu.Unlock()
}

func (s *Selections) Link(keyword string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[keyword]
	return link, ok
}

func (s *Selections) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// Snapshot returns a copy safe to marshal or hand to another goroutine.
func (s *Selections) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.links))
	for k, v := range s.links {
		out[k] = v
	}
	return out
}

func (s *Selections) Reset() {
	s.mu.Lock()
	s.links = make(map[string]string)
	s.mu.Unlock()
}

// IsComplete is true iff every keyword in board has a selection.
func (s *Selections) IsComplete(board Storyboard) bool {
	return len(s.Missing(board)) == 0
}

// Missing lists keywords in board order that have no selection.
func (s *Selections) Missing(board Storyboard) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, e := range board {
		if _, ok := s.links[e.Keyword]; !ok {
			missing = append(missing, e.Keyword)
		}
	}
	return missing
}

// CheckExportable rejects an export before any request is made.
func (s *Selections) CheckExportable(board Storyboard) error {
	if board.Len() == 0 {
		return ErrEmptyStoryboard
	}
	if missing := s.Missing(board); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteSelections, strings.Join(missing, ", "))
	}
	return nil
}

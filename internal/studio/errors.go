package studio

import (
	"errors"

	"github.com/shortstudio/studio-agent/internal/export"
	"github.com/shortstudio/studio-agent/internal/storyboard"
)

var (
	ErrEmptyScript     = errors.New("script is empty")
	ErrEmptyBatch      = errors.New("batch file has no scripts")
	ErrInvalidBatch    = errors.New("batch file is not valid CSV")
	ErrUnknownKeyword  = errors.New("keyword is not in the storyboard")
	ErrUnknownOption   = errors.New("link is not an option for this keyword")
	ErrInvalidSettings = errors.New("invalid settings")
	ErrInvalidDuration = errors.New("duration must be positive")

	ErrNoClips        = errors.New("no clips found for this script")
	ErrAnalysisFailed = errors.New("analysis failed")
)

var validationErrors = []error{
	ErrEmptyScript,
	ErrEmptyBatch,
	ErrInvalidBatch,
	ErrUnknownKeyword,
	ErrUnknownOption,
	ErrInvalidSettings,
	ErrInvalidDuration,
	storyboard.ErrEmptyStoryboard,
	storyboard.ErrIncompleteSelections,
	export.ErrInvalidOutputDir,
}

// IsValidation reports whether err was raised before any request reached the
// job service.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

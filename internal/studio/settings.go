package studio

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const settingsKey = "settings"

const (
	PositionTop    = "top"
	PositionCenter = "center"
	PositionBottom = "bottom"
)

// Settings are the user's render preferences sent with every export.
type Settings struct {
	OutputPath string `json:"output_path" validate:"max=1024"`
	Voice      string `json:"voice" validate:"max=100"`
	Preset     string `json:"preset,omitempty" validate:"max=100"`
	Position   string `json:"position" validate:"oneof=top center bottom"`
	FontSize   int    `json:"font_size" validate:"min=12,max=200"`
}

func DefaultSettings(outputPath string) Settings {
	return Settings{
		OutputPath: outputPath,
		Voice:      "es-ES-AlvaroNeural",
		Position:   PositionBottom,
		FontSize:   60,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// Settings returns the current render preferences.
func (s *Session) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings validates and persists next.
func (s *Session) UpdateSettings(ctx context.Context, next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	b, err := json.Marshal(next)
	if err != nil {
		return Settings{}, fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.repo.SetConfig(ctx, settingsKey, string(b)); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}

	s.mu.Lock()
	s.settings = next
	s.mu.Unlock()

	s.logger.Info("settings updated", "voice", next.Voice, "position", next.Position, "font_size", next.FontSize)
	return next, nil
}

// loadSettings overlays persisted settings on the defaults.
func (s *Session) loadSettings(ctx context.Context, defaults Settings) (Settings, error) {
	raw, err := s.repo.GetConfig(ctx, settingsKey)
	if err != nil {
		return defaults, fmt.Errorf("load settings: %w", err)
	}
	if raw == "" {
		return defaults, nil
	}

	stored := defaults
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.logger.Warn("ignoring unreadable stored settings", "error", err)
		return defaults, nil
	}
	if err := stored.Validate(); err != nil {
		s.logger.Warn("ignoring invalid stored settings", "error", err)
		return defaults, nil
	}
	return stored, nil
}

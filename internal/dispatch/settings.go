package dispatch

import (
	"fmt"

	"github.com/faceless-tools/faceless/internal/anonymizer"
	"github.com/faceless-tools/faceless/internal/constants"
	"github.com/faceless-tools/faceless/internal/queue"
)

// Settings carry the anonymization parameters for a run. They are read once
// at dispatch time; changing them later never rewrites existing results.
type Settings struct {
	Method    anonymizer.Method
	Intensity int
	Mode      queue.Mode
}

// DefaultSettings returns the values a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{
		Method:    anonymizer.MethodBlur,
		Intensity: constants.DefaultIntensity,
		Mode:      queue.ModeSingle,
	}
}

// Validate checks the settings against the accepted parameter ranges.
func (s Settings) Validate() error {
	if !s.Method.Valid() {
		return fmt.Errorf("unknown anonymization method: %s", s.Method)
	}
	if s.Intensity < constants.MinIntensity || s.Intensity > constants.MaxIntensity {
		return fmt.Errorf("intensity must be between %d and %d, got %d",
			constants.MinIntensity, constants.MaxIntensity, s.Intensity)
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("unknown selection mode: %s", s.Mode)
	}
	return nil
}

// options converts the settings into request parameters.
func (s Settings) options() anonymizer.Options {
	return anonymizer.Options{Method: s.Method, Intensity: s.Intensity}
}

package race

import (
	"errors"
	"fmt"
	"os"

	"github.com/mcdev12/racesync/go/internal/geom"
	"gopkg.in/yaml.v3"
)

var ErrInvalidTrack = errors.New("invalid track")

// Track describes the start/finish zone of a circuit
type Track struct {
	Name       string    `yaml:"name"`
	StartPoint geom.Vec3 `yaml:"start_point"`
	// Radius of the start/finish zone, measured on the ground plane
	Radius float64 `yaml:"radius"`
	// Hysteresis is how far past Radius a vehicle must go to count as having
	// left the zone
	Hysteresis float64 `yaml:"hysteresis"`
}

// DefaultTrack returns the built-in circuit
func DefaultTrack() Track {
	return Track{
		Name:       "default",
		StartPoint: geom.Vec3{-10, 0, -10},
		Radius:     3,
		Hysteresis: 0.25,
	}
}

// LoadTrack reads a YAML track file. Fields missing from the file keep their
// default values.
func LoadTrack(path string) (Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Track{}, fmt.Errorf("read track file: %w", err)
	}
	return ParseTrack(data)
}

// ParseTrack decodes YAML track data on top of DefaultTrack
func ParseTrack(data []byte) (Track, error) {
	track := DefaultTrack()
	if err := yaml.Unmarshal(data, &track); err != nil {
		return Track{}, fmt.Errorf("parse track: %w", err)
	}
	if err := track.Validate(); err != nil {
		return Track{}, err
	}
	return track, nil
}

func (t Track) Validate() error {
	switch {
	case !t.StartPoint.IsFinite():
		return fmt.Errorf("%w: start point must be finite", ErrInvalidTrack)
	case !(t.Radius > 0):
		return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidTrack, t.Radius)
	case !(t.Hysteresis >= 0):
		return fmt.Errorf("%w: hysteresis must not be negative, got %v", ErrInvalidTrack, t.Hysteresis)
	}
	return nil
}

// Package station loads kiosk station definitions.
package station

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schoolgate/schoolgate/internal/attendance"
	"github.com/schoolgate/schoolgate/internal/identity"
)

// DefaultCooldown is the repeat-tap window used when a definition sets none.
const DefaultCooldown = 2 * time.Second

const minKeyLen = 16

// Definition describes one physical scanning station.
type Definition struct {
	ID         string                 `yaml:"id"`
	Kind       attendance.StationKind `yaml:"kind"`
	Location   string                 `yaml:"location"`
	EntityKind identity.Kind          `yaml:"entity_kind"`
	Cooldown   time.Duration          `yaml:"cooldown"`
	// Key is the shared secret a kiosk presents when relaying taps to the
	// API. Stations without a key only accept operator-authenticated taps.
	Key string `yaml:"key"`
}

type file struct {
	Stations []Definition `yaml:"stations"`
}

// Validate checks a definition and fills defaults.
func (d *Definition) Validate(defaultCooldown time.Duration) error {
	if d.ID == "" {
		return errors.New("station id is required")
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("station %s: unknown kind %q", d.ID, d.Kind)
	}
	if d.EntityKind == "" {
		d.EntityKind = identity.KindStudent
	}
	if !d.EntityKind.Valid() {
		return fmt.Errorf("station %s: unknown entity kind %q", d.ID, d.EntityKind)
	}
	if d.Location == "" {
		d.Location = d.ID
	}
	if d.Key != "" && len(d.Key) < minKeyLen {
		return fmt.Errorf("station %s: key must be at least %d characters", d.ID, minKeyLen)
	}
	if d.Cooldown < 0 {
		return fmt.Errorf("station %s: cooldown must not be negative", d.ID)
	}
	if d.Cooldown == 0 {
		d.Cooldown = defaultCooldown
		if d.Cooldown <= 0 {
			d.Cooldown = DefaultCooldown
		}
	}
	return nil
}

// Parse decodes a YAML station list.
func Parse(data []byte, defaultCooldown time.Duration) ([]Definition, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stations: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Stations))
	for i := range f.Stations {
		if err := f.Stations[i].Validate(defaultCooldown); err != nil {
			return nil, err
		}
		if _, dup := seen[f.Stations[i].ID]; dup {
			return nil, fmt.Errorf("duplicate station id %s", f.Stations[i].ID)
		}
		seen[f.Stations[i].ID] = struct{}{}
	}
	return f.Stations, nil
}

// LoadFile reads station definitions from path.
func LoadFile(path string, defaultCooldown time.Duration) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations file: %w", err)
	}
	return Parse(data, defaultCooldown)
}

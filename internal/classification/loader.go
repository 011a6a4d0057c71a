package classification

import (
	"encoding/json"
	"fmt"
	"os"

	"custodia/pkg/domain"
)

type fileEntry struct {
	EntityType string `json:"entity_type"`
	Field      string `json:"field"`
	Level      string `json:"level"`
	Origin     string `json:"origin"`
}

// LoadFile reads field classifications from a JSON file into the registry.
// Unknown levels or entity types fail loading; a typo here must not silently
// downgrade a field to the Internal default.
func LoadFile(r *Registry, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read classification map %s: %w", path, err)
	}
	var entries []fileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse classification map %s: %w", path, err)
	}

	for _, e := range entries {
		t, err := domain.ParseEntityType(e.EntityType)
		if err != nil {
			return fmt.Errorf("classification entry %q: %w", e.EntityType, err)
		}
		level, err := domain.ParseClassificationLevel(e.Level)
		if err != nil {
			return fmt.Errorf("classification entry %s.%s: %w", e.EntityType, e.Field, err)
		}
		fc := FieldClassification{EntityType: t, Field: e.Field, Level: level}
		if e.Origin != "" {
			origin, err := domain.ParseFieldOrigin(e.Origin)
			if err != nil {
				return fmt.Errorf("classification entry %s.%s: %w", e.EntityType, e.Field, err)
			}
			fc.Origin = origin
		}
		r.Set(fc)
	}
	return nil
}

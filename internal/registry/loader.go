package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"custodia/pkg/domain"
)

// TableConfig is one entry in the table map file deployments use to describe
// their product tables.
type TableConfig struct {
	EntityType         string            `json:"entity_type"`
	Table              string            `json:"table"`
	IDColumn           string            `json:"id_column"`
	SubjectColumn      string            `json:"subject_column"`
	FieldColumns       []string          `json:"field_columns"`
	CreatedAtColumn    string            `json:"created_at_column"`
	LastActivityColumn string            `json:"last_activity_column"`
	DeletedAtColumn    string            `json:"deleted_at_column"`
	ParentColumns      map[string]string `json:"parent_columns"`
	// Children name the entity types deleted before a record of this type,
	// in cascade order.
	Children []string `json:"children"`
}

// LoadTableFile parses a table map file.
func LoadTableFile(path string) ([]TableConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table map %s: %w", path, err)
	}
	var configs []TableConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, fmt.Errorf("parse table map %s: %w", path, err)
	}
	return configs, nil
}

// BuildFromFile constructs a finalized registry of SQL accessors from a table
// map file. Any inconsistency in the file, an unknown child or a dependency
// cycle included, fails here at startup.
func BuildFromFile(db *sql.DB, path string) (*Registry, error) {
	configs, err := LoadTableFile(path)
	if err != nil {
		return nil, err
	}

	r := New()
	for _, c := range configs {
		t, err := domain.ParseEntityType(c.EntityType)
		if err != nil {
			return nil, fmt.Errorf("table map entry %q: %w", c.EntityType, err)
		}
		spec := TableSpec{
			EntityType:         t,
			Table:              c.Table,
			IDColumn:           c.IDColumn,
			SubjectColumn:      c.SubjectColumn,
			FieldColumns:       c.FieldColumns,
			CreatedAtColumn:    c.CreatedAtColumn,
			LastActivityColumn: c.LastActivityColumn,
			DeletedAtColumn:    c.DeletedAtColumn,
		}
		if len(c.ParentColumns) > 0 {
			spec.ParentColumns = make(map[domain.EntityType]string, len(c.ParentColumns))
			for parent, col := range c.ParentColumns {
				pt, err := domain.ParseEntityType(parent)
				if err != nil {
					return nil, fmt.Errorf("table map entry %q parent %q: %w", c.EntityType, parent, err)
				}
				spec.ParentColumns[pt] = col
			}
		}
		accessor, err := NewSQLAccessor(db, spec)
		if err != nil {
			return nil, err
		}

		children := make([]domain.EntityType, 0, len(c.Children))
		for _, child := range c.Children {
			ct, err := domain.ParseEntityType(child)
			if err != nil {
				return nil, fmt.Errorf("table map entry %q child %q: %w", c.EntityType, child, err)
			}
			children = append(children, ct)
		}
		if err := r.Register(t, accessor, children...); err != nil {
			return nil, err
		}
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return r, nil
}

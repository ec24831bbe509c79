package validate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TableSpec is the per-table conformance specification. The permissible
// category vocabularies (mCIDE mappings) are external reference data
// consumed as-is.
type TableSpec struct {
	Table string `yaml:"table"`
	// BaseColumns are the standard columns the table must carry.
	BaseColumns []string `yaml:"base_columns"`
	// CategoryColumns maps a category column to its permissible values.
	CategoryColumns map[string][]string `yaml:"category_columns"`
	// TemporalColumns must parse as timestamps; DateColumns must match
	// YYYY-MM-DD exactly.
	TemporalColumns []string `yaml:"temporal_columns"`
	DateColumns     []string `yaml:"date_columns"`
	// IDColumn, when set, must be duplicate-free.
	IDColumn string `yaml:"id_column"`
}

// LoadSpec reads a table spec from a YAML file.
func LoadSpec(path string) (*TableSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table spec: %w", err)
	}
	var spec TableSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse table spec: %w", err)
	}
	if spec.Table == "" {
		return nil, fmt.Errorf("table spec %s: missing table name", path)
	}
	return &spec, nil
}

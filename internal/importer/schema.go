// Package importer loads budget seed files: bucket totals for one or more
// school years, applied through the ledger.
package importer

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedSchema is the top-level structure of a budget seed file.
//
//	school_year: 2025-2026
//	buckets:
//	  - budget_type: merit
//	    total: 5000000
//	  - budget_type: need_based
//	    school_year: 2026-2027
//	    total: 2500000
type SeedSchema struct {
	SchoolYear string         `yaml:"school_year"`
	Buckets    []BucketImport `yaml:"buckets"`
}

// BucketImport is one bucket total. SchoolYear falls back to the file-level
// value. Amounts are in minor currency units.
type BucketImport struct {
	BudgetType string `yaml:"budget_type"`
	SchoolYear string `yaml:"school_year,omitempty"`
	Total      *int64 `yaml:"total"`
}

// LoadSeedSchema reads and parses a seed file. JSON files parse too.
func LoadSeedSchema(path string) (*SeedSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedSchema(data)
}

func ParseSeedSchema(data []byte) (*SeedSchema, error) {
	var schema SeedSchema
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&schema); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return &schema, nil
}

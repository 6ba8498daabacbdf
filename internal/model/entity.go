// Package model defines the shared types of the assay workflow: canonical
// entities, match results, ingested tables, sessions, and derived views.
package model

// EntityKind distinguishes the canonical record types a row can match.
type EntityKind string

const (
	EntityDesign EntityKind = "design"
	EntityBuild  EntityKind = "build"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == EntityDesign || k == EntityBuild
}

// Entity is a canonical Design or Build record. Entities are immutable once
// the entity store snapshot containing them is built.
type Entity struct {
	ID        string     `json:"id" yaml:"id"`
	Kind      EntityKind `json:"kind" yaml:"kind"`
	Name      string     `json:"name" yaml:"name"`
	Alias     string     `json:"alias,omitempty" yaml:"alias,omitempty"`
	Sequence  string     `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	Mutations []string   `json:"mutation_list,omitempty" yaml:"mutations,omitempty"`
	ParentID  string     `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`

	// Computed when the store snapshot is built.
	LineageHash string `json:"lineage_hash" yaml:"-"`
	Generation  int    `json:"generation" yaml:"-"`
}

// Test is one uploaded observation together with its match outcome.
type Test struct {
	SourceFile  string      `json:"source_file"`
	Row         int         `json:"row"`
	Name        string      `json:"name,omitempty"`
	ResultValue *float64    `json:"result_value,omitempty"`
	ResultUnit  string      `json:"result_unit,omitempty"`
	TestType    string      `json:"test_type,omitempty"`
	AssayName   string      `json:"assay_name,omitempty"`
	Technician  string      `json:"technician,omitempty"`
	Match       MatchResult `json:"match"`
}

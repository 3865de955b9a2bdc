// Package models defines the domain types for cctsync.
package models

import "time"

// Direction controls which way a mapping propagates a value.
type Direction string

// Mapping directions.
const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
	DirectionBoth Direction = "both"
)

// Pulls reports whether the child reads the value from its parent at save time.
func (d Direction) Pulls() bool {
	return d == DirectionPull || d == DirectionBoth || d == ""
}

// Pushes reports whether a parent save writes the value out to its children.
func (d Direction) Pushes() bool {
	return d == DirectionPush || d == DirectionBoth
}

// UIBehavior is an advisory hint for the edit screen of the destination field.
type UIBehavior string

// UI behaviours.
const (
	UIReadonly UIBehavior = "readonly"
	UIHidden   UIBehavior = "hidden"
)

// FieldMapping binds one parent field to one child field across a relation.
type FieldMapping struct {
	ID               string     `json:"id" yaml:"id"`
	TargetCCT        string     `json:"target_cct" yaml:"target_cct"`
	TriggerRelation  RelationID `json:"trigger_relation" yaml:"trigger_relation"`
	SourceField      string     `json:"source_field" yaml:"source_field"`
	DestinationField string     `json:"destination_field" yaml:"destination_field"`
	Direction        Direction  `json:"direction" yaml:"direction"`
	UIBehavior       UIBehavior `json:"ui_behavior" yaml:"ui_behavior"`
	Enabled          bool       `json:"enabled" yaml:"enabled"`
	CreatedAt        time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Key is the functional identity of a mapping. Two mappings with the same
// key describe the same rule.
type Key struct {
	TargetCCT        string
	TriggerRelation  RelationID
	SourceField      string
	DestinationField string
}

// Key returns the mapping's functional identity.
func (m FieldMapping) Key() Key {
	return Key{
		TargetCCT:        m.TargetCCT,
		TriggerRelation:  m.TriggerRelation,
		SourceField:      m.SourceField,
		DestinationField: m.DestinationField,
	}
}

// MappingInput is the payload accepted when saving a mapping. Zero values
// are replaced by defaults; Enabled is a pointer so that "unset" means true.
type MappingInput struct {
	ID               string     `json:"id,omitempty"`
	TargetCCT        string     `json:"target_cct"`
	TriggerRelation  RelationID `json:"trigger_relation"`
	SourceField      string     `json:"source_field"`
	DestinationField string     `json:"destination_field"`
	Direction        Direction  `json:"direction,omitempty"`
	UIBehavior       UIBehavior `json:"ui_behavior,omitempty"`
	Enabled          *bool      `json:"enabled,omitempty"`
}

// Key returns the functional identity of the input.
func (in MappingInput) Key() Key {
	return Key{
		TargetCCT:        in.TargetCCT,
		TriggerRelation:  in.TriggerRelation,
		SourceField:      in.SourceField,
		DestinationField: in.DestinationField,
	}
}

// YearExpanderConfig configures the start/end year range expansion.
type YearExpanderConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	TargetCCT   string `json:"target_cct" yaml:"target_cct"`
	StartField  string `json:"start_field" yaml:"start_field"`
	EndField    string `json:"end_field" yaml:"end_field"`
	OutputField string `json:"output_field" yaml:"output_field"`
}

// ConfigNameConfig configures the composite display-name generator.
type ConfigNameConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	TargetCCT   string `json:"target_cct" yaml:"target_cct"`
	OutputField string `json:"output_field" yaml:"output_field"`
	Template    string `json:"template" yaml:"template"`
}

// Settings is the single persisted configuration record.
type Settings struct {
	Mappings     []FieldMapping     `json:"mappings"`
	YearExpander YearExpanderConfig `json:"year_expander"`
	ConfigName   ConfigNameConfig   `json:"config_name"`
}

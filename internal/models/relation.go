package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RelationID identifies a JetEngine relation. Stored settings may carry it
// either as a number or as a numeric string.
type RelationID int64

// String returns the decimal form of the id.
func (id RelationID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnmarshalJSON accepts 5, "5" and "".
func (id *RelationID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*id = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		return id.parse(str)
	}
	return id.parse(s)
}

// UnmarshalYAML accepts both scalar forms.
func (id *RelationID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("relation id: expected scalar, got kind %d", node.Kind)
	}
	return id.parse(node.Value)
}

func (id *RelationID) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("relation id %q: %w", s, err)
	}
	*id = RelationID(n)
	return nil
}

// EndpointType is the kind of object on one side of a relation.
type EndpointType string

// Endpoint types.
const (
	EndpointCCT     EndpointType = "cct"
	EndpointTerms   EndpointType = "terms"
	EndpointPosts   EndpointType = "posts"
	EndpointUnknown EndpointType = "unknown"
)

// Endpoint is a parsed relation endpoint descriptor such as "cct::makes".
type Endpoint struct {
	Type EndpointType `json:"type"`
	Slug string       `json:"slug"`
}

// Position is the side of a relation a CCT sits on.
type Position string

// Relation positions.
const (
	PositionParent Position = "parent"
	PositionChild  Position = "child"
	PositionBoth   Position = "both"
)

// Relation is a directed parent→child link owned by JetEngine.
type Relation struct {
	ID           RelationID  `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	ParentObject string      `json:"parent_object" yaml:"parent_object"`
	ChildObject  string      `json:"child_object" yaml:"child_object"`
	Type         string      `json:"type" yaml:"type"`
	ParentRel    *RelationID `json:"parent_rel,omitempty" yaml:"parent_rel,omitempty"`
}

// IsHierarchy reports whether the relation is nested under another one.
func (r Relation) IsHierarchy() bool {
	return r.ParentRel != nil && *r.ParentRel != 0
}

// Field describes one field of a CCT.
type Field struct {
	Name    string         `json:"name" yaml:"name"`
	Title   string         `json:"title" yaml:"title"`
	Type    string         `json:"type" yaml:"type"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// CCT is a JetEngine custom content type.
type CCT struct {
	Slug   string  `json:"slug" yaml:"slug"`
	Name   string  `json:"name" yaml:"name"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// HasField reports whether the CCT declares the named field.
func (c CCT) HasField(name string) bool {
	for _, f := range c.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

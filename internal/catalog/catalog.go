// Package catalog holds the JetEngine CCT and relation definitions cctsync
// works against. Definitions are read from a YAML export of the host site and
// swapped atomically whenever the file changes.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/starford/cctsync/internal/apperr"
	"github.com/starford/cctsync/internal/host"
	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/relation"
)

const defaultRelationType = "one_to_many"

type snapshot struct {
	ccts      []models.CCT
	relations []models.Relation
	checksum  string
}

// Catalog serves CCT and relation definitions from memory.
type Catalog struct {
	path   string
	logger *slog.Logger
	snap   atomic.Pointer[snapshot]
}

// Verify *Catalog satisfies host.Catalog at compile time.
var _ host.Catalog = (*Catalog)(nil)

// fileFormat mirrors the YAML export. Endpoint descriptors are decoded
// loosely so a malformed value degrades to an unknown endpoint.
type fileFormat struct {
	CCTs      []models.CCT `yaml:"ccts"`
	Relations []struct {
		ID           models.RelationID  `yaml:"id"`
		Name         string             `yaml:"name"`
		ParentObject any                `yaml:"parent_object"`
		ChildObject  any                `yaml:"child_object"`
		Type         string             `yaml:"type"`
		ParentRel    *models.RelationID `yaml:"parent_rel"`
	} `yaml:"relations"`
}

// Load reads the catalog file at path.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	c := &Catalog{path: path, logger: logger}
	if _, err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewStatic returns a catalog over fixed definitions.
func NewStatic(ccts []models.CCT, relations []models.Relation) *Catalog {
	c := &Catalog{logger: slog.New(slog.DiscardHandler)}
	c.snap.Store(&snapshot{
		ccts:      slices.Clone(ccts),
		relations: normalizeRelations(ccts, relations),
	})
	return c
}

// Reload re-reads the file. It reports false when the content is unchanged.
func (c *Catalog) Reload() (bool, error) {
	if c.path == "" {
		return false, nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return false, fmt.Errorf("catalog: read %s: %w", c.path, err)
	}
	digest := sha256.Sum256(data)
	sum := hex.EncodeToString(digest[:])
	if cur := c.snap.Load(); cur != nil && cur.checksum == sum {
		return false, nil
	}
	snap, err := c.parse(data)
	if err != nil {
		return false, err
	}
	snap.checksum = sum
	c.snap.Store(snap)
	c.logger.Info("catalog: loaded",
		slog.String("path", c.path),
		slog.Int("ccts", len(snap.ccts)),
		slog.Int("relations", len(snap.relations)))
	return true, nil
}

func (c *Catalog) parse(data []byte) (*snapshot, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", c.path, err)
	}
	rels := make([]models.Relation, 0, len(f.Relations))
	for _, raw := range f.Relations {
		rel := models.Relation{
			ID:           raw.ID,
			Name:         raw.Name,
			ParentObject: c.descriptor(raw.ID, "parent_object", raw.ParentObject),
			ChildObject:  c.descriptor(raw.ID, "child_object", raw.ChildObject),
			Type:         raw.Type,
			ParentRel:    raw.ParentRel,
		}
		rels = append(rels, rel)
	}
	var ccts []models.CCT
	for _, cct := range f.CCTs {
		if cct.Slug == "" {
			c.logger.Warn("catalog: skipping CCT without slug", slog.String("name", cct.Name))
			continue
		}
		if cct.Name == "" {
			cct.Name = cct.Slug
		}
		for i := range cct.Fields {
			if cct.Fields[i].Type == "" {
				cct.Fields[i].Type = "text"
			}
			if cct.Fields[i].Title == "" {
				cct.Fields[i].Title = cct.Fields[i].Name
			}
		}
		ccts = append(ccts, cct)
	}
	return &snapshot{ccts: ccts, relations: normalizeRelations(ccts, rels)}, nil
}

func (c *Catalog) descriptor(id models.RelationID, key string, v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	ep := relation.ParseEndpointValue(v)
	c.logger.Warn("catalog: relation endpoint is not a string",
		slog.String("relation_id", id.String()),
		slog.String("key", key),
		slog.String("type", string(ep.Type)))
	return ""
}

// normalizeRelations fills the relation type and derives missing names as
// "<parent> → <child>".
func normalizeRelations(ccts []models.CCT, rels []models.Relation) []models.Relation {
	names := make(map[string]string, len(ccts))
	for _, cct := range ccts {
		names[cct.Slug] = cct.Name
	}
	label := func(descriptor string) string {
		ep := relation.ParseEndpoint(descriptor)
		if n, ok := names[ep.Slug]; ok && ep.Type == models.EndpointCCT && n != "" {
			return n
		}
		return relation.Humanize(ep.Slug)
	}
	out := make([]models.Relation, len(rels))
	for i, rel := range rels {
		if rel.Type == "" {
			rel.Type = defaultRelationType
		}
		if rel.Name == "" {
			rel.Name = label(rel.ParentObject) + " → " + label(rel.ChildObject)
		}
		out[i] = rel
	}
	return out
}

func (c *Catalog) current() *snapshot {
	if s := c.snap.Load(); s != nil {
		return s
	}
	return &snapshot{}
}

// ListCCTs returns every CCT.
func (c *Catalog) ListCCTs(_ context.Context) ([]models.CCT, error) {
	return slices.Clone(c.current().ccts), nil
}

// GetCCT returns one CCT by slug.
func (c *Catalog) GetCCT(_ context.Context, slug string) (*models.CCT, error) {
	for _, cct := range c.current().ccts {
		if cct.Slug == slug {
			out := cct
			return &out, nil
		}
	}
	return nil, fmt.Errorf("catalog: cct %q: %w", slug, apperr.ErrNotFound)
}

// ListRelations returns every relation.
func (c *Catalog) ListRelations(_ context.Context) ([]models.Relation, error) {
	return slices.Clone(c.current().relations), nil
}

// GetRelation returns one relation by id.
func (c *Catalog) GetRelation(_ context.Context, id models.RelationID) (*models.Relation, error) {
	for _, rel := range c.current().relations {
		if rel.ID == id {
			out := rel
			return &out, nil
		}
	}
	return nil, fmt.Errorf("catalog: relation %s: %w", id, apperr.ErrNotFound)
}

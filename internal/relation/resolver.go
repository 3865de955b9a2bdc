package relation

import (
	"context"
	"fmt"

	"github.com/starford/cctsync/internal/host"
	"github.com/starford/cctsync/internal/models"
)

// Match is a relation annotated with the side the queried CCT sits on.
type Match struct {
	models.Relation
	Position models.Position `json:"cct_position"`
}

// Resolver answers relation questions against the catalog. Results are read
// fresh on every call; callers must not hold on to them across requests.
type Resolver struct {
	catalog host.Catalog
}

// NewResolver creates a resolver over the given catalog.
func NewResolver(catalog host.Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// All returns every relation.
func (r *Resolver) All(ctx context.Context) ([]models.Relation, error) {
	rels, err := r.catalog.ListRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("relation: list: %w", err)
	}
	return rels, nil
}

// RelationsAsChild returns relations whose child endpoint is the CCT.
func (r *Resolver) RelationsAsChild(ctx context.Context, slug string) ([]Match, error) {
	return r.filter(ctx, slug, models.PositionChild)
}

// RelationsAsParent returns relations whose parent endpoint is the CCT.
func (r *Resolver) RelationsAsParent(ctx context.Context, slug string) ([]Match, error) {
	return r.filter(ctx, slug, models.PositionParent)
}

// RelationsFor returns relations for the CCT on the given side, parents first
// when position is "both".
func (r *Resolver) RelationsFor(ctx context.Context, slug string, position models.Position) ([]Match, error) {
	switch position {
	case models.PositionParent:
		return r.RelationsAsParent(ctx, slug)
	case models.PositionChild:
		return r.RelationsAsChild(ctx, slug)
	default:
		parents, err := r.RelationsAsParent(ctx, slug)
		if err != nil {
			return nil, err
		}
		children, err := r.RelationsAsChild(ctx, slug)
		if err != nil {
			return nil, err
		}
		return append(parents, children...), nil
	}
}

func (r *Resolver) filter(ctx context.Context, slug string, pos models.Position) ([]Match, error) {
	rels, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	out := []Match{}
	for _, rel := range rels {
		descriptor := rel.ChildObject
		if pos == models.PositionParent {
			descriptor = rel.ParentObject
		}
		if IsCCTMember(slug, descriptor) {
			out = append(out, Match{Relation: rel, Position: pos})
		}
	}
	return out, nil
}

// Relation looks a relation up by id. A missing relation is reported as
// (nil, nil): callers treat it as a configuration miss, not a failure.
func (r *Resolver) Relation(ctx context.Context, id models.RelationID) (*models.Relation, error) {
	rels, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rels {
		if rels[i].ID == id {
			rel := rels[i]
			return &rel, nil
		}
	}
	return nil, nil
}

// ParentCCT returns the CCT slug on the parent side of a relation, or false
// when that side is a taxonomy, post type or unknown object.
func ParentCCT(rel models.Relation) (string, bool) {
	ep := ParseEndpoint(rel.ParentObject)
	return ep.Slug, ep.Type == models.EndpointCCT && ep.Slug != ""
}

// ChildCCT is ParentCCT for the child side.
func ChildCCT(rel models.Relation) (string, bool) {
	ep := ParseEndpoint(rel.ChildObject)
	return ep.Slug, ep.Type == models.EndpointCCT && ep.Slug != ""
}

// ObjectName returns a readable label for one side of a relation.
func (r *Resolver) ObjectName(ctx context.Context, descriptor string) string {
	ep := ParseEndpoint(descriptor)
	if ep.Type == models.EndpointCCT {
		if cct, err := r.catalog.GetCCT(ctx, ep.Slug); err == nil && cct != nil && cct.Name != "" {
			return cct.Name
		}
	}
	return Humanize(ep.Slug)
}

// DisplayName returns the relation's label, deriving "<parent> → <child>"
// when none was configured.
func (r *Resolver) DisplayName(ctx context.Context, rel models.Relation) string {
	if rel.Name != "" {
		return rel.Name
	}
	return r.ObjectName(ctx, rel.ParentObject) + " → " + r.ObjectName(ctx, rel.ChildObject)
}

package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/cctsync/internal/apperr"
	"github.com/starford/cctsync/internal/flattener"
	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/relation"
)

// LockedFields is the UI projection of a CCT's mapped destination fields.
type LockedFields struct {
	CCT      string   `json:"cct"`
	Readonly []string `json:"readonly"`
	Hidden   []string `json:"hidden"`
}

// LockedFields returns the readonly and hidden fields of a CCT.
func (p *Plugin) LockedFields(ctx context.Context, cct string) (LockedFields, error) {
	readonly, err := p.mappings.ReadonlyFields(ctx, cct)
	if err != nil {
		return LockedFields{}, err
	}
	hidden, err := p.mappings.HiddenFields(ctx, cct)
	if err != nil {
		return LockedFields{}, err
	}
	return LockedFields{CCT: cct, Readonly: readonly, Hidden: hidden}, nil
}

// CCTDetail is a CCT with the relations it takes part in.
type CCTDetail struct {
	models.CCT
	Relations []relation.Match `json:"relations"`
}

// CCTs lists every CCT.
func (p *Plugin) CCTs(ctx context.Context) ([]models.CCT, error) {
	return p.catalog.ListCCTs(ctx)
}

// CCT returns one CCT with its relations, parents first.
func (p *Plugin) CCT(ctx context.Context, slug string) (*CCTDetail, error) {
	cct, err := p.catalog.GetCCT(ctx, slug)
	if err != nil {
		return nil, err
	}
	rels, err := p.resolver.RelationsFor(ctx, slug, models.PositionBoth)
	if err != nil {
		return nil, err
	}
	return &CCTDetail{CCT: *cct, Relations: rels}, nil
}

// RelationDetail is a relation with parsed endpoints and readable names.
type RelationDetail struct {
	models.Relation
	Parent      models.Endpoint `json:"parent"`
	Child       models.Endpoint `json:"child"`
	ParentName  string          `json:"parent_name"`
	ChildName   string          `json:"child_name"`
	IsHierarchy bool            `json:"is_hierarchy"`
}

// Relations lists every relation, or only those a CCT takes part in on the
// given side when slug is set.
func (p *Plugin) Relations(ctx context.Context, slug string, position models.Position) ([]RelationDetail, error) {
	var rels []models.Relation
	if slug == "" {
		all, err := p.resolver.All(ctx)
		if err != nil {
			return nil, err
		}
		rels = all
	} else {
		matches, err := p.resolver.RelationsFor(ctx, slug, position)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			rels = append(rels, m.Relation)
		}
	}
	out := make([]RelationDetail, 0, len(rels))
	for _, rel := range rels {
		out = append(out, RelationDetail{
			Relation:    rel,
			Parent:      relation.ParseEndpoint(rel.ParentObject),
			Child:       relation.ParseEndpoint(rel.ChildObject),
			ParentName:  p.resolver.ObjectName(ctx, rel.ParentObject),
			ChildName:   p.resolver.ObjectName(ctx, rel.ChildObject),
			IsHierarchy: rel.IsHierarchy(),
		})
	}
	return out, nil
}

// SaveResult is returned after saving a mapping.
type SaveResult struct {
	Mapping  models.FieldMapping `json:"mapping"`
	Warnings []string            `json:"warnings"`
}

// SaveMapping stores a mapping and reports references that do not resolve
// against the catalog. Unresolved references are allowed; the engine skips
// them at run time.
func (p *Plugin) SaveMapping(ctx context.Context, in models.MappingInput) (*SaveResult, error) {
	id, err := p.mappings.Save(ctx, in)
	if err != nil {
		return nil, err
	}
	m, err := p.mappings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	warnings, err := p.CheckMapping(ctx, *m)
	if err != nil {
		return nil, err
	}
	return &SaveResult{Mapping: *m, Warnings: warnings}, nil
}

// CheckMapping lists the problems the engine would hit with m.
func (p *Plugin) CheckMapping(ctx context.Context, m models.FieldMapping) ([]string, error) {
	warnings := []string{}
	rel, err := p.resolver.Relation(ctx, m.TriggerRelation)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return append(warnings, fmt.Sprintf("relation %s does not exist", m.TriggerRelation)), nil
	}

	parent, ok := relation.ParentCCT(*rel)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("parent of relation %s is not a cct", rel.ID))
	} else if err := p.checkField(ctx, parent, m.SourceField); err != nil {
		warnings = append(warnings, err.Error())
	}

	if !relation.IsCCTMember(m.TargetCCT, rel.ChildObject) {
		warnings = append(warnings, fmt.Sprintf("%s is not the child of relation %s", m.TargetCCT, rel.ID))
	}
	if err := p.checkField(ctx, m.TargetCCT, m.DestinationField); err != nil {
		warnings = append(warnings, err.Error())
	}
	return warnings, nil
}

func (p *Plugin) checkField(ctx context.Context, slug, field string) error {
	cct, err := p.catalog.GetCCT(ctx, slug)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("cct %s does not exist", slug)
	}
	if err != nil {
		return err
	}
	if !cct.HasField(field) {
		return fmt.Errorf("cct %s has no field %s", slug, field)
	}
	return nil
}

// Cycles reports field-level propagation loops.
func (p *Plugin) Cycles(ctx context.Context) ([]flattener.Cycle, error) {
	return p.engine.FindCycles(ctx)
}

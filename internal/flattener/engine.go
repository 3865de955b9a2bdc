// Package flattener propagates field values between related CCT items.
//
// Three paths exist. PULL runs in the pre-save filter of an existing child
// item and copies parent values into it. A post-create pass does the same for
// new items once the relation injector has stored their parent link. PUSH runs
// after a parent update and writes the parent value into every linked child.
// PUSH is unconditional: a manual edit to a child's destination field is
// overwritten by the next parent save.
package flattener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/cctsync/internal/apperr"
	"github.com/starford/cctsync/internal/hooks"
	"github.com/starford/cctsync/internal/host"
	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/relation"
)

// Hook priorities. The post-create pull must run after the relation
// injector, which JetEngine registers at RelationInjectorPriority.
const (
	PriorityPull             = 15
	PriorityPostCreate       = 25
	PriorityPush             = 10
	RelationInjectorPriority = 10
)

// MappingSource provides the configured field mappings.
type MappingSource interface {
	Mappings(ctx context.Context, enabledOnly bool) ([]models.FieldMapping, error)
	MappingsForCCT(ctx context.Context, slug string, enabledOnly bool) ([]models.FieldMapping, error)
	MappedCCTs(ctx context.Context) ([]string, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers a callback invoked with every report.
func WithObserver(fn func(Report)) Option {
	return func(e *Engine) { e.observers = append(e.observers, fn) }
}

// Engine runs PULL and PUSH propagation.
type Engine struct {
	mappings  MappingSource
	resolver  *relation.Resolver
	items     host.Items
	logger    *slog.Logger
	observers []func(Report)
}

// New creates an engine.
func New(mappings MappingSource, resolver *relation.Resolver, items host.Items, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		mappings: mappings,
		resolver: resolver,
		items:    items,
		logger:   logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RegisterHooks adds the engine's filter and actions to d: the PULL filter,
// one post-create action per mapped CCT and one post-update action per parent
// CCT that has push mappings.
func (e *Engine) RegisterHooks(ctx context.Context, d *hooks.Dispatcher) error {
	d.AddFilter(hooks.ItemToUpdate, PriorityPull, "flattener.pull",
		func(ctx context.Context, item models.Item, sc hooks.SaveContext) (models.Item, error) {
			out, _ := e.ProcessPull(ctx, sc.CCT, item)
			return out, nil
		})

	mapped, err := e.mappings.MappedCCTs(ctx)
	if err != nil {
		return fmt.Errorf("flattener: mapped ccts: %w", err)
	}
	for _, slug := range mapped {
		d.AddAction(hooks.CreatedItem(slug), PriorityPostCreate, "flattener.sync_new_item",
			func(ctx context.Context, ev hooks.ItemEvent) error {
				id := ev.ItemID
				if id == 0 {
					id, _ = ev.Item.ID()
				}
				return e.SyncNewItem(ctx, slug, id).Err
			})
	}

	parents, err := e.PushParents(ctx)
	if err != nil {
		return err
	}
	for _, slug := range parents {
		d.AddAction(hooks.UpdatedItem(slug), PriorityPush, "flattener.push",
			func(ctx context.Context, ev hooks.ItemEvent) error {
				return e.ProcessPush(ctx, slug, ev.Item).Err
			})
	}

	e.logger.Debug("flattener: hooks registered",
		slog.Int("created_item", len(mapped)),
		slog.Int("updated_item", len(parents)))
	return nil
}

// PushParents returns the distinct parent CCTs of enabled push mappings, in
// the order they first appear.
func (e *Engine) PushParents(ctx context.Context) ([]string, error) {
	mappings, err := e.mappings.Mappings(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("flattener: mappings: %w", err)
	}
	seen := map[string]bool{}
	out := []string{}
	for _, m := range mappings {
		if !m.Direction.Pushes() {
			continue
		}
		rel, err := e.resolver.Relation(ctx, m.TriggerRelation)
		if err != nil {
			return nil, fmt.Errorf("flattener: relation %s: %w", m.TriggerRelation, err)
		}
		if rel == nil {
			continue
		}
		slug, ok := relation.ParentCCT(*rel)
		if !ok || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, slug)
	}
	return out, nil
}

// ProcessPull copies parent values into an existing item before it is saved.
// Items without an identity are returned untouched; the post-create pass
// handles them. On any failure the original item is returned.
func (e *Engine) ProcessPull(ctx context.Context, cct string, item models.Item) (out models.Item, report Report) {
	report = Report{Phase: PhasePull, CCT: cct}
	out = item
	defer func() {
		if v := recover(); v != nil {
			report.Err = newPanicError(v)
			report.Changes = nil
			out = item
		}
		e.finish(report)
	}()

	if cct == "" {
		report.skip("", "save context has no cct")
		return out, report
	}
	id, ok := item.ID()
	if !ok {
		report.skip("", "item has no identity yet; deferred to post-create")
		return out, report
	}
	report.ItemID = id

	mappings, err := e.mappings.MappingsForCCT(ctx, cct, true)
	if err != nil {
		report.Err = fmt.Errorf("flattener: mappings for %s: %w", cct, err)
		return out, report
	}

	working := item.Clone()
	for _, m := range mappings {
		if !m.Direction.Pulls() {
			continue
		}
		parent, reason := e.parentItem(ctx, m, id)
		if reason != "" {
			report.skip(m.ID, "%s", reason)
			continue
		}
		v, present := parent.Lookup(m.SourceField)
		if !present || v == nil {
			report.skip(m.ID, "source field %q not set on parent", m.SourceField)
			continue
		}
		working[m.DestinationField] = v
		report.Changes = append(report.Changes, Change{
			MappingID: m.ID, CCT: cct, ItemID: id, Field: m.DestinationField, Value: v,
		})
		e.logger.Debug("flattener: pull",
			slog.String("mapping", m.ID),
			slog.String("cct", cct),
			slog.Int64("item_id", id),
			slog.String("field", m.DestinationField))
	}
	return working, report
}

// parentItem resolves the parent of childID through the mapping's relation.
// A non-empty reason means the mapping must be skipped.
func (e *Engine) parentItem(ctx context.Context, m models.FieldMapping, childID int64) (models.Item, string) {
	rel, parentCCT, reason := e.parentSide(ctx, m)
	if reason != "" {
		return nil, reason
	}
	parentID, err := e.items.ParentID(ctx, rel.ID, childID)
	if err != nil {
		return nil, e.lookupMiss(err, "no parent linked to item %d in relation %s", childID, rel.ID)
	}
	parent, err := e.items.GetItem(ctx, parentCCT, parentID)
	if err != nil {
		return nil, e.lookupMiss(err, "parent %s/%d not found", parentCCT, parentID)
	}
	return parent, ""
}

// parentSide resolves the mapping's relation and its parent CCT.
// mappingRelation resolves the trigger relation of m. A failed or empty
// lookup is logged and returned as a skip reason.
func (e *Engine) mappingRelation(ctx context.Context, m models.FieldMapping) (*models.Relation, string) {
	rel, err := e.resolver.Relation(ctx, m.TriggerRelation)
	if err != nil {
		e.logger.Error("flattener: relation lookup failed",
			slog.String("mapping", m.ID),
			slog.String("error", err.Error()))
		return nil, fmt.Sprintf("relation %s lookup failed: %v", m.TriggerRelation, err)
	}
	if rel == nil {
		e.logger.Warn("flattener: relation not found",
			slog.String("mapping", m.ID),
			slog.String("relation", m.TriggerRelation.String()))
		return nil, fmt.Sprintf("relation %s not found", m.TriggerRelation)
	}
	return rel, ""
}

func (e *Engine) parentSide(ctx context.Context, m models.FieldMapping) (*models.Relation, string, string) {
	rel, reason := e.mappingRelation(ctx, m)
	if rel == nil {
		return nil, "", reason
	}
	slug, ok := relation.ParentCCT(*rel)
	if !ok {
		return nil, "", fmt.Sprintf("parent endpoint %q of relation %s is not a cct", rel.ParentObject, rel.ID)
	}
	return rel, slug, ""
}

// lookupMiss turns a lookup error into a skip reason. Misses are expected and
// logged at debug; anything else is logged as an error.
func (e *Engine) lookupMiss(err error, format string, args ...any) string {
	reason := fmt.Sprintf(format, args...)
	if errors.Is(err, apperr.ErrNotFound) {
		e.logger.Debug("flattener: " + reason)
		return reason
	}
	e.logger.Error("flattener: "+reason, slog.String("error", err.Error()))
	return reason + ": " + err.Error()
}

// SyncNewItem pulls parent values into a newly created item. It runs after
// the relation injector so the parent link is already stored, reads each
// source field straight from storage and writes all destination fields in one
// update.
func (e *Engine) SyncNewItem(ctx context.Context, cct string, itemID int64) (report Report) {
	report = Report{Phase: PhasePostCreate, CCT: cct, ItemID: itemID}
	defer func() {
		if v := recover(); v != nil {
			report.Err = newPanicError(v)
			report.Changes = nil
		}
		e.finish(report)
	}()

	if itemID <= 0 {
		report.skip("", "created item has no identity")
		return report
	}
	mappings, err := e.mappings.MappingsForCCT(ctx, cct, true)
	if err != nil {
		report.Err = fmt.Errorf("flattener: mappings for %s: %w", cct, err)
		return report
	}

	fields := map[string]any{}
	var pending []Change
	for _, m := range mappings {
		if !m.Direction.Pulls() {
			continue
		}
		rel, parentCCT, reason := e.parentSide(ctx, m)
		if reason != "" {
			report.skip(m.ID, "%s", reason)
			continue
		}
		parentID, err := e.items.ParentID(ctx, rel.ID, itemID)
		if err != nil {
			report.skip(m.ID, "%s", e.lookupMiss(err, "no parent linked to new item %d in relation %s", itemID, rel.ID))
			continue
		}
		v, err := e.items.GetField(ctx, parentCCT, parentID, m.SourceField)
		if err != nil {
			report.skip(m.ID, "%s", e.lookupMiss(err, "source field %q unreadable on parent %s/%d", m.SourceField, parentCCT, parentID))
			continue
		}
		if v == nil {
			report.skip(m.ID, "source field %q not set on parent", m.SourceField)
			continue
		}
		fields[m.DestinationField] = v
		pending = append(pending, Change{
			MappingID: m.ID, CCT: cct, ItemID: itemID, Field: m.DestinationField, Value: v,
		})
	}
	if len(fields) == 0 {
		return report
	}

	if err := e.items.UpdateItemFields(ctx, cct, itemID, fields); err != nil {
		e.logger.Error("flattener: post-create update failed",
			slog.String("cct", cct),
			slog.Int64("item_id", itemID),
			slog.String("error", err.Error()))
		report.Err = fmt.Errorf("flattener: update %s/%d: %w", cct, itemID, err)
		return report
	}
	report.Changes = pending
	e.logger.Info("flattener: new item synced",
		slog.String("cct", cct),
		slog.Int64("item_id", itemID),
		slog.Int("fields", len(fields)))
	return report
}

// ProcessPush writes the saved parent's source values into every child linked
// through each push mapping whose relation has cct as its parent.
func (e *Engine) ProcessPush(ctx context.Context, cct string, item models.Item) (report Report) {
	report = Report{Phase: PhasePush, CCT: cct}
	defer func() {
		if v := recover(); v != nil {
			report.Err = errors.Join(report.Err, newPanicError(v))
		}
		e.finish(report)
	}()

	id, ok := item.ID()
	if !ok {
		report.skip("", "updated item has no identity")
		return report
	}
	report.ItemID = id

	mappings, err := e.mappings.Mappings(ctx, true)
	if err != nil {
		report.Err = fmt.Errorf("flattener: mappings: %w", err)
		return report
	}

	for _, m := range mappings {
		if !m.Direction.Pushes() {
			continue
		}
		rel, reason := e.mappingRelation(ctx, m)
		if rel == nil {
			report.skip(m.ID, "%s", reason)
			continue
		}
		if parent, ok := relation.ParentCCT(*rel); !ok || parent != cct {
			continue
		}
		e.pushToChildren(ctx, &report, m, *rel, item)
	}
	return report
}

func (e *Engine) pushToChildren(ctx context.Context, report *Report, m models.FieldMapping, rel models.Relation, parent models.Item) {
	v, present := parent.Lookup(m.SourceField)
	if !present || v == nil {
		report.skip(m.ID, "source field %q not set on parent", m.SourceField)
		return
	}
	childCCT, ok := relation.ChildCCT(rel)
	if !ok {
		report.skip(m.ID, "child endpoint %q of relation %s is not a cct", rel.ChildObject, rel.ID)
		return
	}
	children, err := e.items.ChildIDs(ctx, rel.ID, report.ItemID)
	if err != nil {
		report.skip(m.ID, "%s", e.lookupMiss(err, "children of %d in relation %s", report.ItemID, rel.ID))
		return
	}
	if len(children) == 0 {
		report.skip(m.ID, "no children linked in relation %s", rel.ID)
		return
	}

	for _, child := range children {
		if err := e.items.UpdateItemField(ctx, childCCT, child, m.DestinationField, v); err != nil {
			e.logger.Error("flattener: push update failed",
				slog.String("mapping", m.ID),
				slog.String("cct", childCCT),
				slog.Int64("item_id", child),
				slog.String("error", err.Error()))
			report.Err = errors.Join(report.Err, fmt.Errorf("flattener: update %s/%d: %w", childCCT, child, err))
			continue
		}
		report.Changes = append(report.Changes, Change{
			MappingID: m.ID, CCT: childCCT, ItemID: child, Field: m.DestinationField, Value: v,
		})
	}
	e.logger.Debug("flattener: push",
		slog.String("mapping", m.ID),
		slog.String("child_cct", childCCT),
		slog.Int("children", len(children)))
}

func (e *Engine) finish(r Report) {
	if r.Err != nil {
		attrs := []any{
			slog.String("phase", string(r.Phase)),
			slog.String("cct", r.CCT),
			slog.Int64("item_id", r.ItemID),
			slog.String("error", r.Err.Error()),
		}
		var pe *PanicError
		if errors.As(r.Err, &pe) {
			attrs = append(attrs, slog.String("stack", string(pe.Stack)))
		}
		e.logger.Error("flattener: propagation failed", attrs...)
	}
	for _, fn := range e.observers {
		fn(r)
	}
}

// Package plugin is the composition root. It constructs the relation
// resolver, mapping store, propagation engine, sibling transforms and bulk
// syncer over the host collaborators and exposes the entry points the host
// integration and admin surfaces call.
package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/cctsync/internal/bulksync"
	"github.com/starford/cctsync/internal/flattener"
	"github.com/starford/cctsync/internal/hooks"
	"github.com/starford/cctsync/internal/host"
	"github.com/starford/cctsync/internal/mapping"
	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/options"
	"github.com/starford/cctsync/internal/relation"
	"github.com/starford/cctsync/internal/transform"
)

type settings struct {
	observers []func(flattener.Report)
	batchSize int
	storeOpts []mapping.Option
}

// Option configures a Plugin.
type Option func(*settings)

// WithObserver receives every propagation report.
func WithObserver(fn func(flattener.Report)) Option {
	return func(s *settings) { s.observers = append(s.observers, fn) }
}

// WithBatchSize sets the bulk sync batch size.
func WithBatchSize(n int) Option {
	return func(s *settings) { s.batchSize = n }
}

// WithStoreOptions passes options to the mapping store.
func WithStoreOptions(opts ...mapping.Option) Option {
	return func(s *settings) { s.storeOpts = append(s.storeOpts, opts...) }
}

// Plugin holds the wired components.
type Plugin struct {
	catalog    host.Catalog
	items      host.Items
	resolver   *relation.Resolver
	mappings   *mapping.Store
	engine     *flattener.Engine
	transforms *transform.Transforms
	syncer     *bulksync.Syncer
	logger     *slog.Logger
}

// New wires a Plugin over the host catalog, item storage and option store.
func New(catalog host.Catalog, items host.Items, store options.Store, logger *slog.Logger, opts ...Option) *Plugin {
	var s settings
	for _, o := range opts {
		o(&s)
	}

	p := &Plugin{
		catalog:  catalog,
		items:    items,
		resolver: relation.NewResolver(catalog),
		mappings: mapping.NewStore(mapping.NewOptionRepository(store), logger, s.storeOpts...),
		logger:   logger,
	}
	var engineOpts []flattener.Option
	for _, fn := range s.observers {
		engineOpts = append(engineOpts, flattener.WithObserver(fn))
	}
	p.engine = flattener.New(p.mappings, p.resolver, items, logger, engineOpts...)
	p.transforms = transform.New(p.mappings, logger)
	p.syncer = bulksync.New(items, catalog, p.mappings, p.Dispatcher, logger, bulksync.WithBatchSize(s.batchSize))
	return p
}

// Mappings returns the mapping store.
func (p *Plugin) Mappings() *mapping.Store { return p.mappings }

// Resolver returns the relation resolver.
func (p *Plugin) Resolver() *relation.Resolver { return p.resolver }

// Engine returns the propagation engine.
func (p *Plugin) Engine() *flattener.Engine { return p.engine }

// Syncer returns the bulk syncer.
func (p *Plugin) Syncer() *bulksync.Syncer { return p.syncer }

// Dispatcher builds the registration table for one request from the current
// configuration.
func (p *Plugin) Dispatcher(ctx context.Context) (*hooks.Dispatcher, error) {
	d := hooks.New(p.logger)
	p.transforms.RegisterHooks(d)
	if err := p.engine.RegisterHooks(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}

// ItemToUpdate runs the pre-save filter chain for an item of cct. The
// returned item is always usable: when the hooks cannot be built the input is
// returned together with the error.
func (p *Plugin) ItemToUpdate(ctx context.Context, cct string, item models.Item) (models.Item, error) {
	d, err := p.Dispatcher(ctx)
	if err != nil {
		p.logger.Error("plugin: building hooks failed", slog.String("error", err.Error()))
		return item, err
	}
	sc := hooks.SaveContext{CCT: cct}
	if def, err := p.catalog.GetCCT(ctx, cct); err == nil {
		sc.Fields = def.Fields
	}
	return d.ApplyFilters(ctx, hooks.ItemToUpdate, item, sc), nil
}

// ItemCreated fires the post-create actions of cct.
func (p *Plugin) ItemCreated(ctx context.Context, cct string, id int64, item models.Item) error {
	d, err := p.Dispatcher(ctx)
	if err != nil {
		return err
	}
	return d.DoAction(ctx, hooks.CreatedItem(cct), hooks.ItemEvent{CCT: cct, ItemID: id, Item: item})
}

// ItemUpdated fires the post-update actions of cct.
func (p *Plugin) ItemUpdated(ctx context.Context, cct string, item, previous models.Item) error {
	d, err := p.Dispatcher(ctx)
	if err != nil {
		return err
	}
	id, _ := item.ID()
	return d.DoAction(ctx, hooks.UpdatedItem(cct), hooks.ItemEvent{CCT: cct, ItemID: id, Item: item, Previous: previous})
}

// Registrations lists what a request would register right now.
func (p *Plugin) Registrations(ctx context.Context) ([]hooks.Registration, error) {
	d, err := p.Dispatcher(ctx)
	if err != nil {
		return nil, fmt.Errorf("plugin: hooks: %w", err)
	}
	return d.Registrations(), nil
}

// Package hooks is a small priority-ordered event dispatcher modelled on the
// JetEngine CCT save lifecycle. A Dispatcher is built fresh for each request
// from the current configuration and is not safe for concurrent registration.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/starford/cctsync/internal/models"
)

// Event names fired by JetEngine during a CCT item save.
const (
	ItemToUpdate  = "jet-engine/custom-content-types/item-to-update"
	createdPrefix = "jet-engine/custom-content-types/created-item/"
	updatedPrefix = "jet-engine/custom-content-types/updated-item/"
)

// CreatedItem returns the post-create event name for a CCT.
func CreatedItem(slug string) string { return createdPrefix + slug }

// UpdatedItem returns the post-update event name for a CCT.
func UpdatedItem(slug string) string { return updatedPrefix + slug }

// SaveContext describes the save that triggered a pre-save filter.
type SaveContext struct {
	CCT    string         `json:"cct"`
	Fields []models.Field `json:"fields,omitempty"`
}

// ItemEvent is delivered to post-create and post-update actions.
type ItemEvent struct {
	CCT      string      `json:"cct"`
	ItemID   int64       `json:"item_id"`
	Item     models.Item `json:"item"`
	Previous models.Item `json:"previous,omitempty"`
}

// Filter may return a modified copy of item. Returning an error discards the
// filter's result.
type Filter func(ctx context.Context, item models.Item, sc SaveContext) (models.Item, error)

// Action reacts to a persisted save. Its error is logged and otherwise
// ignored.
type Action func(ctx context.Context, ev ItemEvent) error

// Kind distinguishes filters from actions in a registration listing.
type Kind string

// Registration kinds.
const (
	KindFilter Kind = "filter"
	KindAction Kind = "action"
)

// Registration is one row of the registration table.
type Registration struct {
	Event    string `json:"event"`
	CCT      string `json:"cct,omitempty"`
	Kind     Kind   `json:"kind"`
	Priority int    `json:"priority"`
	Name     string `json:"name"`
}

type filterEntry struct {
	Registration
	fn Filter
}

type actionEntry struct {
	Registration
	fn Action
}

// Dispatcher holds filters and actions keyed by event name.
type Dispatcher struct {
	logger  *slog.Logger
	filters map[string][]filterEntry
	actions map[string][]actionEntry
}

// New creates an empty dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:  logger,
		filters: map[string][]filterEntry{},
		actions: map[string][]actionEntry{},
	}
}

// AddFilter registers a pre-save filter. Lower priorities run first; equal
// priorities run in registration order.
func (d *Dispatcher) AddFilter(event string, priority int, name string, fn Filter) {
	d.filters[event] = append(d.filters[event], filterEntry{
		Registration: Registration{Event: event, Kind: KindFilter, Priority: priority, Name: name},
		fn:           fn,
	})
	sort.SliceStable(d.filters[event], func(i, j int) bool {
		return d.filters[event][i].Priority < d.filters[event][j].Priority
	})
}

// AddAction registers a post-save action. The CCT of per-type events is
// recorded on the registration.
func (d *Dispatcher) AddAction(event string, priority int, name string, fn Action) {
	slug, _ := SlugFromEvent(event)
	d.actions[event] = append(d.actions[event], actionEntry{
		Registration: Registration{Event: event, CCT: slug, Kind: KindAction, Priority: priority, Name: name},
		fn:           fn,
	})
	sort.SliceStable(d.actions[event], func(i, j int) bool {
		return d.actions[event][i].Priority < d.actions[event][j].Priority
	})
}

// Has reports whether anything is registered for the event.
func (d *Dispatcher) Has(event string) bool {
	return len(d.filters[event]) > 0 || len(d.actions[event]) > 0
}

// ApplyFilters runs the filters of an event in order, threading the item
// through them. A filter that fails or panics is skipped and the item it
// received is passed on unchanged.
func (d *Dispatcher) ApplyFilters(ctx context.Context, event string, item models.Item, sc SaveContext) models.Item {
	for _, f := range d.filters[event] {
		out, err := d.runFilter(ctx, f, item, sc)
		if err != nil {
			d.logger.Error("hooks: filter failed",
				slog.String("event", event),
				slog.String("filter", f.Name),
				slog.String("error", err.Error()))
			continue
		}
		if out != nil {
			item = out
		}
	}
	return item
}

func (d *Dispatcher) runFilter(ctx context.Context, f filterEntry, item models.Item, sc SaveContext) (out models.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f.fn(ctx, item.Clone(), sc)
}

// DoAction runs the actions of an event in order. Every action runs even if
// an earlier one fails; the joined failures are returned for diagnostics.
func (d *Dispatcher) DoAction(ctx context.Context, event string, ev ItemEvent) error {
	var errs []error
	for _, a := range d.actions[event] {
		if err := d.runAction(ctx, a, ev); err != nil {
			d.logger.Error("hooks: action failed",
				slog.String("event", event),
				slog.String("action", a.Name),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", a.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) runAction(ctx context.Context, a actionEntry, ev ItemEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.fn(ctx, ev)
}

// Registrations lists the registration table ordered by event, then by run
// order within the event.
func (d *Dispatcher) Registrations() []Registration {
	var out []Registration
	for _, entries := range d.filters {
		for _, e := range entries {
			out = append(out, e.Registration)
		}
	}
	for _, entries := range d.actions {
		for _, e := range entries {
			out = append(out, e.Registration)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Event != out[j].Event {
			return out[i].Event < out[j].Event
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Priority < out[j].Priority
	})
	return out
}

// SlugFromEvent extracts the CCT slug from a created-item or updated-item
// event name.
func SlugFromEvent(event string) (string, bool) {
	if s, ok := strings.CutPrefix(event, createdPrefix); ok && s != "" {
		return s, true
	}
	if s, ok := strings.CutPrefix(event, updatedPrefix); ok && s != "" {
		return s, true
	}
	return "", false
}

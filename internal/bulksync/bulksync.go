// Package bulksync re-runs the pre-save filter chain over rows that already
// exist, so mappings added after the fact reach old items.
package bulksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/starford/cctsync/internal/apperr"
	"github.com/starford/cctsync/internal/hooks"
	"github.com/starford/cctsync/internal/host"
	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/relation"
)

// DefaultBatchSize is the number of rows processed per batch.
const DefaultBatchSize = 20

// DispatcherFunc builds the registration table for one run.
type DispatcherFunc func(ctx context.Context) (*hooks.Dispatcher, error)

// MappedCCTs lists the CCTs that are targets of enabled mappings.
type MappedCCTs interface {
	MappedCCTs(ctx context.Context) ([]string, error)
}

// CCTStatus describes one CCT eligible for sync.
type CCTStatus struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	ItemCount int    `json:"item_count"`
	HasItems  bool   `json:"has_items"`
}

// BatchResult is the outcome of one SyncBatch call.
type BatchResult struct {
	CCT        string `json:"cct"`
	Processed  int    `json:"processed"`
	Success    int    `json:"success"`
	Unchanged  int    `json:"unchanged"`
	Errors     int    `json:"errors"`
	HasMore    bool   `json:"has_more"`
	NextOffset int    `json:"next_offset"`
	TotalItems int    `json:"total_items"`
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// Syncer runs bulk synchronisation.
type Syncer struct {
	items      host.Items
	catalog    host.Catalog
	mapped     MappedCCTs
	dispatcher DispatcherFunc
	logger     *slog.Logger
	batchSize  int
}

// New creates a Syncer.
func New(items host.Items, catalog host.Catalog, mapped MappedCCTs, dispatcher DispatcherFunc, logger *slog.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		items:      items,
		catalog:    catalog,
		mapped:     mapped,
		dispatcher: dispatcher,
		logger:     logger,
		batchSize:  DefaultBatchSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BatchSize returns the configured batch size.
func (s *Syncer) BatchSize() int { return s.batchSize }

// Status reports every mapped CCT with its row count, sorted by slug.
func (s *Syncer) Status(ctx context.Context) ([]CCTStatus, error) {
	slugs, err := s.mapped.MappedCCTs(ctx)
	if err != nil {
		return nil, fmt.Errorf("bulksync: mapped ccts: %w", err)
	}
	out := make([]CCTStatus, 0, len(slugs))
	for _, slug := range slugs {
		n, err := s.items.CountItems(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("bulksync: count %s: %w", slug, err)
		}
		name := relation.Humanize(slug)
		if cct, err := s.catalog.GetCCT(ctx, slug); err == nil && cct.Name != "" {
			name = cct.Name
		}
		out = append(out, CCTStatus{Slug: slug, Name: name, ItemCount: n, HasItems: n > 0})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// SyncBatch runs the pre-save filters over up to limit rows of a CCT starting
// at offset and writes back the fields they changed. A limit of zero uses the
// batch size.
func (s *Syncer) SyncBatch(ctx context.Context, slug string, offset, limit int) (BatchResult, error) {
	res := BatchResult{CCT: slug, NextOffset: offset}
	if limit <= 0 {
		limit = s.batchSize
	}
	if offset < 0 {
		offset = 0
	}

	cct, err := s.catalog.GetCCT(ctx, slug)
	if err != nil {
		return res, fmt.Errorf("bulksync: cct %s: %w", slug, err)
	}
	rows, err := s.items.ListItems(ctx, slug, limit, offset)
	if err != nil {
		return res, fmt.Errorf("bulksync: list %s: %w", slug, err)
	}
	if len(rows) == 0 {
		return res, nil
	}
	d, err := s.dispatcher(ctx)
	if err != nil {
		return res, fmt.Errorf("bulksync: hooks: %w", err)
	}
	sc := hooks.SaveContext{CCT: slug, Fields: cct.Fields}

	for _, row := range rows {
		res.Processed++
		id, ok := row.ID()
		if !ok {
			res.Errors++
			continue
		}
		updated := d.ApplyFilters(ctx, hooks.ItemToUpdate, row.Clone(), sc)
		changed := diff(row, updated)
		if len(changed) == 0 {
			res.Unchanged++
			res.Success++
			continue
		}
		if err := s.items.UpdateItemFields(ctx, slug, id, changed); err != nil {
			res.Errors++
			s.logger.Error("bulksync: update failed",
				slog.String("cct", slug),
				slog.Int64("item_id", id),
				slog.String("error", err.Error()))
			continue
		}
		res.Success++
	}

	total, err := s.items.CountItems(ctx, slug)
	if err != nil {
		return res, fmt.Errorf("bulksync: count %s: %w", slug, err)
	}
	res.TotalItems = total
	res.NextOffset = offset + res.Processed
	res.HasMore = res.NextOffset < total

	s.logger.Info("bulksync: batch complete",
		slog.String("cct", slug),
		slog.Int("processed", res.Processed),
		slog.Int("success", res.Success),
		slog.Int("errors", res.Errors),
		slog.Bool("has_more", res.HasMore))
	return res, nil
}

// SyncAll syncs every mapped CCT that has rows, batch by batch.
func (s *Syncer) SyncAll(ctx context.Context) ([]BatchResult, error) {
	status, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}
	var out []BatchResult
	for _, st := range status {
		if !st.HasItems {
			continue
		}
		res, err := s.SyncCCT(ctx, st.Slug)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return out, err
		}
		if err != nil {
			s.logger.Warn("bulksync: cct skipped", slog.String("cct", st.Slug), slog.String("error", err.Error()))
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// SyncCCT runs batches over one CCT until every row has been processed and
// returns the accumulated totals.
func (s *Syncer) SyncCCT(ctx context.Context, slug string) (BatchResult, error) {
	start := time.Now()
	total := BatchResult{CCT: slug}
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.SyncBatch(ctx, slug, offset, s.batchSize)
		if err != nil {
			return total, err
		}
		total.Processed += res.Processed
		total.Success += res.Success
		total.Unchanged += res.Unchanged
		total.Errors += res.Errors
		total.TotalItems = res.TotalItems
		total.NextOffset = res.NextOffset
		if !res.HasMore || res.Processed == 0 {
			break
		}
		offset = res.NextOffset
	}
	s.logger.Info("bulksync: cct synced",
		slog.String("cct", slug),
		slog.Int("processed", total.Processed),
		slog.Duration("elapsed", time.Since(start)))
	return total, nil
}

// diff returns the fields of after that differ from before, excluding _ID.
func diff(before, after models.Item) map[string]any {
	out := map[string]any{}
	for k, v := range after {
		if k == models.IDField {
			continue
		}
		if old, ok := before[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		out[k] = v
	}
	return out
}

package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/starford/cctsync/internal/apperr"
	"github.com/starford/cctsync/internal/host"
	"github.com/starford/cctsync/internal/models"
)

// MemItems is an in-memory host.Items. Writes are recorded so tests can
// assert on exactly what the engine touched.
type MemItems struct {
	mu     sync.Mutex
	tables map[string]map[int64]models.Item
	links  map[models.RelationID]map[int64]int64 // child -> parent
	writes []Write

	// FailUpdates makes every update return an error.
	FailUpdates bool
	// Panic makes every read panic with this value when non-nil.
	Panic any
}

// Write is one recorded field write.
type Write struct {
	CCT   string
	ID    int64
	Field string
	Value any
}

// Verify *MemItems satisfies host.Items at compile time.
var _ host.Items = (*MemItems)(nil)

// NewMemItems creates an empty store.
func NewMemItems() *MemItems {
	return &MemItems{
		tables: map[string]map[int64]models.Item{},
		links:  map[models.RelationID]map[int64]int64{},
	}
}

// Put stores a row; the item must carry an _ID.
func (m *MemItems) Put(cct string, item models.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := item.ID()
	if !ok {
		panic("testutil: Put requires an item with _ID")
	}
	if m.tables[cct] == nil {
		m.tables[cct] = map[int64]models.Item{}
	}
	m.tables[cct][id] = item.Clone()
}

// Link records child as a child of parent through the relation.
func (m *MemItems) Link(rel models.RelationID, parentID, childID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[rel] == nil {
		m.links[rel] = map[int64]int64{}
	}
	m.links[rel][childID] = parentID
}

// Row returns a copy of a stored row, or nil.
func (m *MemItems) Row(cct string, id int64) models.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.tables[cct][id]; ok {
		return row.Clone()
	}
	return nil
}

// Writes returns every recorded write in order.
func (m *MemItems) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.writes)
}

func (m *MemItems) maybePanic() {
	if m.Panic != nil {
		panic(m.Panic)
	}
}

// GetItem implements host.Items.
func (m *MemItems) GetItem(_ context.Context, cct string, id int64) (models.Item, error) {
	m.maybePanic()
	if row := m.Row(cct, id); row != nil {
		return row, nil
	}
	return nil, fmt.Errorf("%s/%d: %w", cct, id, apperr.ErrNotFound)
}

// GetField implements host.Items.
func (m *MemItems) GetField(ctx context.Context, cct string, id int64, field string) (any, error) {
	row, err := m.GetItem(ctx, cct, id)
	if err != nil {
		return nil, err
	}
	v, ok := row[field]
	if !ok {
		return nil, fmt.Errorf("%s/%d.%s: %w", cct, id, field, apperr.ErrNotFound)
	}
	return v, nil
}

// UpdateItemField implements host.Items.
func (m *MemItems) UpdateItemField(ctx context.Context, cct string, id int64, field string, value any) error {
	return m.UpdateItemFields(ctx, cct, id, map[string]any{field: value})
}

// UpdateItemFields implements host.Items.
func (m *MemItems) UpdateItemFields(_ context.Context, cct string, id int64, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdates {
		return errors.New("testutil: update failed")
	}
	row, ok := m.tables[cct][id]
	if !ok {
		return fmt.Errorf("%s/%d: %w", cct, id, apperr.ErrNotFound)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		row[k] = fields[k]
		m.writes = append(m.writes, Write{CCT: cct, ID: id, Field: k, Value: fields[k]})
	}
	return nil
}

// ParentID implements host.Items.
func (m *MemItems) ParentID(_ context.Context, rel models.RelationID, childID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if parent, ok := m.links[rel][childID]; ok {
		return parent, nil
	}
	return 0, fmt.Errorf("relation %s child %d: %w", rel, childID, apperr.ErrNotFound)
}

// ChildIDs implements host.Items.
func (m *MemItems) ChildIDs(_ context.Context, rel models.RelationID, parentID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for child, parent := range m.links[rel] {
		if parent == parentID {
			out = append(out, child)
		}
	}
	slices.Sort(out)
	return out, nil
}

// CountItems implements host.Items.
func (m *MemItems) CountItems(_ context.Context, cct string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[cct]), nil
}

// ListItems implements host.Items, ordered by id.
func (m *MemItems) ListItems(_ context.Context, cct string, limit, offset int) ([]models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.tables[cct]))
	for id := range m.tables[cct] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if offset >= len(ids) {
		return []models.Item{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.tables[cct][id].Clone())
	}
	return out, nil
}

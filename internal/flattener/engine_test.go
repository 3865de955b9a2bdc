package flattener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/cctsync/internal/catalog"
	"github.com/starford/cctsync/internal/hooks"
	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/relation"
	"github.com/starford/cctsync/internal/testutil"
)

type staticMappings []models.FieldMapping

func (s staticMappings) Mappings(_ context.Context, enabledOnly bool) ([]models.FieldMapping, error) {
	out := []models.FieldMapping{}
	for _, m := range s {
		if enabledOnly && !m.Enabled {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s staticMappings) MappingsForCCT(ctx context.Context, slug string, enabledOnly bool) ([]models.FieldMapping, error) {
	all, _ := s.Mappings(ctx, enabledOnly)
	out := []models.FieldMapping{}
	for _, m := range all {
		if m.TargetCCT == slug {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s staticMappings) MappedCCTs(ctx context.Context) ([]string, error) {
	all, _ := s.Mappings(ctx, true)
	seen := map[string]bool{}
	out := []string{}
	for _, m := range all {
		if !seen[m.TargetCCT] {
			seen[m.TargetCCT] = true
			out = append(out, m.TargetCCT)
		}
	}
	return out, nil
}

type failingMappings struct{ staticMappings }

func (failingMappings) MappingsForCCT(context.Context, string, bool) ([]models.FieldMapping, error) {
	return nil, errors.New("option table unavailable")
}

func testCatalog() *catalog.Catalog {
	return catalog.NewStatic(
		[]models.CCT{
			{Slug: "makes", Name: "Makes", Fields: []models.Field{{Name: "make_name"}, {Name: "code"}}},
			{Slug: "configs", Name: "Configs", Fields: []models.Field{{Name: "make_name"}, {Name: "code"}}},
		},
		[]models.Relation{
			{ID: 5, ParentObject: "cct::makes", ChildObject: "cct::configs"},
			{ID: 6, ParentObject: "terms::category", ChildObject: "cct::configs"},
			{ID: 7, ParentObject: "cct::makes", ChildObject: "posts::page"},
			{ID: 8, ParentObject: "configs", ChildObject: "makes"},
		},
	)
}

func mapping(id string, dir models.Direction) models.FieldMapping {
	return models.FieldMapping{
		ID:               id,
		TargetCCT:        "configs",
		TriggerRelation:  5,
		SourceField:      "make_name",
		DestinationField: "make_name",
		Direction:        dir,
		UIBehavior:       models.UIReadonly,
		Enabled:          true,
	}
}

type fixture struct {
	engine  *Engine
	items   *testutil.MemItems
	reports []Report
}

func newFixture(t *testing.T, mappings MappingSource) *fixture {
	t.Helper()
	f := &fixture{items: testutil.NewMemItems()}
	f.engine = New(mappings, relation.NewResolver(testCatalog()), f.items, testutil.Logger(),
		WithObserver(func(r Report) { f.reports = append(f.reports, r) }))

	f.items.Put("makes", models.Item{"_ID": int64(1), "make_name": "Acme", "code": "AC"})
	f.items.Put("configs", models.Item{"_ID": int64(10), "make_name": "old"})
	f.items.Put("configs", models.Item{"_ID": int64(11)})
	f.items.Link(5, 1, 10)
	f.items.Link(5, 1, 11)
	return f
}

func TestProcessPull_CopiesParentValue(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPull)})

	in := models.Item{"_ID": 10}
	out, report := f.engine.ProcessPull(context.Background(), "configs", in)

	assert.Equal(t, "Acme", out["make_name"])
	require.NoError(t, report.Err)
	require.Len(t, report.Changes, 1)
	assert.Equal(t, Change{MappingID: "m1", CCT: "configs", ItemID: 10, Field: "make_name", Value: "Acme"}, report.Changes[0])
	assert.NotContains(t, in, "make_name", "input item must not be mutated")
	assert.Empty(t, f.items.Writes(), "pull only changes the in-memory item")
	assert.Len(t, f.reports, 1)
}

func TestProcessPull_BothDirection(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionBoth)})

	out, _ := f.engine.ProcessPull(context.Background(), "configs", models.Item{"_ID": "10"})
	assert.Equal(t, "Acme", out["make_name"])
}

func TestProcessPull_NewItemDeferred(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPull)})

	in := models.Item{"make_name": "typed by editor"}
	out, report := f.engine.ProcessPull(context.Background(), "configs", in)

	assert.Equal(t, in, out)
	assert.NoError(t, report.Err)
	assert.Empty(t, report.Changes)
	require.Len(t, report.Skips, 1)
	assert.Contains(t, report.Skips[0].Reason, "post-create")
	assert.Empty(t, f.items.Writes())
}

func TestProcessPull_IgnoresPushOnlyAndDisabled(t *testing.T) {
	disabled := mapping("m2", models.DirectionPull)
	disabled.DestinationField = "brand"
	disabled.Enabled = false
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPush), disabled})

	out, report := f.engine.ProcessPull(context.Background(), "configs", models.Item{"_ID": 10})
	assert.Equal(t, models.Item{"_ID": 10}, out)
	assert.Empty(t, report.Changes)
}

func TestProcessPull_LookupMissesAreSkips(t *testing.T) {
	linked := mapping("linked", models.DirectionPull)
	missingRelation := mapping("missing-relation", models.DirectionPull)
	missingRelation.TriggerRelation = 99
	termsParent := mapping("terms-parent", models.DirectionPull)
	termsParent.TriggerRelation = 6
	missingSource := mapping("missing-source", models.DirectionPull)
	missingSource.SourceField = "logo"
	missingSource.DestinationField = "logo"

	f := newFixture(t, staticMappings{linked, missingRelation, termsParent, missingSource})
	f.items.Put("configs", models.Item{"_ID": int64(12)})
	f.items.Link(5, 1, 12)

	out, report := f.engine.ProcessPull(context.Background(), "configs", models.Item{"_ID": 12})
	require.NoError(t, report.Err)
	assert.Equal(t, "Acme", out["make_name"])
	assert.NotContains(t, out, "logo")
	require.Len(t, report.Skips, 3)
	assert.Equal(t, "missing-relation", report.Skips[0].MappingID)
	assert.Equal(t, "terms-parent", report.Skips[1].MappingID)
	assert.Equal(t, "missing-source", report.Skips[2].MappingID)

	out, report = f.engine.ProcessPull(context.Background(), "configs", models.Item{"_ID": 404})
	require.NoError(t, report.Err)
	assert.Equal(t, models.Item{"_ID": 404}, out)
	assert.Len(t, report.Skips, 4)
}

func TestProcessPull_PanicReturnsOriginalItem(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPull)})
	f.items.Panic = "storage exploded"

	in := models.Item{"_ID": 10, "make_name": "mine"}
	out, report := f.engine.ProcessPull(context.Background(), "configs", in)

	assert.Equal(t, in, out)
	var pe *PanicError
	require.ErrorAs(t, report.Err, &pe)
	assert.Equal(t, "storage exploded", pe.Value)
	assert.Empty(t, report.Changes)
}

func TestProcessPull_MappingLoadFailure(t *testing.T) {
	f := newFixture(t, failingMappings{})

	in := models.Item{"_ID": 10}
	out, report := f.engine.ProcessPull(context.Background(), "configs", in)
	assert.Equal(t, in, out)
	assert.Error(t, report.Err)
}

func TestSyncNewItem_PullsAfterRelationExists(t *testing.T) {
	code := mapping("m2", models.DirectionPull)
	code.SourceField = "code"
	code.DestinationField = "code"
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPull), code, mapping("m3", models.DirectionPush)})
	ctx := context.Background()

	f.items.Put("configs", models.Item{"_ID": int64(20)})
	report := f.engine.SyncNewItem(ctx, "configs", 20)
	require.NoError(t, report.Err)
	assert.Empty(t, f.items.Writes(), "no parent linked yet")
	assert.Len(t, report.Skips, 2)

	f.items.Link(5, 1, 20)
	report = f.engine.SyncNewItem(ctx, "configs", 20)
	require.NoError(t, report.Err)
	assert.Len(t, report.Changes, 2)

	row := f.items.Row("configs", 20)
	assert.Equal(t, "Acme", row["make_name"])
	assert.Equal(t, "AC", row["code"])
	assert.Len(t, f.items.Writes(), 2)
}

func TestSyncNewItem_UpdateFailure(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPull)})
	f.items.FailUpdates = true

	report := f.engine.SyncNewItem(context.Background(), "configs", 10)
	assert.Error(t, report.Err)
	assert.Empty(t, report.Changes)
}

func TestSyncNewItem_NoIdentity(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPull)})

	report := f.engine.SyncNewItem(context.Background(), "configs", 0)
	assert.NoError(t, report.Err)
	assert.Len(t, report.Skips, 1)
	assert.Empty(t, f.items.Writes())
}

func TestProcessPush_FansOutToAllChildren(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPush)})

	report := f.engine.ProcessPush(context.Background(), "makes", models.Item{"_ID": 1, "make_name": "NewCo"})
	require.NoError(t, report.Err)
	assert.Len(t, report.Changes, 2)
	assert.Equal(t, "NewCo", f.items.Row("configs", 10)["make_name"])
	assert.Equal(t, "NewCo", f.items.Row("configs", 11)["make_name"])
}

func TestProcessPush_NoChildren(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionBoth)})
	f.items.Put("makes", models.Item{"_ID": int64(2), "make_name": "Lonely"})

	report := f.engine.ProcessPush(context.Background(), "makes", models.Item{"_ID": 2, "make_name": "Lonely"})
	assert.NoError(t, report.Err)
	assert.Empty(t, report.Changes)
	assert.Empty(t, f.items.Writes())
	require.Len(t, report.Skips, 1)
}

func TestProcessPush_OverwritesManualChildEdit(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPush)})
	ctx := context.Background()

	require.NoError(t, f.items.UpdateItemField(ctx, "configs", 10, "make_name", "hand edited"))
	f.engine.ProcessPush(ctx, "makes", models.Item{"_ID": 1, "make_name": "Acme"})

	assert.Equal(t, "Acme", f.items.Row("configs", 10)["make_name"])
}

func TestProcessPush_IgnoresPullOnlyAndOtherParents(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPull)})

	report := f.engine.ProcessPush(context.Background(), "makes", models.Item{"_ID": 1, "make_name": "NewCo"})
	assert.Empty(t, report.Changes)
	assert.Empty(t, f.items.Writes())

	f = newFixture(t, staticMappings{mapping("m1", models.DirectionPush)})
	report = f.engine.ProcessPush(context.Background(), "configs", models.Item{"_ID": 10, "make_name": "NewCo"})
	assert.Empty(t, report.Changes)
	assert.Empty(t, f.items.Writes())
}

func TestProcessPush_NonCCTChildAndMissingSource(t *testing.T) {
	toPosts := mapping("posts", models.DirectionPush)
	toPosts.TriggerRelation = 7
	noSource := mapping("no-source", models.DirectionPush)
	noSource.SourceField = "logo"
	f := newFixture(t, staticMappings{toPosts, noSource})

	report := f.engine.ProcessPush(context.Background(), "makes", models.Item{"_ID": 1, "make_name": "NewCo"})
	assert.NoError(t, report.Err)
	assert.Empty(t, report.Changes)
	require.Len(t, report.Skips, 2)
	assert.Contains(t, report.Skips[0].Reason, "not a cct")
	assert.Contains(t, report.Skips[1].Reason, "not set on parent")
}

func TestProcessPush_MissingRelationIsSkipped(t *testing.T) {
	gone := mapping("gone", models.DirectionPush)
	gone.TriggerRelation = 42
	f := newFixture(t, staticMappings{gone, mapping("m1", models.DirectionPush)})

	report := f.engine.ProcessPush(context.Background(), "makes", models.Item{"_ID": 1, "make_name": "NewCo"})
	assert.NoError(t, report.Err)
	assert.Len(t, report.Changes, 2)
	require.Len(t, report.Skips, 1)
	assert.Equal(t, "gone", report.Skips[0].MappingID)
	assert.Equal(t, "relation 42 not found", report.Skips[0].Reason)
}

func TestProcessPush_PartialFailure(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionPush)})
	f.items.FailUpdates = true

	report := f.engine.ProcessPush(context.Background(), "makes", models.Item{"_ID": 1, "make_name": "NewCo"})
	assert.Error(t, report.Err)
	assert.Empty(t, report.Changes)
}

func TestRegisterHooks_DirectionGating(t *testing.T) {
	ctx := context.Background()

	pullOnly := newFixture(t, staticMappings{mapping("m1", models.DirectionPull)})
	d := hooks.New(testutil.Logger())
	require.NoError(t, pullOnly.engine.RegisterHooks(ctx, d))
	assert.True(t, d.Has(hooks.ItemToUpdate))
	assert.True(t, d.Has(hooks.CreatedItem("configs")))
	assert.False(t, d.Has(hooks.UpdatedItem("makes")))

	push := newFixture(t, staticMappings{mapping("m1", models.DirectionPush), mapping("m2", models.DirectionBoth)})
	d = hooks.New(testutil.Logger())
	require.NoError(t, push.engine.RegisterHooks(ctx, d))
	assert.True(t, d.Has(hooks.UpdatedItem("makes")))

	var pushRegs int
	for _, r := range d.Registrations() {
		if r.Event == hooks.UpdatedItem("makes") {
			pushRegs++
			assert.Equal(t, PriorityPush, r.Priority)
		}
		if r.Event == hooks.CreatedItem("configs") {
			assert.Greater(t, r.Priority, RelationInjectorPriority)
		}
	}
	assert.Equal(t, 1, pushRegs)
}

func TestRegisterHooks_ThroughDispatcher(t *testing.T) {
	f := newFixture(t, staticMappings{mapping("m1", models.DirectionBoth)})
	ctx := context.Background()
	d := hooks.New(testutil.Logger())
	require.NoError(t, f.engine.RegisterHooks(ctx, d))

	out := d.ApplyFilters(ctx, hooks.ItemToUpdate, models.Item{"_ID": 10}, hooks.SaveContext{CCT: "configs"})
	assert.Equal(t, "Acme", out["make_name"])

	f.items.Put("configs", models.Item{"_ID": int64(30)})
	f.items.Link(5, 1, 30)
	require.NoError(t, d.DoAction(ctx, hooks.CreatedItem("configs"), hooks.ItemEvent{CCT: "configs", ItemID: 30}))
	assert.Equal(t, "Acme", f.items.Row("configs", 30)["make_name"])

	require.NoError(t, d.DoAction(ctx, hooks.UpdatedItem("makes"), hooks.ItemEvent{
		CCT: "makes", ItemID: 1, Item: models.Item{"_ID": 1, "make_name": "NewCo"},
	}))
	assert.Equal(t, "NewCo", f.items.Row("configs", 30)["make_name"])
}

func TestFindCycles(t *testing.T) {
	forward := mapping("forward", models.DirectionPush)
	forward.SourceField, forward.DestinationField = "code", "code"
	back := models.FieldMapping{
		ID: "back", TargetCCT: "makes", TriggerRelation: 8,
		SourceField: "code", DestinationField: "code",
		Direction: models.DirectionPull, Enabled: true,
	}
	f := newFixture(t, staticMappings{forward, back, mapping("plain", models.DirectionPull)})

	cycles, err := f.engine.FindCycles(context.Background())
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"configs.code", "makes.code"}, cycles[0].Fields)
	assert.Equal(t, []string{"back", "forward"}, cycles[0].Mappings)

	back.Enabled = false
	f = newFixture(t, staticMappings{forward, back})
	cycles, err = f.engine.FindCycles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestReportJSON(t *testing.T) {
	r := Report{Phase: PhasePush, CCT: "makes", Err: errors.New("boom")}
	data, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"push","cct":"makes","changes":[],"skips":[],"error":"boom"}`, string(data))
}

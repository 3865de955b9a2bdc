package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/cctsync/internal/catalog"
	"github.com/starford/cctsync/internal/flattener"
	"github.com/starford/cctsync/internal/hooks"
	"github.com/starford/cctsync/internal/jetdb"
	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/testutil"
)

var (
	makes   = models.CCT{Slug: "makes", Name: "Makes", Fields: []models.Field{{Name: "make_name"}}}
	configs = models.CCT{Slug: "configs", Name: "Configs", Fields: []models.Field{
		{Name: "make_name"}, {Name: "model_name"}, {Name: "config_name"},
	}}
)

type env struct {
	plugin  *Plugin
	jet     *jetdb.DB
	parent  int64
	reports []flattener.Report
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	jet := testutil.JetDB(t)
	require.NoError(t, jet.EnsureCCTTable(ctx, makes))
	require.NoError(t, jet.EnsureCCTTable(ctx, configs))
	require.NoError(t, jet.EnsureRelationTable(ctx, 5))
	parent, err := jet.InsertItem(ctx, "makes", models.Item{"make_name": "Acme"})
	require.NoError(t, err)

	cat := catalog.NewStatic([]models.CCT{makes, configs}, []models.Relation{
		{ID: 5, ParentObject: "cct::makes", ChildObject: "cct::configs"},
		{ID: 6, ParentObject: "terms::body_type", ChildObject: "cct::configs"},
	})
	e := &env{jet: jet, parent: parent}
	e.plugin = New(cat, jet, testutil.OptionsDB(t), testutil.Logger(),
		WithObserver(func(r flattener.Report) { e.reports = append(e.reports, r) }),
		WithBatchSize(5))
	return e
}

func (e *env) saveMapping(t *testing.T, dir models.Direction, ui models.UIBehavior) {
	t.Helper()
	_, err := e.plugin.SaveMapping(context.Background(), models.MappingInput{
		TargetCCT: "configs", TriggerRelation: 5,
		SourceField: "make_name", DestinationField: "make_name",
		Direction: dir, UIBehavior: ui,
	})
	require.NoError(t, err)
}

func TestItemToUpdate_PullsAndNamesExistingItem(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.saveMapping(t, models.DirectionPull, models.UIReadonly)
	require.NoError(t, e.plugin.Mappings().SaveConfigName(ctx, models.ConfigNameConfig{
		Enabled: true, TargetCCT: "configs", OutputField: "config_name", Template: "{make_name} {model_name}",
	}))

	child, err := e.jet.InsertItem(ctx, "configs", models.Item{"model_name": "Roadster"})
	require.NoError(t, err)
	require.NoError(t, e.jet.Link(ctx, 5, e.parent, child))

	out, err := e.plugin.ItemToUpdate(ctx, "configs", models.Item{"_ID": child, "model_name": "Roadster"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", out["make_name"])
	assert.Equal(t, "Acme Roadster", out["config_name"])
	require.NotEmpty(t, e.reports)
	assert.Equal(t, flattener.PhasePull, e.reports[0].Phase)
}

func TestItemCreated_SyncsAfterRelationInjected(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.saveMapping(t, models.DirectionPull, models.UIHidden)

	out, err := e.plugin.ItemToUpdate(ctx, "configs", models.Item{"model_name": "New"})
	require.NoError(t, err)
	assert.NotContains(t, out, "make_name")

	child, err := e.jet.InsertItem(ctx, "configs", out)
	require.NoError(t, err)
	require.NoError(t, e.jet.Link(ctx, 5, e.parent, child))
	require.NoError(t, e.plugin.ItemCreated(ctx, "configs", child, out))

	v, err := e.jet.GetField(ctx, "configs", child, "make_name")
	require.NoError(t, err)
	assert.Equal(t, "Acme", v)
}

func TestItemUpdated_PushesToChildren(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.saveMapping(t, models.DirectionPush, models.UIReadonly)

	var children []int64
	for i := 0; i < 2; i++ {
		id, err := e.jet.InsertItem(ctx, "configs", models.Item{"make_name": "old"})
		require.NoError(t, err)
		require.NoError(t, e.jet.Link(ctx, 5, e.parent, id))
		children = append(children, id)
	}

	require.NoError(t, e.jet.UpdateItemField(ctx, "makes", e.parent, "make_name", "NewCo"))
	parent, err := e.jet.GetItem(ctx, "makes", e.parent)
	require.NoError(t, err)
	require.NoError(t, e.plugin.ItemUpdated(ctx, "makes", parent, models.Item{"make_name": "Acme"}))

	for _, id := range children {
		v, err := e.jet.GetField(ctx, "configs", id, "make_name")
		require.NoError(t, err)
		assert.Equal(t, "NewCo", v)
	}
}

func TestRegistrations(t *testing.T) {
	e := setup(t)
	e.saveMapping(t, models.DirectionBoth, models.UIReadonly)

	regs, err := e.plugin.Registrations(context.Background())
	require.NoError(t, err)

	events := map[string]int{}
	for _, r := range regs {
		events[r.Event]++
	}
	assert.Equal(t, 3, events[hooks.ItemToUpdate])
	assert.Equal(t, 1, events[hooks.CreatedItem("configs")])
	assert.Equal(t, 1, events[hooks.UpdatedItem("makes")])
}

func TestLockedFields(t *testing.T) {
	e := setup(t)
	e.saveMapping(t, models.DirectionPull, models.UIHidden)

	locked, err := e.plugin.LockedFields(context.Background(), "configs")
	require.NoError(t, err)
	assert.Equal(t, LockedFields{CCT: "configs", Readonly: []string{}, Hidden: []string{"make_name"}}, locked)
}

func TestSaveMapping_Warnings(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	res, err := e.plugin.SaveMapping(ctx, models.MappingInput{
		TargetCCT: "configs", TriggerRelation: 5, SourceField: "make_name", DestinationField: "make_name",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.True(t, res.Mapping.Enabled)

	res, err = e.plugin.SaveMapping(ctx, models.MappingInput{
		TargetCCT: "makes", TriggerRelation: 5, SourceField: "logo", DestinationField: "logo",
	})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 3)

	res, err = e.plugin.SaveMapping(ctx, models.MappingInput{
		TargetCCT: "configs", TriggerRelation: 6, SourceField: "name", DestinationField: "make_name",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"parent of relation 6 is not a cct"}, res.Warnings)

	res, err = e.plugin.SaveMapping(ctx, models.MappingInput{
		TargetCCT: "configs", TriggerRelation: 42, SourceField: "a", DestinationField: "b",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"relation 42 does not exist"}, res.Warnings)
}

func TestRelationsAndCCT(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	rels, err := e.plugin.Relations(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, "Makes", rels[0].ParentName)
	assert.Equal(t, models.Endpoint{Type: models.EndpointTerms, Slug: "body_type"}, rels[1].Parent)
	assert.Equal(t, "Body type", rels[1].ParentName)

	rels, err = e.plugin.Relations(ctx, "makes", models.PositionParent)
	require.NoError(t, err)
	require.Len(t, rels, 1)

	detail, err := e.plugin.CCT(ctx, "configs")
	require.NoError(t, err)
	assert.Len(t, detail.Relations, 2)
	for _, m := range detail.Relations {
		assert.Equal(t, models.PositionChild, m.Position)
	}
}

func TestBulkSyncThroughPlugin(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.saveMapping(t, models.DirectionPull, models.UIReadonly)

	child, err := e.jet.InsertItem(ctx, "configs", models.Item{})
	require.NoError(t, err)
	require.NoError(t, e.jet.Link(ctx, 5, e.parent, child))

	assert.Equal(t, 5, e.plugin.Syncer().BatchSize())
	res, err := e.plugin.Syncer().SyncBatch(ctx, "configs", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)

	v, err := e.jet.GetField(ctx, "configs", child, "make_name")
	require.NoError(t, err)
	assert.Equal(t, "Acme", v)
}

package relation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/cctsync/internal/catalog"
	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/relation"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want models.Endpoint
	}{
		{"cct::makes", models.Endpoint{Type: models.EndpointCCT, Slug: "makes"}},
		{"terms::body_type", models.Endpoint{Type: models.EndpointTerms, Slug: "body_type"}},
		{"posts::page", models.Endpoint{Type: models.EndpointPosts, Slug: "page"}},
		{"makes", models.Endpoint{Type: models.EndpointCCT, Slug: "makes"}},
		{"users::a::b", models.Endpoint{Type: "users", Slug: "a::b"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, relation.ParseEndpoint(tt.in))
		})
	}

	assert.Equal(t, models.EndpointUnknown, relation.ParseEndpointValue(42).Type)
	assert.Equal(t, "makes", relation.ParseEndpointValue([]byte("cct::makes")).Slug)
}

func TestIsCCTMember(t *testing.T) {
	assert.True(t, relation.IsCCTMember("makes", "cct::makes"))
	assert.True(t, relation.IsCCTMember("makes", "makes"))
	assert.False(t, relation.IsCCTMember("makes", "terms::makes"))
	assert.False(t, relation.IsCCTMember("makes", "posts::makes"))
	assert.False(t, relation.IsCCTMember("makes", "cct::models"))
	assert.False(t, relation.IsCCTMember("makes", "users::makes"))
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Vehicle models", relation.Humanize("vehicle_models"))
	assert.Equal(t, "", relation.Humanize(""))
}

func testResolver() *relation.Resolver {
	return relation.NewResolver(catalog.NewStatic(
		[]models.CCT{{Slug: "makes", Name: "Makes"}, {Slug: "configs"}},
		[]models.Relation{
			{ID: 5, ParentObject: "cct::makes", ChildObject: "cct::configs"},
			{ID: 6, ParentObject: "terms::configs", ChildObject: "cct::makes"},
			{ID: 7, ParentObject: "configs", ChildObject: "posts::configs", Name: "Config pages"},
		},
	))
}

func TestResolver_Positions(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	children, err := r.RelationsAsChild(ctx, "configs")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, models.RelationID(5), children[0].ID)
	assert.Equal(t, models.PositionChild, children[0].Position)

	parents, err := r.RelationsAsParent(ctx, "configs")
	require.NoError(t, err)
	require.Len(t, parents, 1, "terms::configs is not the configs cct")
	assert.Equal(t, models.RelationID(7), parents[0].ID)

	both, err := r.RelationsFor(ctx, "configs", models.PositionBoth)
	require.NoError(t, err)
	require.Len(t, both, 2)
	assert.Equal(t, models.PositionParent, both[0].Position)
	assert.Equal(t, models.PositionChild, both[1].Position)

	none, err := r.RelationsAsChild(ctx, "ghosts")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestResolver_Relation(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	rel, err := r.Relation(ctx, 6)
	require.NoError(t, err)
	require.NotNil(t, rel)
	_, ok := relation.ParentCCT(*rel)
	assert.False(t, ok)
	child, ok := relation.ChildCCT(*rel)
	assert.True(t, ok)
	assert.Equal(t, "makes", child)

	rel, err = r.Relation(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestResolver_Names(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	assert.Equal(t, "Makes", r.ObjectName(ctx, "cct::makes"))
	assert.Equal(t, "Configs", r.ObjectName(ctx, "cct::configs"), "falls back to the humanized slug")
	assert.Equal(t, "Body type", r.ObjectName(ctx, "terms::body_type"))

	rels, err := r.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Makes → Configs", r.DisplayName(ctx, rels[0]))
	assert.Equal(t, "Config pages", r.DisplayName(ctx, rels[2]))
}

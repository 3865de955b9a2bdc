// Package host defines what cctsync needs from the JetEngine installation it
// runs beside. Consumers should depend on these interfaces rather than on the
// concrete catalog or database types.
package host

import (
	"context"

	"github.com/starford/cctsync/internal/models"
)

// Catalog exposes CCT and relation definitions.
type Catalog interface {
	ListCCTs(ctx context.Context) ([]models.CCT, error)
	// GetCCT returns apperr.ErrNotFound for an unknown slug.
	GetCCT(ctx context.Context, slug string) (*models.CCT, error)
	ListRelations(ctx context.Context) ([]models.Relation, error)
	// GetRelation returns apperr.ErrNotFound for an unknown id.
	GetRelation(ctx context.Context, id models.RelationID) (*models.Relation, error)
}

// Items is point access to CCT rows and relation join rows.
//
// Lookups that find nothing return apperr.ErrNotFound; the propagation engine
// treats those as no-ops rather than failures.
type Items interface {
	GetItem(ctx context.Context, cct string, id int64) (models.Item, error)
	// GetField reads a single column of one row.
	GetField(ctx context.Context, cct string, id int64, field string) (any, error)
	UpdateItemField(ctx context.Context, cct string, id int64, field string, value any) error
	UpdateItemFields(ctx context.Context, cct string, id int64, fields map[string]any) error
	// ParentID returns the parent linked to child through the relation.
	ParentID(ctx context.Context, rel models.RelationID, childID int64) (int64, error)
	// ChildIDs returns every child linked to parent through the relation.
	ChildIDs(ctx context.Context, rel models.RelationID, parentID int64) ([]int64, error)
	CountItems(ctx context.Context, cct string) (int, error)
	ListItems(ctx context.Context, cct string, limit, offset int) ([]models.Item, error)
}

package api

import (
	"github.com/starford/cctsync/internal/bulksync"
	"github.com/starford/cctsync/internal/hooks"
	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/plugin"
)

// MappingInput is the request body for creating or updating a mapping
// (aliased from the domain layer).
type MappingInput = models.MappingInput

// FieldMapping is a stored mapping (aliased from the domain layer).
type FieldMapping = models.FieldMapping

// SaveMappingResponse is returned after a mapping is saved.
type SaveMappingResponse = plugin.SaveResult

// MappingListResponse wraps mapping listings.
type MappingListResponse struct {
	Mappings []FieldMapping `json:"mappings" validate:"required"`
	Total    int            `json:"total" example:"3" validate:"required"`
}

// ToggleRequest is the request body for enabling or disabling a mapping.
type ToggleRequest struct {
	Enabled bool `json:"enabled" example:"false"`
}

// CCTListResponse wraps the CCT catalog.
type CCTListResponse struct {
	CCTs []models.CCT `json:"ccts" validate:"required"`
}

// RelationListResponse wraps relation listings.
type RelationListResponse struct {
	Relations []plugin.RelationDetail `json:"relations" validate:"required"`
}

// ItemResponse carries an item after the pre-save filters ran.
type ItemResponse struct {
	Item models.Item `json:"item" validate:"required"`
}

// CreatedItemRequest is posted by the host after an item was inserted and
// its relations were stored.
type CreatedItemRequest struct {
	ItemID int64       `json:"item_id" example:"42" validate:"required"`
	Item   models.Item `json:"item"`
}

// UpdatedItemRequest is posted by the host after an item was updated.
type UpdatedItemRequest struct {
	Item     models.Item `json:"item" validate:"required"`
	Previous models.Item `json:"previous,omitempty"`
}

// HookResult reports whether the post-save actions succeeded.
type HookResult struct {
	Status string `json:"status" example:"ok" validate:"required"`
	Error  string `json:"error,omitempty"`
}

// HooksResponse lists the current hook registrations.
type HooksResponse struct {
	Hooks []hooks.Registration `json:"hooks" validate:"required"`
}

// SyncStatusResponse lists the mapped CCTs with their item counts.
type SyncStatusResponse struct {
	CCTs      []bulksync.CCTStatus `json:"ccts" validate:"required"`
	BatchSize int                  `json:"batch_size" example:"20" validate:"required"`
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/cctsync/internal/plugin"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// notifier, if non-nil, is told about mapping changes.
func NewRouter(p *plugin.Plugin, authEnabled bool, token string, sseHandler http.Handler, notifier Notifier) chi.Router {
	h := NewHandler(p, notifier)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Mapping CRUD.
	r.Get("/mappings", h.ListMappings)
	r.Post("/mappings", h.CreateMapping)
	r.Get("/mappings/{id}", h.GetMapping)
	r.Put("/mappings/{id}", h.UpdateMapping)
	r.Delete("/mappings/{id}", h.DeleteMapping)
	r.Post("/mappings/{id}/toggle", h.ToggleMapping)
	r.Get("/cycles", h.Cycles)

	// Sibling transform settings.
	r.Get("/settings/year-expander", h.GetYearExpander)
	r.Put("/settings/year-expander", h.PutYearExpander)
	r.Get("/settings/config-name", h.GetConfigName)
	r.Put("/settings/config-name", h.PutConfigName)

	// Discovery.
	r.Get("/ccts", h.ListCCTs)
	r.Get("/ccts/{slug}", h.GetCCT)
	r.Get("/relations", h.ListRelations)
	r.Get("/locked-fields/{cct}", h.LockedFields)

	// Host hook entry points.
	r.Get("/hooks", h.ListHooks)
	r.Post("/hooks/item-to-update/{cct}", h.ItemToUpdate)
	r.Post("/hooks/created-item/{cct}", h.CreatedItem)
	r.Post("/hooks/updated-item/{cct}", h.UpdatedItem)

	// Bulk sync.
	r.Get("/sync/status", h.SyncStatus)
	r.Post("/sync/{cct}", h.SyncBatch)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/cctsync/internal/models"
)

// ItemToUpdate handles POST /api/hooks/item-to-update/{cct}. The response
// always carries a usable item; propagation failures only show up in logs
// and on the event stream.
//
//	@Summary		Run the pre-save filters for an item
//	@Tags			hooks
//	@Accept			json
//	@Produce		json
//	@Param			cct		path		string		true	"CCT slug"
//	@Param			body	body		models.Item	true	"Item about to be saved"
//	@Success		200		{object}	ItemResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/hooks/item-to-update/{cct} [post]
func (h *Handler) ItemToUpdate(w http.ResponseWriter, r *http.Request) {
	cct := chi.URLParam(r, "cct")
	var item models.Item
	if !decodeJSON(w, r, &item) {
		return
	}
	if item == nil {
		item = models.Item{}
	}
	out, err := h.p.ItemToUpdate(r.Context(), cct, item)
	if err != nil {
		slog.Warn("item-to-update hooks unavailable", slog.String("cct", cct), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, ItemResponse{Item: out})
}

// CreatedItem handles POST /api/hooks/created-item/{cct}.
//
//	@Summary		Run the post-create actions for an item
//	@Tags			hooks
//	@Accept			json
//	@Produce		json
//	@Param			cct		path		string				true	"CCT slug"
//	@Param			body	body		CreatedItemRequest	true	"Created item"
//	@Success		200		{object}	HookResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/hooks/created-item/{cct} [post]
func (h *Handler) CreatedItem(w http.ResponseWriter, r *http.Request) {
	cct := chi.URLParam(r, "cct")
	var req CreatedItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ItemID <= 0 {
		if id, ok := req.Item.ID(); ok {
			req.ItemID = id
		}
	}
	if req.ItemID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("item_id is required"))
		return
	}
	writeHookResult(w, h.p.ItemCreated(r.Context(), cct, req.ItemID, req.Item))
}

// UpdatedItem handles POST /api/hooks/updated-item/{cct}.
//
//	@Summary		Run the post-update actions for an item
//	@Tags			hooks
//	@Accept			json
//	@Produce		json
//	@Param			cct		path		string				true	"CCT slug"
//	@Param			body	body		UpdatedItemRequest	true	"Updated item"
//	@Success		200		{object}	HookResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/hooks/updated-item/{cct} [post]
func (h *Handler) UpdatedItem(w http.ResponseWriter, r *http.Request) {
	cct := chi.URLParam(r, "cct")
	var req UpdatedItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, ok := req.Item.ID(); !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("item._ID is required"))
		return
	}
	writeHookResult(w, h.p.ItemUpdated(r.Context(), cct, req.Item, req.Previous))
}

// Action failures never fail the host's save, so they are reported in the
// body with a 200.
func writeHookResult(w http.ResponseWriter, err error) {
	if err != nil {
		writeJSON(w, http.StatusOK, HookResult{Status: "failed", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HookResult{Status: "ok"})
}

// ListHooks handles GET /api/hooks.
//
//	@Summary		List the hook registrations a request would get
//	@Tags			hooks
//	@Produce		json
//	@Success		200	{object}	HooksResponse
//	@Security		BearerAuth
//	@Router			/hooks [get]
func (h *Handler) ListHooks(w http.ResponseWriter, r *http.Request) {
	regs, err := h.p.Registrations(r.Context())
	if err != nil {
		writeError(w, "list hooks", err)
		return
	}
	writeJSON(w, http.StatusOK, HooksResponse{Hooks: regs})
}

// SyncStatus handles GET /api/sync/status.
//
//	@Summary		Mapped CCTs and their item counts
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	SyncStatusResponse
//	@Security		BearerAuth
//	@Router			/sync/status [get]
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.p.Syncer().Status(r.Context())
	if err != nil {
		writeError(w, "sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, SyncStatusResponse{CCTs: status, BatchSize: h.p.Syncer().BatchSize()})
}

// SyncBatch handles POST /api/sync/{cct}.
//
//	@Summary		Re-save one batch of items of a CCT
//	@Tags			sync
//	@Produce		json
//	@Param			cct		path		string	true	"CCT slug"
//	@Param			offset	query		int		false	"Offset of the first item"
//	@Param			limit	query		int		false	"Batch size"
//	@Success		200		{object}	bulksync.BatchResult
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync/{cct} [post]
func (h *Handler) SyncBatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	res, err := h.p.Syncer().SyncBatch(r.Context(), chi.URLParam(r, "cct"), offset, limit)
	if err != nil {
		writeError(w, "sync batch", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/plugin"
)

// Notifier is told about mapping list changes.
type Notifier interface {
	PublishMappingEvent(kind, id string)
}

// Handler holds API route handlers.
type Handler struct {
	p        *plugin.Plugin
	notifier Notifier
}

// NewHandler creates a new Handler. notifier may be nil.
func NewHandler(p *plugin.Plugin, notifier Notifier) *Handler {
	return &Handler{p: p, notifier: notifier}
}

func (h *Handler) notify(kind, id string) {
	if h.notifier != nil {
		h.notifier.PublishMappingEvent(kind, id)
	}
}

// ListMappings handles GET /api/mappings.
//
//	@Summary		List field mappings
//	@Tags			mappings
//	@Produce		json
//	@Param			cct		query		string	false	"Only mappings targeting this CCT"
//	@Param			enabled	query		bool	false	"Only enabled mappings"
//	@Success		200		{object}	MappingListResponse
//	@Security		BearerAuth
//	@Router			/mappings [get]
func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	enabledOnly, _ := strconv.ParseBool(q.Get("enabled"))

	var (
		list []models.FieldMapping
		err  error
	)
	if cct := q.Get("cct"); cct != "" {
		list, err = h.p.Mappings().MappingsForCCT(r.Context(), cct, enabledOnly)
	} else {
		list, err = h.p.Mappings().Mappings(r.Context(), enabledOnly)
	}
	if err != nil {
		writeError(w, "list mappings", err)
		return
	}
	if list == nil {
		list = []models.FieldMapping{}
	}
	writeJSON(w, http.StatusOK, MappingListResponse{Mappings: list, Total: len(list)})
}

// GetMapping handles GET /api/mappings/{id}.
//
//	@Summary		Get a mapping by id
//	@Tags			mappings
//	@Produce		json
//	@Param			id	path		string	true	"Mapping id"
//	@Success		200	{object}	FieldMapping
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/mappings/{id} [get]
func (h *Handler) GetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := h.p.Mappings().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get mapping", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateMapping handles POST /api/mappings. A mapping with the same target,
// relation and fields as an existing one updates that mapping instead.
//
//	@Summary		Create a mapping
//	@Tags			mappings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MappingInput	true	"Mapping to create"
//	@Success		201		{object}	SaveMappingResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/mappings [post]
func (h *Handler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var in MappingInput
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := h.p.SaveMapping(r.Context(), in)
	if err != nil {
		writeError(w, "save mapping", err)
		return
	}
	h.notify("saved", res.Mapping.ID)
	writeJSON(w, http.StatusCreated, res)
}

// UpdateMapping handles PUT /api/mappings/{id}.
//
//	@Summary		Replace a mapping
//	@Tags			mappings
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Mapping id"
//	@Param			body	body		MappingInput	true	"Updated mapping"
//	@Success		200		{object}	SaveMappingResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/mappings/{id} [put]
func (h *Handler) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.p.Mappings().Get(r.Context(), id); err != nil {
		writeError(w, "get mapping", err)
		return
	}
	var in MappingInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.ID = id
	res, err := h.p.SaveMapping(r.Context(), in)
	if err != nil {
		writeError(w, "save mapping", err)
		return
	}
	h.notify("saved", id)
	writeJSON(w, http.StatusOK, res)
}

// DeleteMapping handles DELETE /api/mappings/{id}.
//
//	@Summary		Delete a mapping
//	@Tags			mappings
//	@Param			id	path	string	true	"Mapping id"
//	@Success		204	"Mapping deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/mappings/{id} [delete]
func (h *Handler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.p.Mappings().Delete(r.Context(), id); err != nil {
		writeError(w, "delete mapping", err)
		return
	}
	h.notify("deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// ToggleMapping handles POST /api/mappings/{id}/toggle.
//
//	@Summary		Enable or disable a mapping
//	@Tags			mappings
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Mapping id"
//	@Param			body	body		ToggleRequest	true	"New state"
//	@Success		200		{object}	FieldMapping
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/mappings/{id}/toggle [post]
func (h *Handler) ToggleMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ToggleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.p.Mappings().Toggle(r.Context(), id, req.Enabled); err != nil {
		writeError(w, "toggle mapping", err)
		return
	}
	m, err := h.p.Mappings().Get(r.Context(), id)
	if err != nil {
		writeError(w, "get mapping", err)
		return
	}
	h.notify("toggled", id)
	writeJSON(w, http.StatusOK, m)
}

// Cycles handles GET /api/cycles.
//
//	@Summary		List field-level propagation loops
//	@Tags			mappings
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/cycles [get]
func (h *Handler) Cycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.p.Cycles(r.Context())
	if err != nil {
		writeError(w, "find cycles", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

// GetYearExpander handles GET /api/settings/year-expander.
//
//	@Summary		Get the year expander settings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	models.YearExpanderConfig
//	@Security		BearerAuth
//	@Router			/settings/year-expander [get]
func (h *Handler) GetYearExpander(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.p.Mappings().YearExpander(r.Context())
	if err != nil {
		writeError(w, "get year expander", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PutYearExpander handles PUT /api/settings/year-expander.
//
//	@Summary		Replace the year expander settings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.YearExpanderConfig	true	"Settings"
//	@Success		200		{object}	models.YearExpanderConfig
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings/year-expander [put]
func (h *Handler) PutYearExpander(w http.ResponseWriter, r *http.Request) {
	var cfg models.YearExpanderConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := h.p.Mappings().SaveYearExpander(r.Context(), cfg); err != nil {
		writeError(w, "save year expander", err)
		return
	}
	slog.Info("year expander settings saved", slog.Bool("enabled", cfg.Enabled), slog.String("target_cct", cfg.TargetCCT))
	writeJSON(w, http.StatusOK, cfg)
}

// GetConfigName handles GET /api/settings/config-name.
//
//	@Summary		Get the config-name generator settings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	models.ConfigNameConfig
//	@Security		BearerAuth
//	@Router			/settings/config-name [get]
func (h *Handler) GetConfigName(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.p.Mappings().ConfigName(r.Context())
	if err != nil {
		writeError(w, "get config name", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PutConfigName handles PUT /api/settings/config-name.
//
//	@Summary		Replace the config-name generator settings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.ConfigNameConfig	true	"Settings"
//	@Success		200		{object}	models.ConfigNameConfig
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings/config-name [put]
func (h *Handler) PutConfigName(w http.ResponseWriter, r *http.Request) {
	var cfg models.ConfigNameConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := h.p.Mappings().SaveConfigName(r.Context(), cfg); err != nil {
		writeError(w, "save config name", err)
		return
	}
	saved, err := h.p.Mappings().ConfigName(r.Context())
	if err != nil {
		writeError(w, "get config name", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// ListCCTs handles GET /api/ccts.
//
//	@Summary		List custom content types
//	@Tags			discovery
//	@Produce		json
//	@Success		200	{object}	CCTListResponse
//	@Security		BearerAuth
//	@Router			/ccts [get]
func (h *Handler) ListCCTs(w http.ResponseWriter, r *http.Request) {
	ccts, err := h.p.CCTs(r.Context())
	if err != nil {
		writeError(w, "list ccts", err)
		return
	}
	if ccts == nil {
		ccts = []models.CCT{}
	}
	writeJSON(w, http.StatusOK, CCTListResponse{CCTs: ccts})
}

// GetCCT handles GET /api/ccts/{slug}.
//
//	@Summary		Get a CCT with its fields and relations
//	@Tags			discovery
//	@Produce		json
//	@Param			slug	path		string	true	"CCT slug"
//	@Success		200		{object}	plugin.CCTDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ccts/{slug} [get]
func (h *Handler) GetCCT(w http.ResponseWriter, r *http.Request) {
	detail, err := h.p.CCT(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, "get cct", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListRelations handles GET /api/relations.
//
//	@Summary		List relations
//	@Tags			discovery
//	@Produce		json
//	@Param			cct			query		string	false	"Only relations this CCT takes part in"
//	@Param			position	query		string	false	"Side of the relation"	Enums(parent, child, both)
//	@Success		200			{object}	RelationListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations [get]
func (h *Handler) ListRelations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	position := models.Position(q.Get("position"))
	switch position {
	case "":
		position = models.PositionBoth
	case models.PositionParent, models.PositionChild, models.PositionBoth:
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("position must be parent, child or both"))
		return
	}
	rels, err := h.p.Relations(r.Context(), q.Get("cct"), position)
	if err != nil {
		writeError(w, "list relations", err)
		return
	}
	writeJSON(w, http.StatusOK, RelationListResponse{Relations: rels})
}

// LockedFields handles GET /api/locked-fields/{cct}.
//
//	@Summary		Fields the edit screen should lock or hide
//	@Tags			discovery
//	@Produce		json
//	@Param			cct	path		string	true	"CCT slug"
//	@Success		200	{object}	plugin.LockedFields
//	@Security		BearerAuth
//	@Router			/locked-fields/{cct} [get]
func (h *Handler) LockedFields(w http.ResponseWriter, r *http.Request) {
	locked, err := h.p.LockedFields(r.Context(), chi.URLParam(r, "cct"))
	if err != nil {
		writeError(w, "locked fields", err)
		return
	}
	writeJSON(w, http.StatusOK, locked)
}

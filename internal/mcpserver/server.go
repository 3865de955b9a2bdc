// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes cctsync mapping and sync tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/plugin"
)

const contractURI = "cctsync://mapping-format"

// Server wraps the MCP server with cctsync tools.
type Server struct {
	mcp    *server.MCPServer
	plugin *plugin.Plugin
}

// New creates a new MCP server with all cctsync tools registered.
func New(p *plugin.Plugin) *Server {
	s := &Server{plugin: p}

	s.mcp = server.NewMCPServer(
		"cctsync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_mappings",
		mcp.WithDescription("List field mappings, optionally only those targeting one CCT."),
		mcp.WithString("cct", mcp.Description("Optional target CCT slug")),
		mcp.WithBoolean("enabled_only", mcp.Description("Only return enabled mappings")),
	), s.listMappings)

	s.mcp.AddTool(mcp.NewTool("save_mapping",
		mcp.WithDescription("Create or update a field mapping. "+
			"Read the contract first via get_mapping_contract or the "+contractURI+" resource."),
		mcp.WithString("id", mcp.Description("Existing mapping id to update in place")),
		mcp.WithString("target_cct", mcp.Required(), mcp.Description("Child CCT slug that receives the value")),
		mcp.WithNumber("trigger_relation", mcp.Required(), mcp.Description("Relation id linking parent and child")),
		mcp.WithString("source_field", mcp.Required(), mcp.Description("Field on the parent CCT")),
		mcp.WithString("destination_field", mcp.Required(), mcp.Description("Field on the target CCT")),
		mcp.WithString("direction", mcp.Enum("pull", "push", "both"), mcp.Description("Propagation direction (default pull)")),
		mcp.WithString("ui_behavior", mcp.Enum("readonly", "hidden"), mcp.Description("Editor hint (default readonly)")),
		mcp.WithBoolean("enabled", mcp.Description("Whether the mapping is active (default true)")),
	), s.saveMapping)

	s.mcp.AddTool(mcp.NewTool("delete_mapping",
		mcp.WithDescription("Delete a field mapping by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Mapping id")),
	), s.deleteMapping)

	s.mcp.AddTool(mcp.NewTool("toggle_mapping",
		mcp.WithDescription("Enable or disable a field mapping."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Mapping id")),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("New state")),
	), s.toggleMapping)

	s.mcp.AddTool(mcp.NewTool("list_relations",
		mcp.WithDescription("List JetEngine relations with parsed endpoints."),
		mcp.WithString("cct", mcp.Description("Only relations this CCT takes part in")),
		mcp.WithString("position", mcp.Enum("parent", "child", "both"), mcp.Description("Side of the relation (default both)")),
	), s.listRelations)

	s.mcp.AddTool(mcp.NewTool("describe_cct",
		mcp.WithDescription("Show a CCT's fields and the relations it takes part in."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("CCT slug")),
	), s.describeCCT)

	s.mcp.AddTool(mcp.NewTool("locked_fields",
		mcp.WithDescription("Fields of a CCT that the editor shows read-only or hides."),
		mcp.WithString("cct", mcp.Required(), mcp.Description("CCT slug")),
	), s.lockedFields)

	s.mcp.AddTool(mcp.NewTool("find_cycles",
		mcp.WithDescription("Report field-level propagation loops between mappings."),
	), s.findCycles)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("List mapped CCTs with their item counts."),
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("sync_batch",
		mcp.WithDescription("Re-save one batch of items of a CCT so current mappings apply to them."),
		mcp.WithString("cct", mcp.Required(), mcp.Description("CCT slug")),
		mcp.WithNumber("offset", mcp.Description("Offset of the first item (default 0)")),
		mcp.WithNumber("limit", mcp.Description("Batch size (default from config)")),
	), s.syncBatch)

	s.mcp.AddTool(mcp.NewTool("get_mapping_contract",
		mcp.WithDescription("Returns the field mapping contract. "+
			"Call this before saving mappings to understand directions and defaults."),
	), s.getMappingContract)

	// Resource: mapping contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Mapping Contract",
			mcp.WithResourceDescription("Field mapping format and propagation rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMappingFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listMappings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enabledOnly := req.GetBool("enabled_only", false)
	var (
		list []models.FieldMapping
		err  error
	)
	if cct := req.GetString("cct", ""); cct != "" {
		list, err = s.plugin.Mappings().MappingsForCCT(ctx, cct, enabledOnly)
	} else {
		list, err = s.plugin.Mappings().Mappings(ctx, enabledOnly)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("no mappings found"), nil
	}
	return jsonResult(list)
}

func (s *Server) saveMapping(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := models.MappingInput{
		ID:         req.GetString("id", ""),
		Direction:  models.Direction(req.GetString("direction", "")),
		UIBehavior: models.UIBehavior(req.GetString("ui_behavior", "")),
	}
	var err error
	if in.TargetCCT, err = req.RequireString("target_cct"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rel, err := req.RequireInt("trigger_relation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in.TriggerRelation = models.RelationID(rel)
	if in.SourceField, err = req.RequireString("source_field"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if in.DestinationField, err = req.RequireString("destination_field"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if v, ok := req.GetArguments()["enabled"].(bool); ok {
		in.Enabled = &v
	}

	res, err := s.plugin.SaveMapping(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) deleteMapping(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.plugin.Mappings().Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) toggleMapping(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	enabled, err := req.RequireBool("enabled")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.plugin.Mappings().Toggle(ctx, id, enabled); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s", state, id)), nil
}

func (s *Server) listRelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	position := models.Position(req.GetString("position", string(models.PositionBoth)))
	rels, err := s.plugin.Relations(ctx, req.GetString("cct", ""), position)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rels)
}

func (s *Server) describeCCT(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.plugin.CCT(ctx, slug)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", slug)), nil
	}
	return jsonResult(detail)
}

func (s *Server) lockedFields(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cct, err := req.RequireString("cct")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	locked, err := s.plugin.LockedFields(ctx, cct)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(locked)
}

func (s *Server) findCycles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cycles, err := s.plugin.Cycles(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(cycles) == 0 {
		return mcp.NewToolResultText("no cycles found"), nil
	}
	return jsonResult(cycles)
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.plugin.Syncer().Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(status)
}

func (s *Server) syncBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cct, err := req.RequireString("cct")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.plugin.Syncer().SyncBatch(ctx, cct, req.GetInt("offset", 0), req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) getMappingContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MappingFormatContract), nil
}

func (s *Server) readMappingFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     MappingFormatContract,
		},
	}, nil
}

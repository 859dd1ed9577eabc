// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes deckpack workspace tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/deckservice"
	"github.com/starford/deckpack/internal/ids"
	"github.com/starford/deckpack/internal/index"
	"github.com/starford/deckpack/internal/loader"
)

// FormatResourceURI is the URI of the definition format resource.
const FormatResourceURI = "deckpack://definition-format"

// Server wraps the MCP server with deckpack tools.
type Server struct {
	mcp *server.MCPServer
	svc *deckservice.Service
	idx index.NoteIndex
}

// Option configures a Server.
type Option func(*Server)

// WithIndex enables the search_notes tool.
func WithIndex(idx index.NoteIndex) Option {
	return func(s *Server) { s.idx = idx }
}

// New creates a new MCP server with all deckpack tools registered.
func New(svc *deckservice.Service, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		"deckpack",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_definition_contract",
		mcp.WithDescription("Returns the deck definition format contract. "+
			"Call this before writing definitions to ensure correct structure."),
	), s.getDefinitionContract)

	s.mcp.AddTool(mcp.NewTool("list_definitions",
		mcp.WithDescription("List all definition files in the workspace with their build state."),
	), s.listDefinitions)

	s.mcp.AddTool(mcp.NewTool("read_definition",
		mcp.WithDescription("Read the raw content and checksum of a definition file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the definition (e.g. lang/spanish.yaml)")),
	), s.readDefinition)

	s.mcp.AddTool(mcp.NewTool("save_definition",
		mcp.WithDescription("Create or replace a definition file. Content MUST follow the definition "+
			"format contract; read it first via get_definition_contract or the "+FormatResourceURI+" resource. "+
			"The file must decode, but semantic errors are only reported by validate_definition and build_package."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path ending in .yaml, .yml, .toml or .json")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Definition content")),
		mcp.WithString("if_match", mcp.Description("Checksum the stored file must still have; omit to overwrite unconditionally")),
	), s.saveDefinition)

	s.mcp.AddTool(mcp.NewTool("validate_definition",
		mcp.WithDescription("Validate a definition and report the identifiers it would produce. "+
			"Pass either path (a workspace file) or content plus format."),
		mcp.WithString("path", mcp.Description("Relative path of a workspace definition")),
		mcp.WithString("content", mcp.Description("Inline definition content")),
		mcp.WithString("format", mcp.Description("Format of inline content: yaml, toml or json (default yaml)")),
	), s.validateDefinition)

	s.mcp.AddTool(mcp.NewTool("build_package",
		mcp.WithDescription("Build a workspace definition into its .apkg package."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the definition")),
		mcp.WithBoolean("force", mcp.Description("Rebuild even if the definition is unchanged")),
	), s.buildPackage)

	s.mcp.AddTool(mcp.NewTool("add_media",
		mcp.WithDescription("Add an image or audio file to the media library from an http(s) URL or a base64 data URI. "+
			"Returns the reference to paste into a note field."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:<mime>;base64,<data> URI")),
		mcp.WithString("filename", mcp.Description("Target file name; derived from the URL when omitted")),
	), s.addMedia)

	s.mcp.AddTool(mcp.NewTool("list_media",
		mcp.WithDescription("List the files in the media library."),
	), s.listMedia)

	s.mcp.AddTool(mcp.NewTool("import_definition",
		mcp.WithDescription("Push a workspace definition into the running Anki instance through AnkiConnect."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the definition")),
	), s.importDefinition)

	s.mcp.AddTool(mcp.NewTool("make_cloze",
		mcp.WithDescription("Turn plain text into cloze text for a cloze note field. "+
			"Each deletion hides its first occurrence; markers are numbered in reading order."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Plain field text")),
		mcp.WithString("deletions", mcp.Required(),
			mcp.Description("One deletion per line, written as 'text' or 'text::hint'")),
		mcp.WithBoolean("shared", mcp.Description("Put every deletion on one card (all c1)")),
	), s.makeCloze)

	if s.idx != nil {
		s.mcp.AddTool(mcp.NewTool("search_notes",
			mcp.WithDescription("Full-text search through the notes of every workspace definition. "+
				"Use it to check whether a note already exists before adding it."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of hits (default 20)")),
		), s.searchNotes)
	}

	s.mcp.AddResource(
		mcp.NewResource(FormatResourceURI, "Definition Format Contract",
			mcp.WithResourceDescription("Format that all deck definitions must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
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

// errorResult renders err for the model. Definition problems are listed one
// per line so they can be fixed in a single pass.
func errorResult(err error) *mcp.CallToolResult {
	var defErr *apperr.DefinitionError
	if errors.As(err, &defErr) {
		lines := make([]string, len(defErr.Issues))
		for i, issue := range defErr.Issues {
			lines[i] = "- " + issue.String()
		}
		return mcp.NewToolResultError("definition is invalid:\n" + strings.Join(lines, "\n"))
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) getDefinitionContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DefinitionFormatContract), nil
}

func (s *Server) readFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatResourceURI,
			MIMEType: "text/markdown",
			Text:     DefinitionFormatContract,
		},
	}, nil
}

func (s *Server) listDefinitions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.ListDefinitions(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no definitions"), nil
	}
	lines := make([]string, len(items))
	for i, it := range items {
		state := "not built"
		if it.Built {
			state = "built"
		}
		lines[i] = fmt.Sprintf("%s -> %s (%s)", it.Name, it.Package, state)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

type readResult struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Content  string `json:"content"`
}

func (s *Server) readDefinition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.DefinitionSource(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return errorResult(err), nil
	}
	return jsonResult(readResult{Path: d.Name, Checksum: d.Checksum, Content: d.Content})
}

func (s *Server) saveDefinition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	item, err := s.svc.PutDefinition(ctx, path, []byte(content), req.GetString("if_match", ""))
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return mcp.NewToolResultError("definition changed since it was read; read it again and reapply the edit"), nil
		}
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s (checksum %s)", item.Name, item.Checksum)), nil
}

type validateResult struct {
	Valid  bool          `json:"valid"`
	Models int           `json:"models"`
	Decks  int           `json:"decks"`
	Notes  int           `json:"notes"`
	Cards  int           `json:"cards"`
	IDs    []noteSummary `json:"ids"`
}

type noteSummary struct {
	Position int    `json:"position"`
	ID       int64  `json:"id"`
	GUID     string `json:"guid"`
	Cards    int    `json:"cards"`
}

func summarize(a *ids.Assignment) validateResult {
	res := validateResult{
		Valid:  true,
		Models: len(a.Models),
		Decks:  len(a.Decks),
		Notes:  len(a.Notes),
		Cards:  len(a.Cards()),
		IDs:    make([]noteSummary, len(a.Notes)),
	}
	for i, n := range a.Notes {
		res.IDs[i] = noteSummary{Position: n.Position, ID: n.ID, GUID: n.GUID, Cards: len(n.Cards)}
	}
	return res
}

func (s *Server) validateDefinition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	content := req.GetString("content", "")

	var (
		a   *ids.Assignment
		err error
	)
	switch {
	case path != "" && content != "":
		return mcp.NewToolResultError("pass either path or content, not both"), nil
	case path != "":
		def, getErr := s.svc.GetDefinition(ctx, path)
		if getErr != nil {
			return errorResult(getErr), nil
		}
		a, err = s.svc.Validate(ctx, def)
	case content != "":
		format, fmtErr := loader.ParseFormat(req.GetString("format", string(loader.FormatYAML)))
		if fmtErr != nil {
			return mcp.NewToolResultError(fmtErr.Error()), nil
		}
		def, parseErr := loader.Parse([]byte(content), format)
		if parseErr != nil {
			return errorResult(parseErr), nil
		}
		a, err = s.svc.Validate(ctx, def)
	default:
		return mcp.NewToolResultError("path or content is required"), nil
	}
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(summarize(a))
}

func (s *Server) buildPackage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.svc.BuildDefinition(ctx, path, req.GetBool("force", false))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(report)
}

func (s *Server) listMedia(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.ListMedia(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no media"), nil
	}
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) importDefinition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Import(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) searchNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.idx.Search(query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no matching notes"), nil
	}
	return jsonResult(results)
}

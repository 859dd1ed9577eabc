package mcpserver

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/deckpack/internal/cloze"
)

type makeClozeResult struct {
	Text  string `json:"text"`
	Cards int    `json:"cards"`
}

func (s *Server) makeCloze(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("deletions")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var dels []cloze.Deletion
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term, hint, _ := strings.Cut(line, "::")
		dels = append(dels, cloze.Deletion{Text: term, Hint: hint})
	}
	if len(dels) == 0 {
		return mcp.NewToolResultError("at least one deletion is required"), nil
	}

	marked, cards, err := cloze.Mark(text, dels, req.GetBool("shared", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(makeClozeResult{Text: marked, Cards: cards})
}

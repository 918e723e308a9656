package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusArgument defines sync_status parameters.
type StatusArgument struct {
	Repository string `json:"repository,omitempty" jsonschema:"Only report this repository"`
}

// StatusHandler handles the sync_status MCP tool.
type StatusHandler struct {
	service HistoryService
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(service HistoryService) *StatusHandler {
	return &StatusHandler{service: service}
}

// Handle reports how far every river got.
func (h *StatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args StatusArgument) (*mcp.CallToolResult, any, error) {
	statuses := h.service.Status()
	wanted := make(map[string]bool)
	for _, id := range resolveIdentities(h.service, args.Repository) {
		wanted[id.ID] = true
	}
	if len(wanted) == 0 {
		if args.Repository != "" {
			return errorResult("Repository not found: %s", args.Repository), nil, nil
		}
		return textResult("No repositories configured"), nil, nil
	}

	var sb strings.Builder
	for _, st := range statuses {
		if !wanted[st.Identity.ID] {
			continue
		}
		fmt.Fprintf(&sb, "### %s\n", st.Identity.Display())
		fmt.Fprintf(&sb, "- **State**: %s (%s checkpoints)\n", st.State, st.Mode)
		fmt.Fprintf(&sb, "- **Checkpoint**: r%d of r%d (%s behind)\n", st.Checkpoint, st.Head, humanize.Comma(st.Behind()))
		if count, err := h.service.Indexer().DocumentCount(st.Identity.ID); err == nil {
			fmt.Fprintf(&sb, "- **Indexed documents**: %s\n", humanize.Comma(int64(count)))
		}
		if st.LastTick.IsZero() {
			sb.WriteString("- **Last tick**: never\n")
		} else {
			fmt.Fprintf(&sb, "- **Last tick**: %s\n", humanize.Time(st.LastTick))
		}
		if st.LastError != "" {
			fmt.Fprintf(&sb, "- **Last error**: %s\n", st.LastError)
		}
		sb.WriteString("\n")
	}

	return textResult(sb.String()), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *StatusHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "sync_status",
		Description: "Report the checkpoint, head revision and last error of every synchronized repository",
	}
}

// RegisterStatusTool registers the status tool with an MCP server.
func RegisterStatusTool(server *mcp.Server, service HistoryService) {
	handler := NewStatusHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

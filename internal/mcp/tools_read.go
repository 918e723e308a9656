package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/svn-river/internal/domain"
)

// ReadArgument defines read_entry parameters.
type ReadArgument struct {
	Repository string `json:"repository,omitempty" jsonschema:"Repository as listed by sync_status; optional with a single repository"`
	Path       string `json:"path" jsonschema:"Full path of the entry (e.g. /trunk/src/main.go)"`
	Revision   int64  `json:"revision,omitempty" jsonschema:"Read the entry as of this revision; latest indexed when omitted"`
}

// ReadHandler handles the read_entry MCP tool.
type ReadHandler struct {
	service HistoryService
}

// NewReadHandler creates a new read handler.
func NewReadHandler(service HistoryService) *ReadHandler {
	return &ReadHandler{service: service}
}

// Handle returns the indexed content of an entry at its last change up to
// the requested revision.
func (h *ReadHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ReadArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Path) == "" {
		return errorResult("Path cannot be empty"), nil, nil
	}
	if args.Revision < 0 {
		return errorResult("Revision cannot be negative"), nil, nil
	}
	path := domain.NormalizePath(args.Path)

	identity, index, failure := openSingleIndex(h.service, args.Repository)
	if failure != nil {
		return failure, nil, nil
	}

	pathQuery := bleve.NewTermQuery(path)
	pathQuery.SetField(domain.FieldFullName)
	typeQuery := bleve.NewTermQuery(domain.TypeDocument)
	typeQuery.SetField(domain.FieldType)
	q := bleve.NewConjunctionQuery(typeQuery, pathQuery)
	if args.Revision > 0 {
		q.AddQuery(revisionRange(0, args.Revision))
	}

	searchReq := bleve.NewSearchRequest(q)
	searchReq.Size = 1
	searchReq.Fields = []string{
		domain.FieldRevision, domain.FieldChange, domain.FieldContent, domain.FieldSize,
		domain.FieldLanguage, domain.FieldAuthor, domain.FieldDate,
	}
	searchReq.SortBy([]string{"-" + domain.FieldRevision})

	res, err := index.SearchInContext(ctx, searchReq)
	if err != nil {
		return errorResult("Search failed: %s", err), nil, nil
	}
	if len(res.Hits) == 0 {
		if args.Revision > 0 {
			return errorResult("%s has no indexed change up to r%d in %s", path, args.Revision, identity.Display()), nil, nil
		}
		return errorResult("%s has no indexed change in %s", path, identity.Display()), nil, nil
	}

	return formatEntry(path, res.Hits[0]), nil, nil
}

func formatEntry(path string, hit *search.DocumentMatch) *mcp.CallToolResult {
	rev := int64(numberField(hit.Fields, domain.FieldRevision))
	change := domain.ChangeKind(stringField(hit.Fields, domain.FieldChange))

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Entry**: `%s`\n", path)
	fmt.Fprintf(&sb, "**Last change**: r%d (%s) by %s, %s\n", rev, change, stringField(hit.Fields, domain.FieldAuthor), dateField(hit.Fields))

	if !change.HasContent() {
		fmt.Fprintf(&sb, "\nThe entry does not exist at r%d.\n", rev)
		return textResult(sb.String())
	}

	content, ok := hit.Fields[domain.FieldContent].(string)
	if !ok {
		sb.WriteString("\nNo content was indexed for this entry.\n")
		return textResult(sb.String())
	}
	if size := numberField(hit.Fields, domain.FieldSize); size > 0 {
		fmt.Fprintf(&sb, "**Size**: %s\n", humanize.IBytes(uint64(size)))
	}
	switch content {
	case domain.ContentNotText, domain.ContentFilteredPattern, domain.ContentFilteredSize:
		fmt.Fprintf(&sb, "\n%s\n", content)
		return textResult(sb.String())
	}

	lang := strings.ToLower(stringField(hit.Fields, domain.FieldLanguage))
	fmt.Fprintf(&sb, "\n```%s\n%s\n```", lang, strings.TrimRight(content, "\n"))
	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *ReadHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "read_entry",
		Description: "Read the indexed content of a file as of a revision (its last change at or before that revision)",
	}
}

// RegisterReadTool registers the read tool with an MCP server.
func RegisterReadTool(server *mcp.Server, service HistoryService) {
	handler := NewReadHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

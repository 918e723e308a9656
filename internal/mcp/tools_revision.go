package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/svn-river/internal/domain"
)

// MaxRevisionEntries bounds the changed entries listed for one revision.
const MaxRevisionEntries = 500

// RevisionArgument defines get_revision parameters.
type RevisionArgument struct {
	Repository string `json:"repository,omitempty" jsonschema:"Repository as listed by sync_status; optional with a single repository"`
	Revision   int64  `json:"revision" jsonschema:"Revision number"`
}

// RevisionHandler handles the get_revision MCP tool.
type RevisionHandler struct {
	service HistoryService
}

// NewRevisionHandler creates a new revision handler.
func NewRevisionHandler(service HistoryService) *RevisionHandler {
	return &RevisionHandler{service: service}
}

// Handle returns the commit metadata and changed entries of one revision.
func (h *RevisionHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args RevisionArgument) (*mcp.CallToolResult, any, error) {
	if args.Revision < 1 {
		return errorResult("Revision must be at least 1"), nil, nil
	}

	identity, index, failure := openSingleIndex(h.service, args.Repository)
	if failure != nil {
		return failure, nil, nil
	}

	recordID := domain.RevisionRecord{Repository: identity.ID, Revision: args.Revision}.ID()
	recordReq := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{recordID}))
	recordReq.Fields = []string{domain.FieldAuthor, domain.FieldDate, domain.FieldMessage}
	recordRes, err := index.SearchInContext(ctx, recordReq)
	if err != nil {
		return errorResult("Search failed: %s", err), nil, nil
	}
	if len(recordRes.Hits) == 0 {
		return errorResult("Revision %d of %s is not indexed", args.Revision, identity.Display()), nil, nil
	}

	docsReq := bleve.NewSearchRequest(revisionDocumentsQuery(args.Revision))
	docsReq.Size = MaxRevisionEntries
	docsReq.Fields = []string{domain.FieldFullName, domain.FieldChange, domain.FieldSize, domain.FieldLanguage, domain.FieldOrigin, domain.FieldFrom}
	docsReq.SortBy([]string{domain.FieldFullName})
	docsRes, err := index.SearchInContext(ctx, docsReq)
	if err != nil {
		return errorResult("Search failed: %s", err), nil, nil
	}

	return formatRevision(identity, args.Revision, recordRes.Hits[0], docsRes), nil, nil
}

// revisionDocumentsQuery matches the documents of one revision.
func revisionDocumentsQuery(rev int64) query.Query {
	typeQuery := bleve.NewTermQuery(domain.TypeDocument)
	typeQuery.SetField(domain.FieldType)
	return bleve.NewConjunctionQuery(typeQuery, revisionRange(rev, rev))
}

func formatRevision(identity domain.Identity, rev int64, record *search.DocumentMatch, docs *bleve.SearchResult) *mcp.CallToolResult {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s r%d\n", identity.Display(), rev)
	fmt.Fprintf(&sb, "**Author**: %s\n", stringField(record.Fields, domain.FieldAuthor))
	fmt.Fprintf(&sb, "**Date**: %s\n", dateField(record.Fields))
	fmt.Fprintf(&sb, "**Message**:\n%s\n\n", strings.TrimSpace(stringField(record.Fields, domain.FieldMessage)))

	fmt.Fprintf(&sb, "**Changed entries** (%d):\n", docs.Total)
	for _, hit := range docs.Hits {
		fmt.Fprintf(&sb, "- %s %s", stringField(hit.Fields, domain.FieldChange), stringField(hit.Fields, domain.FieldFullName))

		var details []string
		if size := numberField(hit.Fields, domain.FieldSize); size > 0 {
			details = append(details, humanize.IBytes(uint64(size)))
		}
		if lang := stringField(hit.Fields, domain.FieldLanguage); lang != "" {
			details = append(details, lang)
		}
		if origin := stringField(hit.Fields, domain.FieldOrigin); origin != "" {
			details = append(details, fmt.Sprintf("from %s@%d", origin, int64(numberField(hit.Fields, domain.FieldFrom))))
		}
		if len(details) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(details, ", "))
		}
		sb.WriteString("\n")
	}
	if docs.Total > uint64(len(docs.Hits)) {
		fmt.Fprintf(&sb, "... and %d more\n", docs.Total-uint64(len(docs.Hits)))
	}

	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *RevisionHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_revision",
		Description: "Show the author, date, message and changed entries of an indexed revision",
	}
}

// RegisterRevisionTool registers the revision tool with an MCP server.
func RegisterRevisionTool(server *mcp.Server, service HistoryService) {
	handler := NewRevisionHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

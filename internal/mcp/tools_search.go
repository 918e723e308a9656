package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/svn-river/internal/domain"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query        string `json:"query" jsonschema:"Full-text query over file content and commit messages"`
	Repository   string `json:"repository,omitempty" jsonschema:"Filter by repository (URL with watched path, as listed by sync_status)"`
	Author       string `json:"author,omitempty" jsonschema:"Filter by commit author"`
	Path         string `json:"path,omitempty" jsonschema:"Filter by path prefix (e.g. /trunk/src)"`
	Change       string `json:"change,omitempty" jsonschema:"Filter by change kind: A, M, D or R"`
	FromRevision int64  `json:"from_revision,omitempty" jsonschema:"Lowest revision to include"`
	ToRevision   int64  `json:"to_revision,omitempty" jsonschema:"Highest revision to include"`
}

var searchFields = []string{
	domain.FieldFullName, domain.FieldRevision, domain.FieldAuthor, domain.FieldDate,
	domain.FieldChange, domain.FieldMessage, domain.FieldSize, domain.FieldLanguage,
}

// SearchHandler handles the search MCP tool.
type SearchHandler struct {
	service    HistoryService
	maxResults int
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service HistoryService, maxResults int) *SearchHandler {
	return &SearchHandler{
		service:    service,
		maxResults: maxResults,
	}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}
	if args.Change != "" {
		if _, ok := domain.ParseChangeKind(args.Change); !ok {
			return errorResult("Invalid change kind %q, expected A, M, D or R", args.Change), nil, nil
		}
	}
	if args.FromRevision > 0 && args.ToRevision > 0 && args.FromRevision > args.ToRevision {
		return errorResult("from_revision %d is after to_revision %d", args.FromRevision, args.ToRevision), nil, nil
	}

	identities := resolveIdentities(h.service, args.Repository)
	if len(identities) == 0 {
		return errorResult("Repository not found: %s", args.Repository), nil, nil
	}

	alias, err := h.service.Indexer().Alias(identityIDs(identities))
	if err != nil {
		return errorResult("Search is not available. The history is still being indexed. Please try again later."), nil, nil
	}

	searchReq := bleve.NewSearchRequest(h.buildQuery(args))
	searchReq.Size = h.maxResults
	searchReq.Fields = searchFields
	searchReq.Highlight = bleve.NewHighlight()
	searchReq.Highlight.AddField(domain.FieldContent)

	results, err := alias.SearchInContext(ctx, searchReq)
	if err != nil {
		return errorResult("Search failed: %s", err), nil, nil
	}

	return formatSearchResults(results, args.Query), nil, nil
}

// buildQuery constructs a Bleve query from search arguments.
func (h *SearchHandler) buildQuery(args SearchArgument) query.Query {
	contentQuery := bleve.NewMatchQuery(args.Query)
	contentQuery.SetField(domain.FieldContent)

	messageQuery := bleve.NewMatchQuery(args.Query)
	messageQuery.SetField(domain.FieldMessage)
	messageQuery.SetBoost(0.5)

	nameQuery := bleve.NewTermQuery(args.Query)
	nameQuery.SetField(domain.FieldName)
	nameQuery.SetBoost(5.0)

	symbolQuery := bleve.NewTermQuery(args.Query)
	symbolQuery.SetField(domain.FieldSymbols)
	symbolQuery.SetBoost(3.0)

	typeQuery := bleve.NewTermQuery(domain.TypeDocument)
	typeQuery.SetField(domain.FieldType)

	must := []query.Query{
		bleve.NewDisjunctionQuery(contentQuery, messageQuery, nameQuery, symbolQuery),
		typeQuery,
	}

	if args.Author != "" {
		q := bleve.NewTermQuery(args.Author)
		q.SetField(domain.FieldAuthor)
		must = append(must, q)
	}
	if args.Path != "" {
		q := bleve.NewPrefixQuery(domain.NormalizePath(args.Path))
		q.SetField(domain.FieldFullName)
		must = append(must, q)
	}
	if args.Change != "" {
		kind, _ := domain.ParseChangeKind(args.Change)
		q := bleve.NewTermQuery(string(kind))
		q.SetField(domain.FieldChange)
		must = append(must, q)
	}
	if args.FromRevision > 0 || args.ToRevision > 0 {
		must = append(must, revisionRange(args.FromRevision, args.ToRevision))
	}

	return bleve.NewConjunctionQuery(must...)
}

// revisionRange matches revisions in [from, to]; a zero bound is open.
func revisionRange(from, to int64) query.Query {
	var minRev, maxRev *float64
	inclusive := true
	if from > 0 {
		v := float64(from)
		minRev = &v
	}
	if to > 0 {
		v := float64(to)
		maxRev = &v
	}
	q := bleve.NewNumericRangeInclusiveQuery(minRev, maxRev, &inclusive, &inclusive)
	q.SetField(domain.FieldRevision)
	return q
}

// formatSearchResults formats Bleve search results for MCP response.
func formatSearchResults(results *bleve.SearchResult, queryStr string) *mcp.CallToolResult {
	if results.Total == 0 {
		return textResult(fmt.Sprintf("No results found for query: %s", queryStr))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %s results for '%s':\n\n", humanize.Comma(int64(results.Total)), queryStr)

	for i, hit := range results.Hits {
		fullName := stringField(hit.Fields, domain.FieldFullName)
		rev := int64(numberField(hit.Fields, domain.FieldRevision))
		change := stringField(hit.Fields, domain.FieldChange)

		fmt.Fprintf(&sb, "### %d. %s@%d (%s)\n", i+1, fullName, rev, change)
		fmt.Fprintf(&sb, "**Author**: %s, **Date**: %s", stringField(hit.Fields, domain.FieldAuthor), dateField(hit.Fields))
		if size := numberField(hit.Fields, domain.FieldSize); size > 0 {
			fmt.Fprintf(&sb, ", **Size**: %s", humanize.IBytes(uint64(size)))
		}
		if lang := stringField(hit.Fields, domain.FieldLanguage); lang != "" {
			fmt.Fprintf(&sb, ", **Language**: %s", lang)
		}
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "**Message**: %s\n", firstLine(stringField(hit.Fields, domain.FieldMessage)))
		fmt.Fprintf(&sb, "**Score**: %.4f\n\n", hit.Score)

		if fragments, ok := hit.Fragments[domain.FieldContent]; ok && len(fragments) > 0 {
			sb.WriteString("```\n")
			for _, fragment := range fragments {
				sb.WriteString(fragment)
				sb.WriteString("\n")
			}
			sb.WriteString("```\n")
		}
		sb.WriteString("\n")
	}

	if results.Total > uint64(len(results.Hits)) {
		fmt.Fprintf(&sb, "... and %s more results\n", humanize.Comma(int64(results.Total-uint64(len(results.Hits)))))
	}

	return textResult(sb.String())
}

func stringField(fields map[string]any, name string) string {
	if val, ok := fields[name].(string); ok {
		return val
	}
	return ""
}

func numberField(fields map[string]any, name string) float64 {
	if val, ok := fields[name].(float64); ok {
		return val
	}
	return 0
}

// dateField renders a stored date relative to now.
func dateField(fields map[string]any) string {
	raw := stringField(fields, domain.FieldDate)
	if raw == "" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return fmt.Sprintf("%s (%s)", t.UTC().Format(time.DateTime), humanize.Time(t))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_history",
		Description: "Search the indexed revision history: file content at each revision, paths and commit messages",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, service HistoryService, maxResults int) {
	handler := NewSearchHandler(service, maxResults)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

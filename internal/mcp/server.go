package mcp

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/river"
	"github.com/sha1n/svn-river/internal/sink"
)

// DefaultMaxResults is the number of search hits returned when none is configured.
const DefaultMaxResults = 20

// HistoryService is the river as seen by the tools.
type HistoryService interface {
	Indexer() *sink.Indexer
	Identities() []domain.Identity
	Status() []river.LoopStatus
}

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string
	// River backs the tools. Without it the server has no tools.
	River      HistoryService
	MaxResults int
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.River != nil {
		maxResults := cfg.MaxResults
		if maxResults <= 0 {
			maxResults = DefaultMaxResults
		}
		RegisterSearchTool(s, cfg.River, maxResults)
		RegisterRevisionTool(s, cfg.River)
		RegisterReadTool(s, cfg.River)
		RegisterStatusTool(s, cfg.River)
	}

	return s
}

// errorResult wraps a message in an error tool result.
func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

// textResult wraps text in a tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// resolveIdentities returns the identities matching a repository filter: an
// identity ID, its display form or its URL. An empty filter matches all.
func resolveIdentities(svc HistoryService, repository string) []domain.Identity {
	all := svc.Identities()
	repository = strings.TrimRight(strings.TrimSpace(repository), "/")
	if repository == "" {
		return all
	}

	var matched []domain.Identity
	for _, id := range all {
		if id.ID == repository || id.Display() == repository || id.URL == repository {
			matched = append(matched, id)
		}
	}
	return matched
}

func identityIDs(identities []domain.Identity) []string {
	ids := make([]string, len(identities))
	for i, id := range identities {
		ids[i] = id.ID
	}
	return ids
}

// openSingleIndex resolves repository to exactly one indexed identity and
// opens its index. On failure it returns the tool result to send instead.
func openSingleIndex(svc HistoryService, repository string) (domain.Identity, bleve.Index, *mcp.CallToolResult) {
	identities := resolveIdentities(svc, repository)
	switch {
	case len(identities) == 0:
		return domain.Identity{}, nil, errorResult("Repository not found: %s", repository)
	case len(identities) > 1:
		names := make([]string, len(identities))
		for i, id := range identities {
			names[i] = id.Display()
		}
		return domain.Identity{}, nil, errorResult("Several repositories are indexed, specify one of: %s", strings.Join(names, ", "))
	}
	identity := identities[0]

	indexer := svc.Indexer()
	if !indexer.IndexExists(identity.ID) {
		return identity, nil, errorResult("Repository %s is not indexed yet", identity.Display())
	}
	index, err := indexer.Open(identity.ID)
	if err != nil {
		return identity, nil, errorResult("Failed to access index: %s", err)
	}
	return identity, index, nil
}

package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docsearch-mcp/internal/search"
	"github.com/bull/docsearch-mcp/internal/storage"
)

// Store is the read side of the store of record used by the tools and API.
type Store interface {
	search.Catalog
	HealthChecker
	ListLibraries(ctx context.Context) ([]*storage.Library, error)
	ListVersions(ctx context.Context, libraryID string) ([]*storage.LibraryVersion, error)
	GetDocumentByPath(ctx context.Context, versionID, path string) (*storage.Document, error)
	ListDocumentRefs(ctx context.Context, versionID string) ([]storage.DocumentRef, error)
	Stats(ctx context.Context, versionID string) (*storage.IndexStats, error)
	ListSyncHistory(ctx context.Context, versionID string, limit int) ([]*storage.SyncHistory, error)
}

// Searcher runs hybrid searches.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	deps   *Config
}

// Config holds server dependencies.
type Config struct {
	Store    Store
	Searcher Searcher
	// StaleAfter is how old the last successful sync may be before
	// get_index_status warns. Zero disables the warning.
	StaleAfter time.Duration
	Version    string
	Logger     *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "v0.1.0"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "docsearch-mcp", Version: cfg.Version}, nil)
	h := &handlers{cfg: cfg}

	mcp.AddTool(server, &mcp.Tool{
		Name: "search_docs",
		Description: "Search indexed library documentation by keywords and meaning. " +
			"Returns ranked documents and sections with snippets. Use fetch_doc to read a full document.",
	}, h.searchDocs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_doc",
		Description: "Retrieve a document of a library version by path. Returns the full markdown content.",
	}, h.fetchDoc)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_docs",
		Description: "List indexed libraries and versions, or the document paths of one library version.",
	}, h.listDocs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Report document and chunk counts and the most recent sync of the index or of one library version.",
	}, h.indexStatus)

	return &Server{server: server, deps: cfg}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

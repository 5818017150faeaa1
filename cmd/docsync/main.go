// Package main provides the docsync CLI for managing and syncing the
// documentation index.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bull/docsearch-mcp/internal/app"
	"github.com/bull/docsearch-mcp/internal/config"
	"github.com/bull/docsearch-mcp/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	out    io.Writer
	dbPath string
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:   "docsync",
		Short: "Documentation index management tool",
		Long: `CLI tool for registering libraries, syncing their documentation into the
index, managing API keys and running searches.

Environment variables:
  DOCSEARCH_DB       SQLite store path (default: data/docsearch.db)
  VECTOR_BACKEND     sqlite, qdrant or pgvector (default: sqlite)
  OPENAI_API_KEY     OpenAI API key for embeddings (required for sync and search)
  GITHUB_TOKEN       GitHub token for higher rate limits (optional)`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "store path (overrides DOCSEARCH_DB)")

	root.AddCommand(
		c.syncCmd(),
		c.scheduleCmd(),
		c.libraryCmd(),
		c.versionCmd(),
		c.keyCmd(),
		c.searchCmd(),
		c.historyCmd(),
	)
	return root
}

func (c *cli) config() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.dbPath != "" {
		cfg.Store.Path = c.dbPath
	}
	return cfg, nil
}

// withStore runs fn against the store of record only, for commands that need
// neither embeddings nor a vector backend.
func (c *cli) withStore(ctx context.Context, fn func(*storage.Store) error) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// withApp runs fn with every component built.
func (c *cli) withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

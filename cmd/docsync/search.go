package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bull/docsearch-mcp/internal/app"
	"github.com/bull/docsearch-mcp/internal/search"
	"github.com/bull/docsearch-mcp/internal/storage"
)

func (c *cli) searchCmd() *cobra.Command {
	var library, version string
	var alpha, minSimilarity float64
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Run a hybrid search against the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app.App) error {
				versionID, err := search.ResolveVersion(ctx, a.Store, library, version)
				if err != nil {
					return err
				}
				req := search.Request{Query: args[0], VersionID: versionID, Limit: limit}
				if cmd.Flags().Changed("alpha") {
					req.Alpha = &alpha
				}
				if cmd.Flags().Changed("min-similarity") {
					req.MinSimilarity = &minSimilarity
				}
				resp, err := a.Engine.Search(ctx, req)
				if err != nil {
					return err
				}
				if len(resp.Items) == 0 {
					c.printf("No results.\n")
					return nil
				}
				for i, it := range resp.Items {
					where := it.Path
					if it.ChunkIndex != nil {
						where = fmt.Sprintf("%s#%d", it.Path, *it.ChunkIndex)
					}
					c.printf("%2d. [%.3f] %s (%s)\n", i+1, it.Score, it.Title, where)
					c.printf("    lexical %.3f  semantic %.3f\n", it.LexicalScore, it.SemanticScore)
					c.printf("    %s\n\n", it.Snippet)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&library, "library", "", "restrict to a library")
	cmd.Flags().StringVar(&version, "version", "", "library version (default: latest)")
	cmd.Flags().Float64Var(&alpha, "alpha", 0, "lexical weight in [0,1] (default: SEARCH_ALPHA)")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "minimum combined score (default: SEARCH_MIN_SIMILARITY)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history VERSION_ID",
		Short: "Show the sync history of a version, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(s *storage.Store) error {
				history, err := s.ListSyncHistory(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if len(history) == 0 {
					c.printf("No syncs recorded for %s\n", args[0])
					return nil
				}
				for i, h := range history {
					if i > 0 {
						c.printf("\n")
					}
					c.printHistory(h)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docsearch-mcp/internal/source"
	"github.com/bull/docsearch-mcp/internal/storage"
)

func (c *cli) libraryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "library", Short: "Manage libraries"}

	var sourceType, url, category string
	var tags []string
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib := &storage.Library{
				Name:       args[0],
				SourceType: storage.SourceType(strings.ToUpper(sourceType)),
				SourceURL:  url,
				Category:   category,
				Tags:       tags,
			}
			if lib.SourceType == storage.SourceGitHub {
				if _, _, err := source.ParseGitHubURL(url); err != nil {
					return err
				}
			}
			if lib.SourceType == storage.SourceLocal && url == "" {
				return errors.New("--url is required for LOCAL libraries")
			}
			return c.withStore(cmd.Context(), func(s *storage.Store) error {
				if err := s.CreateLibrary(cmd.Context(), lib); err != nil {
					return err
				}
				c.printf("Library %s registered (%s)\n", lib.Name, lib.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&sourceType, "source-type", string(storage.SourceGitHub), "GITHUB, LOCAL or MANUAL")
	add.Flags().StringVar(&url, "url", "", "repository URL or local directory")
	add.Flags().StringVar(&category, "category", "", "free-form category")
	add.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withStore(cmd.Context(), func(s *storage.Store) error {
				libs, err := s.ListLibraries(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSOURCE\tURL\tCATEGORY\tTAGS")
				for _, lib := range libs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", lib.Name, lib.SourceType, lib.SourceURL, lib.Category, strings.Join(lib.Tags, ","))
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "version", Short: "Manage library versions"}

	var gitRef, docsPath, releaseDate string
	var latest, lts bool
	add := &cobra.Command{
		Use:   "add LIBRARY VERSION",
		Short: "Register a version of a library",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := &storage.LibraryVersion{
				Version:  args[1],
				GitRef:   gitRef,
				DocsPath: docsPath,
				IsLatest: latest,
				IsLTS:    lts,
			}
			if releaseDate != "" {
				d, err := time.Parse(time.DateOnly, releaseDate)
				if err != nil {
					return fmt.Errorf("--release-date: %w", err)
				}
				v.ReleaseDate = &d
			}
			return c.withStore(cmd.Context(), func(s *storage.Store) error {
				lib, err := s.GetLibraryByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				v.LibraryID = lib.ID
				if err := s.CreateVersion(cmd.Context(), v); err != nil {
					return err
				}
				c.printf("Version %s@%s registered (%s)\n", lib.Name, v.Version, v.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&gitRef, "git-ref", "", "branch, tag or commit to fetch (default: the version string)")
	add.Flags().StringVar(&docsPath, "docs-path", "", "directory holding the docs inside the source")
	add.Flags().StringVar(&releaseDate, "release-date", "", "release date, YYYY-MM-DD")
	add.Flags().BoolVar(&latest, "latest", false, "mark as the latest version")
	add.Flags().BoolVar(&lts, "lts", false, "mark as a long-term support version")

	list := &cobra.Command{
		Use:   "list LIBRARY",
		Short: "List the versions of a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(s *storage.Store) error {
				lib, err := s.GetLibraryByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				versions, err := s.ListVersions(cmd.Context(), lib.ID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tVERSION\tREF\tLATEST\tLTS\tSTATUS\tDOCS PATH")
				for _, v := range versions {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\t%s\n", v.ID, v.Version, v.Ref(), v.IsLatest, v.IsLTS, v.Status, v.DocsPath)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docsearch-mcp/internal/app"
	"github.com/bull/docsearch-mcp/internal/config"
	"github.com/bull/docsearch-mcp/internal/scheduler"
	"github.com/bull/docsearch-mcp/internal/search"
	"github.com/bull/docsearch-mcp/internal/storage"
	"github.com/bull/docsearch-mcp/internal/syncer"
)

func (c *cli) syncCmd() *cobra.Command {
	var versionID, library, version string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one library version from its source",
		Long: `Fetches the documentation of one library version, re-indexes changed
documents, and removes documents that disappeared from the source.

Select the version with --version-id, or with --library and an optional
--version (the latest version when omitted).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app.App) error {
				id := versionID
				if id == "" {
					if library == "" {
						return errors.New("either --version-id or --library is required")
					}
					var err error
					if id, err = search.ResolveVersion(ctx, a.Store, library, version); err != nil {
						return err
					}
				}
				return c.syncOne(ctx, a, id)
			})
		},
	}
	cmd.Flags().StringVar(&versionID, "version-id", "", "version id to sync")
	cmd.Flags().StringVar(&library, "library", "", "library name")
	cmd.Flags().StringVar(&version, "version", "", "library version (default: latest)")
	cmd.MarkFlagsMutuallyExclusive("version-id", "library")

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Sync every version of every GitHub library once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				s, err := scheduler.New(a.Store, a.Syncer, scheduler.Options{Logger: a.Logger})
				if err != nil {
					return err
				}
				c.printf("Syncing all GitHub libraries...\n\n")
				summary, err := s.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				c.printf("Sync complete!\n")
				c.printf("  Libraries: %d\n", summary.Libraries)
				c.printf("  Synced:    %d\n", summary.Synced)
				c.printf("  Skipped:   %d\n", summary.Skipped)
				c.printf("  Failed:    %d\n", summary.Failed)
				c.printf("  Rejected:  %d\n", summary.Rejected)
				c.printf("  Duration:  %s\n", summary.Duration.Round(time.Second))
				if summary.Failed > 0 {
					return fmt.Errorf("%d version(s) failed to sync", summary.Failed)
				}
				return nil
			})
		},
	})
	return cmd
}

func (c *cli) syncOne(ctx context.Context, a *app.App, versionID string) error {
	start := time.Now()
	c.printf("Syncing version %s...\n\n", versionID)

	h, err := a.Syncer.Sync(ctx, versionID)
	switch {
	case errors.Is(err, syncer.ErrSkipped):
		c.printf("Skipped: %v\n", err)
		return nil
	case errors.Is(err, syncer.ErrSyncInProgress):
		return fmt.Errorf("another sync of this version is running: %w", err)
	case h == nil:
		return err
	}

	c.printHistory(h)
	c.printf("\nTotal time: %s\n", time.Since(start).Round(time.Second))
	return err
}

func (c *cli) printHistory(h *storage.SyncHistory) {
	c.printf("Sync %s: %s\n", h.ID, h.Status)
	c.printf("  Seen:    %d\n", h.DocumentsSeen)
	c.printf("  Updated: %d\n", h.DocumentsUpdated)
	c.printf("  Skipped: %d\n", h.DocumentsSkipped)
	c.printf("  Failed:  %d\n", h.DocumentsFailed)
	if h.StartedAt != nil && h.FinishedAt != nil {
		c.printf("  Duration: %s\n", h.FinishedAt.Sub(*h.StartedAt).Round(time.Millisecond))
	}
	if h.ErrorDetail != "" {
		c.printf("  Error:\n    %s\n", h.ErrorDetail)
	}
}

func (c *cli) scheduleCmd() *cobra.Command {
	var spec string
	var force bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run scheduled syncs until interrupted",
		Long: `Runs the sync scheduler in the foreground. Each tick syncs every version
of every GitHub library, one at a time. Unless --force is given, a tick only
runs while SYNC_SCHEDULER_ENABLED is true; the variable is re-read at every tick.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app.App) error {
				if spec == "" {
					spec = a.Config.Scheduler.Spec
				}
				enabled := config.SchedulerEnabled
				if force {
					enabled = nil
				}
				s, err := scheduler.New(a.Store, a.Syncer, scheduler.Options{Spec: spec, Enabled: enabled, Logger: a.Logger})
				if err != nil {
					return err
				}
				if _, err := a.Syncer.RecoverStale(ctx, a.Config.Sync.StaleAfter); err != nil {
					a.Logger.Warn("Failed to recover stale syncs", "error", err)
				}
				if err := s.Start(ctx); err != nil {
					return err
				}
				c.printf("Scheduler running (%s). Press Ctrl+C to stop.\n", spec)
				<-ctx.Done()
				s.Stop()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "cron spec (default: SYNC_SCHEDULE)")
	cmd.Flags().BoolVar(&force, "force", false, "ignore SYNC_SCHEDULER_ENABLED")
	return cmd
}

// Package scheduler runs periodic syncs of every GitHub-hosted library.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bull/docsearch-mcp/internal/source"
	"github.com/bull/docsearch-mcp/internal/storage"
	"github.com/bull/docsearch-mcp/internal/syncer"
)

// DefaultSpec runs once a day at 03:00.
const DefaultSpec = "0 3 * * *"

// Syncer syncs one version.
type Syncer interface {
	Sync(ctx context.Context, versionID string) (*storage.SyncHistory, error)
}

// Catalog lists what there is to sync.
type Catalog interface {
	ListLibraries(ctx context.Context) ([]*storage.Library, error)
	ListVersions(ctx context.Context, libraryID string) ([]*storage.LibraryVersion, error)
}

// Options configures a Scheduler.
type Options struct {
	Spec string
	// Enabled is consulted at every tick. Nil means always enabled.
	Enabled func() bool
	Logger  *slog.Logger
}

// Summary counts the outcome of one run. Skipped includes non-GitHub
// libraries and libraries whose URL does not parse.
type Summary struct {
	Libraries int
	Synced    int
	Skipped   int
	Failed    int
	Rejected  int // Another sync of the version was already running.
	Duration  time.Duration
}

// Scheduler drives syncs on a cron schedule. Runs never overlap.
type Scheduler struct {
	catalog Catalog
	syncer  Syncer
	spec    string
	enabled func() bool
	logger  *slog.Logger
	cron    *cron.Cron
}

func New(catalog Catalog, s Syncer, opts Options) (*Scheduler, error) {
	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(opts.Spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Spec, err)
	}
	if opts.Enabled == nil {
		opts.Enabled = func() bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		catalog: catalog,
		syncer:  s,
		spec:    opts.Spec,
		enabled: opts.Enabled,
		logger:  opts.Logger,
	}, nil
}

// Start schedules ticks until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("Sync scheduler started", "spec", s.spec)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop prevents new ticks and waits for a running one to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Tick runs once if the feature flag allows it. A disabled tick does no I/O.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.enabled() {
		s.logger.Debug("Scheduled sync disabled, skipping tick")
		return
	}
	summary, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("Scheduled sync failed", "error", err)
		return
	}
	s.logger.Info("Scheduled sync finished",
		"libraries", summary.Libraries,
		"synced", summary.Synced,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"rejected", summary.Rejected,
		"duration", summary.Duration,
	)
}

// RunOnce syncs every version of every GitHub library, one at a time. Failures
// are contained per version; only a failure to list libraries is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	libs, err := s.catalog.ListLibraries(ctx)
	if err != nil {
		return sum, fmt.Errorf("list libraries: %w", err)
	}
	for _, lib := range libs {
		if ctx.Err() != nil {
			break
		}
		sum.Libraries++
		logger := s.logger.With("library", lib.Name)

		if lib.SourceType != storage.SourceGitHub {
			sum.Skipped++
			continue
		}
		if _, _, err := source.ParseGitHubURL(lib.SourceURL); err != nil {
			logger.Warn("Skipping library with unparsable GitHub URL", "url", lib.SourceURL)
			sum.Skipped++
			continue
		}

		versions, err := s.catalog.ListVersions(ctx, lib.ID)
		if err != nil {
			logger.Error("Failed to list versions", "error", err)
			sum.Failed++
			continue
		}
		for _, v := range versions {
			err := s.syncVersion(ctx, v.ID)
			switch {
			case err == nil:
				sum.Synced++
			case errors.Is(err, syncer.ErrSkipped):
				sum.Skipped++
			case errors.Is(err, syncer.ErrSyncInProgress):
				logger.Info("Sync already running, skipped", "version", v.Version)
				sum.Rejected++
			default:
				logger.Error("Version sync failed", "version", v.Version, "error", err)
				sum.Failed++
			}
		}
	}
	sum.Duration = time.Since(start)
	return sum, nil
}

// syncVersion turns a panic into an error so one version cannot stop the run.
func (s *Scheduler) syncVersion(ctx context.Context, versionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sync panicked", "version_id", versionID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("sync panicked: %v", r)
		}
	}()
	_, err = s.syncer.Sync(ctx, versionID)
	return err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}

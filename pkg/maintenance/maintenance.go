// Package maintenance runs the background upkeep jobs: scheduled memory
// consolidation, index freshness checks and change-driven re-indexing.
// Everything here is optional; the store works without a running
// maintenance service, just without the upkeep.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mnemo-ai/mnemo/internal/observability"
	"github.com/mnemo-ai/mnemo/internal/tracing"
	"github.com/mnemo-ai/mnemo/pkg/indexer"
	"github.com/mnemo-ai/mnemo/pkg/memstore"
)

// Config drives the maintenance schedule. Cron expressions use the
// standard five-field form; an empty expression disables that job.
type Config struct {
	ConsolidateExpr      string  // e.g. "0 3 * * *"
	ConsolidateThreshold float64 // similarity threshold passed to consolidation
	ReindexExpr          string  // e.g. "*/30 * * * *"
	WatchRoots           []string
}

// Service owns the cron schedule and the file watchers.
type Service struct {
	cfg    Config
	mems   *memstore.Store
	idx    *indexer.Indexer
	logger zerolog.Logger

	cron    *cron.Cron
	watcher *indexer.Watcher

	mu    sync.Mutex
	dirty map[string]bool
}

// New creates a maintenance service. Start must be called to begin
// running jobs.
func New(cfg Config, mems *memstore.Store, idx *indexer.Indexer, logger zerolog.Logger) *Service {
	if cfg.ConsolidateThreshold <= 0 {
		cfg.ConsolidateThreshold = memstore.DefaultSimilarityThreshold
	}
	return &Service{
		cfg:    cfg,
		mems:   mems,
		idx:    idx,
		logger: logger,
		dirty:  make(map[string]bool),
	}
}

// Start registers the cron jobs and the file watchers and begins
// running them. Returns after scheduling; jobs run on the cron's own
// goroutine.
func (s *Service) Start(ctx context.Context) error {
	s.cron = cron.New()

	if s.cfg.ConsolidateExpr != "" {
		if _, err := s.cron.AddFunc(s.cfg.ConsolidateExpr, func() { s.runConsolidate(ctx) }); err != nil {
			return err
		}
	}
	if s.cfg.ReindexExpr != "" && len(s.cfg.WatchRoots) > 0 {
		if _, err := s.cron.AddFunc(s.cfg.ReindexExpr, func() { s.runReindex(ctx) }); err != nil {
			return err
		}
	}

	if len(s.cfg.WatchRoots) > 0 {
		watcher, err := indexer.NewWatcher(s.logger, s.markAllDirty)
		if err != nil {
			return err
		}
		s.watcher = watcher
		for _, root := range s.cfg.WatchRoots {
			if err := watcher.Watch(root); err != nil {
				s.logger.Warn().Err(err).Str("root", root).Msg("Failed to watch project root")
			}
		}
	}

	s.cron.Start()
	s.logger.Info().
		Str("consolidate", s.cfg.ConsolidateExpr).
		Str("reindex", s.cfg.ReindexExpr).
		Int("watched_roots", len(s.cfg.WatchRoots)).
		Msg("Maintenance service started")
	return nil
}

// Stop halts the schedule and the watchers, waiting for a running job
// to finish.
func (s *Service) Stop() {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop file watcher")
		}
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Info().Msg("Maintenance service stopped")
}

func (s *Service) markAllDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, root := range s.cfg.WatchRoots {
		s.dirty[root] = true
	}
}

func (s *Service) takeDirty() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	roots := make([]string, 0, len(s.dirty))
	for root := range s.dirty {
		roots = append(roots, root)
	}
	s.dirty = make(map[string]bool)
	return roots
}

func (s *Service) runConsolidate(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.maintenance", "maintenance.consolidate")
	defer span.End()

	start := time.Now()
	merged, err := s.mems.Consolidate(ctx, s.cfg.ConsolidateThreshold)
	observability.RecordMaintenanceRun("consolidate", err == nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled consolidation failed")
		return
	}
	s.logger.Info().
		Int("merged", merged).
		Dur("took", time.Since(start)).
		Msg("Scheduled consolidation completed")
}

// runReindex re-indexes only roots the watcher has flagged since the
// last run; an idle tree costs nothing beyond the hash comparison.
func (s *Service) runReindex(ctx context.Context) {
	roots := s.takeDirty()
	if len(roots) == 0 {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "mnemo.maintenance", "maintenance.reindex")
	defer span.End()

	for _, root := range roots {
		result, err := s.idx.Index(ctx, root, false)
		observability.RecordMaintenanceRun("reindex", err == nil)
		if err != nil {
			s.logger.Error().Err(err).Str("root", root).Msg("Scheduled re-index failed")
			continue
		}
		s.logger.Info().
			Str("root", root).
			Int("indexed", result.FilesIndexed).
			Int("pruned", result.FilesPruned).
			Msg("Scheduled re-index completed")
	}
}

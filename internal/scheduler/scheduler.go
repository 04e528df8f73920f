package scheduler

import (
	"fmt"
	"log"

	"listing-aggregator/internal/cleanup"
	"listing-aggregator/internal/config"
	"listing-aggregator/internal/ingest"
	"listing-aggregator/internal/search"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the daily maintenance job: stale listing sweep, expired node
// cleanup and a full search reindex.
type Scheduler struct {
	cron      *cron.Cron
	resolver  *ingest.Resolver
	cleanup   *cleanup.Service
	search    *search.SearchClient
	config    *config.Config
	isRunning bool
}

// NewScheduler creates a new scheduler. search may be nil.
func NewScheduler(resolver *ingest.Resolver, cleanupSvc *cleanup.Service, searchClient *search.SearchClient, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		resolver: resolver,
		cleanup:  cleanupSvc,
		search:   searchClient,
		config:   cfg,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	if !s.config.Maintenance.DailyRunEnabled {
		log.Println("Scheduler: Daily run is disabled in configuration")
		return nil
	}

	cronSpec := s.parseDailyRunTime(s.config.Maintenance.DailyRunTime)

	_, err := s.cron.AddFunc(cronSpec, func() {
		log.Println("Scheduler: Starting daily maintenance job...")
		if err := s.runMaintenance(); err != nil {
			log.Printf("Scheduler: Daily maintenance failed: %v", err)
		} else {
			log.Println("Scheduler: Daily maintenance completed successfully")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.isRunning = true
	log.Printf("Scheduler: Started with daily run at %s (cron: %s)", s.config.Maintenance.DailyRunTime, cronSpec)

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	if s.isRunning {
		s.cron.Stop()
		s.isRunning = false
		log.Println("Scheduler: Stopped")
	}
}

// runMaintenance executes the daily maintenance routine
func (s *Scheduler) runMaintenance() error {
	delisted, err := s.resolver.SweepStale(s.config.Ingest.GetStaleAfter())
	if err != nil {
		return fmt.Errorf("stale sweep: %w", err)
	}
	log.Printf("Scheduler: Stale sweep delisted %d listings", delisted)

	result, err := s.cleanup.PhysicallyDelete(cleanup.CleanupConfig{
		RetentionDays:    s.config.Maintenance.RetentionDays,
		MaxDeletionCount: s.config.Maintenance.MaxDeletionCount,
	})
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	log.Printf("Scheduler: Cleanup deleted %d of %d expired entities", result.DeletedCount, result.TargetCount)

	if s.search != nil {
		indexed, err := s.search.ReindexAll()
		if err != nil {
			// Stale search is tolerable; the graph work above already ran.
			log.Printf("Scheduler: Search reindex failed: %v", err)
			return nil
		}
		log.Printf("Scheduler: Reindexed %d property documents", indexed)
	}

	return nil
}

// RunNow immediately executes the maintenance job (for manual trigger)
func (s *Scheduler) RunNow() error {
	log.Println("Scheduler: Manual trigger - starting maintenance job...")
	return s.runMaintenance()
}

// parseDailyRunTime converts HH:MM format to cron specification
// Example: "03:00" -> "0 3 * * *" (run at 3:00 AM every day)
func (s *Scheduler) parseDailyRunTime(timeStr string) string {
	var hour, minute int
	n, _ := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute)
	if n == 2 {
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}

	log.Printf("Scheduler: Failed to parse time '%s', using default 03:00", timeStr)
	return "0 3 * * *"
}

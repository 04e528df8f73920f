package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"listing-aggregator/internal/cleanup"
	"listing-aggregator/internal/ingest"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/scheduler"
	"listing-aggregator/internal/search"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AdminHandler handles admin-related requests
type AdminHandler struct {
	db             *gorm.DB
	scheduler      *scheduler.Scheduler
	cleanupService *cleanup.Service
	worker         *ingest.QueueWorker
	search         *search.SearchClient
}

// NewAdminHandler creates a new admin handler. scheduler, worker and search
// may be nil depending on deployment mode.
func NewAdminHandler(db *gorm.DB, sched *scheduler.Scheduler, cleanupSvc *cleanup.Service, worker *ingest.QueueWorker, searchClient *search.SearchClient) *AdminHandler {
	return &AdminHandler{
		db:             db,
		scheduler:      sched,
		cleanupService: cleanupSvc,
		worker:         worker,
		search:         searchClient,
	}
}

// GetStats returns system statistics
func (h *AdminHandler) GetStats(c *gin.Context) {
	stats := make(map[string]interface{})

	var activeListings, delistedListings int64
	h.db.Model(&models.Listing{}).Where("status = ?", models.ListingStatusActive).Count(&activeListings)
	h.db.Model(&models.Listing{}).Where("status = ?", models.ListingStatusDelisted).Count(&delistedListings)
	stats["listings"] = map[string]interface{}{
		"active":   activeListings,
		"delisted": delistedListings,
		"total":    activeListings + delistedListings,
	}

	var propertyCount, flaggedProperties int64
	h.db.Model(&models.Property{}).Count(&propertyCount)
	h.db.Model(&models.Property{}).Where("needs_review = ?", true).Count(&flaggedProperties)
	stats["properties"] = map[string]interface{}{
		"total":        propertyCount,
		"needs_review": flaggedProperties,
	}

	var activeBuildings, mergedBuildings, flaggedBuildings int64
	h.db.Model(&models.Building{}).Where("status = ?", models.BuildingStatusActive).Count(&activeBuildings)
	h.db.Model(&models.Building{}).Where("status = ?", models.BuildingStatusMerged).Count(&mergedBuildings)
	h.db.Model(&models.Building{}).Where("needs_review = ?", true).Count(&flaggedBuildings)
	stats["buildings"] = map[string]interface{}{
		"active":       activeBuildings,
		"merged":       mergedBuildings,
		"needs_review": flaggedBuildings,
	}

	var totalMerges, revertedMerges int64
	h.db.Model(&models.MergeHistoryEntry{}).Count(&totalMerges)
	h.db.Model(&models.MergeHistoryEntry{}).Where("reverted = ?", true).Count(&revertedMerges)
	stats["merges"] = map[string]interface{}{
		"total":    totalMerges,
		"reverted": revertedMerges,
	}

	// Intake activity (last 24 hours)
	last24h := time.Now().AddDate(0, 0, -1)
	var confirmedLast24h int64
	h.db.Model(&models.Listing{}).Where("last_confirmed_at >= ?", last24h).Count(&confirmedLast24h)
	stats["recent_activity"] = map[string]interface{}{
		"confirmed_last_24h": confirmedLast24h,
	}

	deleteStats, err := h.cleanupService.GetDeleteStats()
	if err != nil {
		log.Printf("Admin: Failed to get delete stats: %v", err)
	} else {
		stats["deletions"] = deleteStats
	}

	if h.worker != nil {
		stats["queue"] = h.worker.GetQueueStats()
	}
	if h.search != nil {
		stats["search"] = h.search.BreakerStatus()
	}

	c.JSON(http.StatusOK, stats)
}

// GetQueueStats returns ingest queue statistics
func (h *AdminHandler) GetQueueStats(c *gin.Context) {
	if h.worker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Queue worker not available"})
		return
	}
	c.JSON(http.StatusOK, h.worker.GetQueueStats())
}

// RunCleanup manually triggers physical deletion of expired emptied nodes.
// POST /api/admin/cleanup?dry_run=true&retention_days=90
func (h *AdminHandler) RunCleanup(c *gin.Context) {
	cfg := cleanup.DefaultCleanupConfig()
	cfg.DryRun, _ = strconv.ParseBool(c.DefaultQuery("dry_run", "false"))
	if days, err := strconv.Atoi(c.Query("retention_days")); err == nil && days > 0 {
		cfg.RetentionDays = days
	}

	result, err := h.cleanupService.PhysicallyDelete(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetDeleteLogs returns recent delete log entries
func (h *AdminHandler) GetDeleteLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := h.cleanupService.GetRecentDeleteLogs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"count": len(logs),
	})
}

// TriggerMaintenance manually runs the daily maintenance job.
// POST /api/admin/maintenance
func (h *AdminHandler) TriggerMaintenance(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Scheduler not available (MySQL/GORM required)",
		})
		return
	}

	log.Println("Admin: Manual maintenance trigger requested")

	// Run in goroutine to avoid blocking
	go func() {
		if err := h.scheduler.RunNow(); err != nil {
			log.Printf("Admin: Manual maintenance failed: %v", err)
		} else {
			log.Println("Admin: Manual maintenance completed successfully")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "maintenance started"})
}

// ReindexSearch rebuilds the full search projection.
// POST /api/admin/search/reindex
func (h *AdminHandler) ReindexSearch(c *gin.Context) {
	if h.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search not configured"})
		return
	}

	indexed, err := h.search.ReindexAll()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"indexed": indexed})
}

// SearchProperties queries the search index.
// GET /api/admin/search?q=...&limit=20
func (h *AdminHandler) SearchProperties(c *gin.Context) {
	if h.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search not configured"})
		return
	}

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	var filters []string
	if layout := c.Query("layout"); layout != "" {
		filters = append(filters, "layout = "+strconv.Quote(layout))
	}
	if minRent := c.Query("min_rent"); minRent != "" {
		filters = append(filters, "min_rent >= "+minRent)
	}
	if maxRent := c.Query("max_rent"); maxRent != "" {
		filters = append(filters, "max_rent <= "+maxRent)
	}

	result, err := h.search.Search(search.SearchRequest{
		Query:  c.Query("q"),
		Limit:  limit,
		Offset: offset,
		Filter: filters,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

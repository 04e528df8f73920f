package cleanup

import (
	"fmt"
	"log"
	"time"

	"listing-aggregator/internal/models"
	"listing-aggregator/internal/store"

	"gorm.io/gorm"
)

// Service handles physical deletion of emptied graph nodes. Nothing here
// decides what is deletable on its own: only properties and buildings already
// flagged for review, with zero children, past the retention window.
type Service struct {
	db    *gorm.DB
	store *store.Store
}

// NewService creates a new cleanup service
func NewService(db *gorm.DB, st *store.Store) *Service {
	return &Service{db: db, store: st}
}

// CleanupConfig holds configuration for cleanup operations
type CleanupConfig struct {
	RetentionDays    int  // Days an emptied node must stay flagged before physical deletion
	MaxDeletionCount int  // Maximum number of entities to delete in one run (safety limit)
	DryRun           bool // If true, only log what would be deleted without actually deleting
}

// DefaultCleanupConfig returns default configuration
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		RetentionDays:    90,
		MaxDeletionCount: 10000,
		DryRun:           false,
	}
}

// CleanupResult holds the result of a cleanup operation
type CleanupResult struct {
	TargetCount       int       `json:"target_count"`
	DeletedProperties []string  `json:"deleted_properties"`
	DeletedBuildings  []string  `json:"deleted_buildings"`
	DeletedCount      int       `json:"deleted_count"`
	SkippedCount      int       `json:"skipped_count"`
	ErrorCount        int       `json:"error_count"`
	DryRun            bool      `json:"dry_run"`
	ExecutedAt        time.Time `json:"executed_at"`
	Errors            []string  `json:"errors,omitempty"`
}

// findExpiredProperties finds flagged properties past retention. The child
// count is re-checked at delete time; the flag alone is only a hint.
func (s *Service) findExpiredProperties(retentionDays int) ([]models.Property, error) {
	var properties []models.Property
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	err := s.db.Where("needs_review = ? AND updated_at < ?", true, cutoff).Find(&properties).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired properties: %w", err)
	}
	return properties, nil
}

func (s *Service) findExpiredBuildings(retentionDays int) ([]models.Building, error) {
	var buildings []models.Building
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	err := s.db.Where("needs_review = ? AND updated_at < ?", true, cutoff).Find(&buildings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired buildings: %w", err)
	}
	return buildings, nil
}

// PhysicallyDelete removes expired emptied properties first, then buildings,
// so a building emptied by its last property's deletion is picked up on the
// next run rather than blocking this one.
func (s *Service) PhysicallyDelete(config CleanupConfig) (*CleanupResult, error) {
	result := &CleanupResult{
		DryRun:     config.DryRun,
		ExecutedAt: time.Now(),
	}

	expiredProperties, err := s.findExpiredProperties(config.RetentionDays)
	if err != nil {
		return nil, err
	}
	expiredBuildings, err := s.findExpiredBuildings(config.RetentionDays)
	if err != nil {
		return nil, err
	}

	result.TargetCount = len(expiredProperties) + len(expiredBuildings)
	if result.TargetCount == 0 {
		log.Println("Cleanup: nothing expired")
		return result, nil
	}

	if result.TargetCount > config.MaxDeletionCount {
		return nil, fmt.Errorf("safety check failed: %d entities exceed max deletion limit of %d",
			result.TargetCount, config.MaxDeletionCount)
	}

	log.Printf("Cleanup: %d properties, %d buildings expired (retention: %d days, dry-run: %v)",
		len(expiredProperties), len(expiredBuildings), config.RetentionDays, config.DryRun)

	for _, prop := range expiredProperties {
		if config.DryRun {
			log.Printf("Cleanup: [DRY-RUN] would delete property %s", prop.ID)
			result.DeletedProperties = append(result.DeletedProperties, prop.ID)
			result.DeletedCount++
			continue
		}
		if err := s.deleteProperty(&prop); err != nil {
			s.recordError(result, fmt.Sprintf("property %s: %v", prop.ID, err))
			continue
		}
		result.DeletedProperties = append(result.DeletedProperties, prop.ID)
		result.DeletedCount++
	}

	for _, building := range expiredBuildings {
		if config.DryRun {
			log.Printf("Cleanup: [DRY-RUN] would delete building %s", building.ID)
			result.DeletedBuildings = append(result.DeletedBuildings, building.ID)
			result.DeletedCount++
			continue
		}
		if err := s.deleteBuilding(&building); err != nil {
			s.recordError(result, fmt.Sprintf("building %s: %v", building.ID, err))
			continue
		}
		result.DeletedBuildings = append(result.DeletedBuildings, building.ID)
		result.DeletedCount++
	}

	log.Printf("Cleanup: completed %d/%d deleted, %d errors (dry-run: %v)",
		result.DeletedCount, result.TargetCount, result.ErrorCount, config.DryRun)
	return result, nil
}

// deleteProperty deletes one flagged property with its audit row. The store's
// child-count guard runs inside the same transaction, so a listing attached
// after flagging still blocks the deletion.
func (s *Service) deleteProperty(prop *models.Property) error {
	return s.store.WithLock(func(tx *gorm.DB) error {
		if err := tx.Create(&models.DeleteLog{
			EntityKind: "property",
			EntityID:   prop.ID,
			Name:       prop.DisplayBuildingName,
			FlaggedAt:  prop.UpdatedAt,
			Reason:     models.DeleteReasonExpired,
		}).Error; err != nil {
			return err
		}
		return store.DeletePropertyTx(tx, prop.ID)
	})
}

func (s *Service) deleteBuilding(building *models.Building) error {
	return s.store.WithLock(func(tx *gorm.DB) error {
		if err := tx.Create(&models.DeleteLog{
			EntityKind: "building",
			EntityID:   building.ID,
			Name:       building.NormalizedName,
			FlaggedAt:  building.UpdatedAt,
			Reason:     models.DeleteReasonExpired,
		}).Error; err != nil {
			return err
		}
		return store.DeleteBuildingTx(tx, building.ID)
	})
}

func (s *Service) recordError(result *CleanupResult, msg string) {
	log.Printf("Cleanup: ERROR: %s", msg)
	result.Errors = append(result.Errors, msg)
	result.ErrorCount++
}

// GetDeleteStats returns statistics about deleted entities
func (s *Service) GetDeleteStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalDeleted int64
	if err := s.db.Model(&models.DeleteLog{}).Count(&totalDeleted).Error; err != nil {
		return nil, err
	}
	stats["total_deleted"] = totalDeleted

	var reasonCounts []struct {
		Reason string
		Count  int64
	}
	if err := s.db.Model(&models.DeleteLog{}).
		Select("reason, count(*) as count").
		Group("reason").
		Scan(&reasonCounts).Error; err != nil {
		return nil, err
	}
	reasonMap := make(map[string]int64)
	for _, rc := range reasonCounts {
		reasonMap[rc.Reason] = rc.Count
	}
	stats["by_reason"] = reasonMap

	var recentDeleted int64
	thirtyDaysAgo := time.Now().AddDate(0, 0, -30)
	if err := s.db.Model(&models.DeleteLog{}).
		Where("deleted_at >= ?", thirtyDaysAgo).
		Count(&recentDeleted).Error; err != nil {
		return nil, err
	}
	stats["deleted_last_30_days"] = recentDeleted

	var flaggedProperties, flaggedBuildings int64
	if err := s.db.Model(&models.Property{}).Where("needs_review = ?", true).Count(&flaggedProperties).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Building{}).Where("needs_review = ?", true).Count(&flaggedBuildings).Error; err != nil {
		return nil, err
	}
	stats["flagged_properties"] = flaggedProperties
	stats["flagged_buildings"] = flaggedBuildings

	return stats, nil
}

// GetRecentDeleteLogs returns recent delete log entries
func (s *Service) GetRecentDeleteLogs(limit int) ([]models.DeleteLog, error) {
	var logs []models.DeleteLog
	err := s.db.Order("deleted_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

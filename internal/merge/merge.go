package merge

import (
	"errors"
	"fmt"
	"log"
	"time"

	"listing-aggregator/internal/models"
	"listing-aggregator/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrAlreadyReverted guards revert idempotency: a merge entry can be reverted
// at most once.
var ErrAlreadyReverted = errors.New("merge entry already reverted")

// Manager consolidates duplicate buildings with a revertible history. The
// merged-away building is kept as a redirect so that external-id lookups for
// it still resolve.
type Manager struct {
	db    *gorm.DB
	store *store.Store
}

// NewManager creates a merge manager sharing the store's database.
func NewManager(db *gorm.DB, st *store.Store) *Manager {
	return &Manager{db: db, store: st}
}

// MergeBuilding absorbs the source building into the target. The returned
// entry carries an immutable snapshot of the source's identity and its
// property set at merge time; RevertMerge restores exactly that snapshot.
func (m *Manager) MergeBuilding(sourceID, targetID, actor string) (*models.MergeHistoryEntry, error) {
	if sourceID == targetID {
		return nil, fmt.Errorf("cannot merge building %s into itself: %w", sourceID, store.ErrConflict)
	}

	var entry *models.MergeHistoryEntry
	err := m.store.WithLock(func(tx *gorm.DB) error {
		source, err := lockedBuilding(tx, sourceID)
		if err != nil {
			return err
		}
		target, err := lockedBuilding(tx, targetID)
		if err != nil {
			return err
		}
		if !source.IsActive() {
			return fmt.Errorf("building %s is already merged away: %w", sourceID, store.ErrConflict)
		}
		if !target.IsActive() {
			return fmt.Errorf("building %s is merged away: %w", targetID, store.ErrConflict)
		}

		var properties []models.Property
		if err := tx.Where("building_id = ?", sourceID).Order("id ASC").Find(&properties).Error; err != nil {
			return err
		}
		propertyIDs := make([]string, 0, len(properties))
		for _, p := range properties {
			propertyIDs = append(propertyIDs, p.ID)
		}

		entry = &models.MergeHistoryEntry{
			ID:               uuid.NewString(),
			SourceBuildingID: sourceID,
			TargetBuildingID: targetID,
			Actor:            actor,
		}
		if err := entry.SetSourceSnapshot(models.BuildingSnapshot{
			NormalizedName: source.NormalizedName,
			Address:        source.Address,
			TotalFloors:    source.TotalFloors,
			TotalUnits:     source.TotalUnits,
			BuiltYear:      source.BuiltYear,
		}); err != nil {
			return err
		}
		if err := entry.SetPropertyIDs(propertyIDs); err != nil {
			return err
		}

		// Reassign every property the source owns right now.
		for _, p := range properties {
			if err := store.AttachPropertyTx(tx, p.ID, targetID); err != nil {
				return err
			}
		}

		if err := m.moveAliases(tx, sourceID, targetID, entry.ID); err != nil {
			return err
		}

		// The source stays behind as a redirect, never deleted here.
		if err := tx.Model(&models.Building{}).Where("id = ?", sourceID).
			Updates(map[string]interface{}{
				"status":         models.BuildingStatusMerged,
				"merged_into_id": targetID,
				"needs_review":   false,
			}).Error; err != nil {
			return err
		}

		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Merge: building %s absorbed into %s by %s (%d properties)",
		sourceID, targetID, actor, entry.PropertyCount)
	return entry, nil
}

// moveAliases transfers the source's listing names and external ids to the
// target, tagging each moved row with the merge entry so revert can undo
// exactly this merge's additions. Names the target already knows stay on the
// source untouched.
func (m *Manager) moveAliases(tx *gorm.DB, sourceID, targetID, entryID string) error {
	var names []models.BuildingListingName
	if err := tx.Where("building_id = ?", sourceID).Find(&names).Error; err != nil {
		return err
	}
	for _, row := range names {
		var dup int64
		if err := tx.Model(&models.BuildingListingName{}).
			Where("building_id = ? AND name = ?", targetID, row.Name).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			continue
		}
		if err := tx.Model(&models.BuildingListingName{}).Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"building_id":    targetID,
				"merge_entry_id": entryID,
			}).Error; err != nil {
			return err
		}
	}

	return tx.Model(&models.BuildingExternalID{}).Where("building_id = ?", sourceID).
		Updates(map[string]interface{}{
			"building_id":    targetID,
			"merge_entry_id": entryID,
		}).Error
}

// RevertMerge is the exact inverse of a merge with respect to property
// ownership at merge time. Snapshotted properties still under the target move
// back; properties reassigned into or out of the target after the merge are
// untouched. Only alias rows this merge moved are rolled back.
func (m *Manager) RevertMerge(entryID, actor string) error {
	err := m.store.WithLock(func(tx *gorm.DB) error {
		var entry models.MergeHistoryEntry
		if err := tx.Where("id = ?", entryID).First(&entry).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("merge entry %s: %w", entryID, store.ErrNotFound)
			}
			return err
		}
		if entry.Reverted {
			return fmt.Errorf("merge entry %s: %w", entryID, ErrAlreadyReverted)
		}

		if err := m.restoreSourceBuilding(tx, &entry); err != nil {
			return err
		}

		propertyIDs, err := entry.GetPropertyIDs()
		if err != nil {
			return err
		}
		restored := 0
		for _, id := range propertyIDs {
			var property models.Property
			if err := tx.Where("id = ?", id).First(&property).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					continue // deleted since the merge
				}
				return err
			}
			// Moved independently since the merge; leave it where it is.
			if property.BuildingID != entry.TargetBuildingID {
				continue
			}
			if err := store.AttachPropertyTx(tx, id, entry.SourceBuildingID); err != nil {
				return err
			}
			restored++
		}

		if err := m.restoreAliases(tx, &entry); err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&models.MergeHistoryEntry{}).Where("id = ?", entryID).
			Updates(map[string]interface{}{
				"reverted":    true,
				"reverted_at": &now,
				"reverted_by": actor,
			}).Error; err != nil {
			return err
		}

		log.Printf("Merge: entry %s reverted by %s (%d of %d properties restored)",
			entryID, actor, restored, len(propertyIDs))
		return nil
	})
	return err
}

// restoreSourceBuilding brings the merged-away building back to life, or
// recreates it from the snapshot when an operator deleted the redirect row.
func (m *Manager) restoreSourceBuilding(tx *gorm.DB, entry *models.MergeHistoryEntry) error {
	snap, err := entry.GetSourceSnapshot()
	if err != nil {
		return err
	}

	var building models.Building
	result := tx.Where("id = ?", entry.SourceBuildingID).First(&building)
	if result.Error == gorm.ErrRecordNotFound {
		return tx.Create(&models.Building{
			ID:             entry.SourceBuildingID,
			NormalizedName: snap.NormalizedName,
			Address:        snap.Address,
			TotalFloors:    snap.TotalFloors,
			TotalUnits:     snap.TotalUnits,
			BuiltYear:      snap.BuiltYear,
			Status:         models.BuildingStatusActive,
		}).Error
	}
	if result.Error != nil {
		return result.Error
	}

	return tx.Model(&models.Building{}).Where("id = ?", entry.SourceBuildingID).
		Updates(map[string]interface{}{
			"status":          models.BuildingStatusActive,
			"merged_into_id":  "",
			"normalized_name": snap.NormalizedName,
			"address":         snap.Address,
			"total_floors":    snap.TotalFloors,
			"total_units":     snap.TotalUnits,
			"built_year":      snap.BuiltYear,
		}).Error
}

func (m *Manager) restoreAliases(tx *gorm.DB, entry *models.MergeHistoryEntry) error {
	if err := tx.Model(&models.BuildingListingName{}).
		Where("merge_entry_id = ?", entry.ID).
		Updates(map[string]interface{}{
			"building_id":    entry.SourceBuildingID,
			"merge_entry_id": "",
		}).Error; err != nil {
		return err
	}
	return tx.Model(&models.BuildingExternalID{}).
		Where("merge_entry_id = ?", entry.ID).
		Updates(map[string]interface{}{
			"building_id":    entry.SourceBuildingID,
			"merge_entry_id": "",
		}).Error
}

// GetEntry retrieves a merge history entry by id.
func (m *Manager) GetEntry(entryID string) (*models.MergeHistoryEntry, error) {
	var entry models.MergeHistoryEntry
	if err := m.db.Where("id = ?", entryID).First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("merge entry %s: %w", entryID, store.ErrNotFound)
		}
		return nil, err
	}
	return &entry, nil
}

// RecentEntries lists merge history entries, newest first.
func (m *Manager) RecentEntries(limit int) ([]models.MergeHistoryEntry, error) {
	var entries []models.MergeHistoryEntry
	q := m.db.Order("merged_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, err
}

func lockedBuilding(tx *gorm.DB, id string) (*models.Building, error) {
	var building models.Building
	if err := tx.Where("id = ?", id).First(&building).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("building %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	return &building, nil
}

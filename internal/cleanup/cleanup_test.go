package cleanup

import (
	"errors"
	"testing"
	"time"

	"listing-aggregator/internal/models"
	"listing-aggregator/internal/store"
	"listing-aggregator/internal/testutil"

	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *store.Store, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	st := store.New(db)
	return NewService(db, st), st, db
}

func flaggedProperty(t *testing.T, st *store.Store, db *gorm.DB, buildingID, room string, age time.Duration) *models.Property {
	t.Helper()
	property, err := st.CreateProperty(store.PropertyAttributes{RoomNumber: room}, buildingID)
	if err != nil {
		t.Fatalf("CreateProperty: %v", err)
	}
	// UpdateColumns bypasses the autoUpdateTime hook so the flag can be aged.
	if err := db.Model(&models.Property{}).Where("id = ?", property.ID).
		UpdateColumns(map[string]interface{}{
			"needs_review": true,
			"updated_at":   time.Now().Add(-age),
		}).Error; err != nil {
		t.Fatalf("flag property: %v", err)
	}
	return property
}

func TestPhysicallyDeleteExpiredProperty(t *testing.T) {
	svc, st, db := newTestService(t)
	building, err := st.CreateBuilding(store.BuildingAttributes{Name: "ビル"})
	if err != nil {
		t.Fatal(err)
	}
	expired := flaggedProperty(t, st, db, building.ID, "101", 100*24*time.Hour)
	recent := flaggedProperty(t, st, db, building.ID, "102", 10*24*time.Hour)

	result, err := svc.PhysicallyDelete(CleanupConfig{RetentionDays: 90, MaxDeletionCount: 100})
	if err != nil {
		t.Fatalf("PhysicallyDelete: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Errorf("deleted = %d, want 1", result.DeletedCount)
	}
	if _, err := st.GetProperty(expired.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired property still present: %v", err)
	}
	// Still inside the retention window.
	if _, err := st.GetProperty(recent.ID); err != nil {
		t.Errorf("recent property must survive: %v", err)
	}

	// Every physical deletion leaves an audit row.
	var logRow models.DeleteLog
	if err := db.Where("entity_id = ?", expired.ID).First(&logRow).Error; err != nil {
		t.Fatalf("delete log lookup: %v", err)
	}
	if logRow.EntityKind != "property" || logRow.Reason != models.DeleteReasonExpired {
		t.Errorf("delete log = kind %q reason %q", logRow.EntityKind, logRow.Reason)
	}
}

func TestDryRunDeletesNothing(t *testing.T) {
	svc, st, db := newTestService(t)
	building, err := st.CreateBuilding(store.BuildingAttributes{Name: "ビル"})
	if err != nil {
		t.Fatal(err)
	}
	expired := flaggedProperty(t, st, db, building.ID, "101", 100*24*time.Hour)

	result, err := svc.PhysicallyDelete(CleanupConfig{RetentionDays: 90, MaxDeletionCount: 100, DryRun: true})
	if err != nil {
		t.Fatalf("PhysicallyDelete: %v", err)
	}
	if result.DeletedCount != 1 || !result.DryRun {
		t.Errorf("result = %+v", result)
	}
	if _, err := st.GetProperty(expired.ID); err != nil {
		t.Errorf("dry run must not delete: %v", err)
	}
	var logs int64
	db.Model(&models.DeleteLog{}).Count(&logs)
	if logs != 0 {
		t.Errorf("dry run wrote %d audit rows", logs)
	}
}

func TestReattachedChildBlocksDeletion(t *testing.T) {
	svc, st, db := newTestService(t)
	building, err := st.CreateBuilding(store.BuildingAttributes{Name: "ビル"})
	if err != nil {
		t.Fatal(err)
	}
	property := flaggedProperty(t, st, db, building.ID, "101", 100*24*time.Hour)

	// A listing attached after the flag went up. The flag is stale now; the
	// in-transaction child count must catch it.
	now := time.Now()
	if err := db.Create(&models.Listing{
		ID:              store.ListingID("suumo", "P-1", "https://example.com/p1"),
		SourceSite:      "suumo",
		SitePropertyID:  "P-1",
		URL:             "https://example.com/p1",
		PropertyID:      property.ID,
		Status:          models.ListingStatusActive,
		FirstSeenAt:     now,
		LastConfirmedAt: now,
	}).Error; err != nil {
		t.Fatal(err)
	}

	result, err := svc.PhysicallyDelete(CleanupConfig{RetentionDays: 90, MaxDeletionCount: 100})
	if err != nil {
		t.Fatalf("PhysicallyDelete: %v", err)
	}
	if result.ErrorCount != 1 {
		t.Errorf("errors = %d, want 1", result.ErrorCount)
	}
	if _, err := st.GetProperty(property.ID); err != nil {
		t.Errorf("property with a listing must survive: %v", err)
	}
	// The failed attempt's audit row rolled back with the transaction.
	var logs int64
	db.Model(&models.DeleteLog{}).Count(&logs)
	if logs != 0 {
		t.Errorf("audit rows = %d, want 0", logs)
	}
}

func TestSafetyLimitAborts(t *testing.T) {
	svc, st, db := newTestService(t)
	building, err := st.CreateBuilding(store.BuildingAttributes{Name: "ビル"})
	if err != nil {
		t.Fatal(err)
	}
	for _, room := range []string{"101", "102", "103"} {
		flaggedProperty(t, st, db, building.ID, room, 100*24*time.Hour)
	}

	if _, err := svc.PhysicallyDelete(CleanupConfig{RetentionDays: 90, MaxDeletionCount: 2}); err == nil {
		t.Error("expected the safety check to abort the run")
	}

	var count int64
	db.Model(&models.Property{}).Count(&count)
	if count != 3 {
		t.Errorf("property count = %d, want 3 untouched", count)
	}
}

func TestDeleteStats(t *testing.T) {
	svc, st, db := newTestService(t)
	building, err := st.CreateBuilding(store.BuildingAttributes{Name: "ビル"})
	if err != nil {
		t.Fatal(err)
	}
	flaggedProperty(t, st, db, building.ID, "101", 100*24*time.Hour)

	if _, err := svc.PhysicallyDelete(CleanupConfig{RetentionDays: 90, MaxDeletionCount: 100}); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.GetDeleteStats()
	if err != nil {
		t.Fatalf("GetDeleteStats: %v", err)
	}
	if stats["total_deleted"].(int64) != 1 {
		t.Errorf("total_deleted = %v, want 1", stats["total_deleted"])
	}
	byReason := stats["by_reason"].(map[string]int64)
	if byReason[string(models.DeleteReasonExpired)] != 1 {
		t.Errorf("by_reason = %v", byReason)
	}
}

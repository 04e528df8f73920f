package ingest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"listing-aggregator/internal/history"
	"listing-aggregator/internal/matching"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/store"
	"listing-aggregator/internal/testutil"

	"gorm.io/gorm"
)

func newTestResolver(t *testing.T, threshold float64) (*Resolver, *store.Store, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	st := store.New(db)
	scorer := matching.NewScorer(matching.DefaultWeights(), threshold, 10)
	return NewResolver(db, st, scorer, history.NewService(db), nil), st, db
}

func baseObservation(site, siteID string) *RawObservation {
	return &RawObservation{
		SourceSite:     site,
		SitePropertyID: siteID,
		URL:            "https://" + site + ".example.com/" + siteID,
		BuildingName:   "メゾン青山",
		RoomNumber:     "301号室",
		FloorNumber:    testutil.IntPtr(3),
		AreaText:       "42.3㎡",
		Layout:         "1LDK",
		Direction:      "南",
		Rent:           testutil.IntPtr(120000),
		ManagementFee:  testutil.IntPtr(8000),
	}
}

func TestProcessObservationCreatesGraph(t *testing.T) {
	r, st, db := newTestResolver(t, 70)

	obs := baseObservation("suumo", "P-1")
	obs.SiteBuildingID = "B-1"
	if err := r.ProcessObservation(obs); err != nil {
		t.Fatalf("ProcessObservation: %v", err)
	}

	listingID := store.ListingID(obs.SourceSite, obs.SitePropertyID, obs.URL)
	listing, err := st.GetListing(listingID)
	if err != nil {
		t.Fatalf("listing lookup: %v", err)
	}
	if listing.RoomNumber != "301" || listing.Layout != "1LDK" {
		t.Errorf("normalized snapshot = room %q layout %q", listing.RoomNumber, listing.Layout)
	}
	if listing.Area == nil || *listing.Area != 42.3 {
		t.Errorf("area = %v, want 42.3", listing.Area)
	}

	property, err := st.GetProperty(listing.PropertyID)
	if err != nil {
		t.Fatalf("property lookup: %v", err)
	}
	building, err := st.GetBuilding(property.BuildingID)
	if err != nil {
		t.Fatalf("building lookup: %v", err)
	}
	if !building.IsActive() {
		t.Error("new building must be active")
	}

	// The observed name and external id are recorded as aliases.
	names, keys, _ := st.BuildingAliases(building.ID)
	if len(names) != 1 || names[0] != "メゾン青山" {
		t.Errorf("alias names = %v", names)
	}
	if len(keys) != 1 || keys[0] != "suumo:B-1" {
		t.Errorf("external keys = %v", keys)
	}

	// First observation opens the price series.
	var points int64
	db.Model(&models.ListingPricePoint{}).Where("listing_id = ?", listingID).Count(&points)
	if points != 1 {
		t.Errorf("price points = %d, want 1", points)
	}
}

func TestReobservationReconfirms(t *testing.T) {
	r, st, db := newTestResolver(t, 70)

	obs := baseObservation("suumo", "P-1")
	if err := r.ProcessObservation(obs); err != nil {
		t.Fatalf("first observation: %v", err)
	}
	listingID := store.ListingID(obs.SourceSite, obs.SitePropertyID, obs.URL)

	// Delist, then observe again with a new rent.
	now := time.Now()
	db.Model(&models.Listing{}).Where("id = ?", listingID).
		Updates(map[string]interface{}{
			"status":      models.ListingStatusDelisted,
			"delisted_at": &now,
		})

	obs.Rent = testutil.IntPtr(118000)
	if err := r.ProcessObservation(obs); err != nil {
		t.Fatalf("second observation: %v", err)
	}

	var count int64
	db.Model(&models.Listing{}).Count(&count)
	if count != 1 {
		t.Fatalf("listing count = %d, want 1", count)
	}

	listing, _ := st.GetListing(listingID)
	if !listing.IsActive() {
		t.Error("re-observed listing must come back active")
	}
	if listing.DelistedAt != nil {
		t.Error("delisted_at must be cleared")
	}
	if listing.Rent == nil || *listing.Rent != 118000 {
		t.Errorf("rent = %v, want 118000", listing.Rent)
	}

	// The price change appends a second point.
	var points int64
	db.Model(&models.ListingPricePoint{}).Where("listing_id = ?", listingID).Count(&points)
	if points != 2 {
		t.Errorf("price points = %d, want 2", points)
	}

	// Re-observation counts the building name again.
	var nameRow models.BuildingListingName
	if err := db.Where("name = ?", obs.BuildingName).First(&nameRow).Error; err != nil {
		t.Fatalf("listing name lookup: %v", err)
	}
	if nameRow.Occurrences != 2 {
		t.Errorf("occurrences = %d, want 2", nameRow.Occurrences)
	}
}

func TestExternalIDGroupsUnits(t *testing.T) {
	r, st, db := newTestResolver(t, 70)

	first := baseObservation("suumo", "P-1")
	first.SiteBuildingID = "B-1"
	if err := r.ProcessObservation(first); err != nil {
		t.Fatalf("first: %v", err)
	}

	// A different unit in the same site building. The name alone would not
	// clear the confidence bar, the external id resolves it exactly.
	second := baseObservation("suumo", "P-2")
	second.SiteBuildingID = "B-1"
	second.RoomNumber = "502"
	second.FloorNumber = testutil.IntPtr(5)
	second.Layout = "2DK"
	second.AreaText = "55.0㎡"
	if err := r.ProcessObservation(second); err != nil {
		t.Fatalf("second: %v", err)
	}

	var buildings int64
	db.Model(&models.Building{}).Count(&buildings)
	if buildings != 1 {
		t.Errorf("building count = %d, want 1", buildings)
	}

	building, _ := st.FindBuildingByExternalID("suumo", "B-1")
	properties, _ := st.PropertiesOfBuilding(building.ID)
	if len(properties) != 2 {
		t.Errorf("property count = %d, want 2", len(properties))
	}
}

func TestCrossSiteListingsCollapse(t *testing.T) {
	// A lower confidence bar lets name plus recorded alias carry the
	// building match without a site building id.
	r, _, db := newTestResolver(t, 50)

	if err := r.ProcessObservation(baseObservation("suumo", "P-1")); err != nil {
		t.Fatalf("suumo observation: %v", err)
	}
	if err := r.ProcessObservation(baseObservation("homes", "H-9")); err != nil {
		t.Fatalf("homes observation: %v", err)
	}

	var buildings, properties, listings int64
	db.Model(&models.Building{}).Count(&buildings)
	db.Model(&models.Property{}).Count(&properties)
	db.Model(&models.Listing{}).Count(&listings)

	if buildings != 1 {
		t.Errorf("building count = %d, want 1", buildings)
	}
	if properties != 1 {
		t.Errorf("property count = %d, want 1", properties)
	}
	if listings != 2 {
		t.Errorf("listing count = %d, want 2", listings)
	}
}

func TestDissimilarUnitsStaySeparate(t *testing.T) {
	r, _, db := newTestResolver(t, 50)

	if err := r.ProcessObservation(baseObservation("suumo", "P-1")); err != nil {
		t.Fatalf("first: %v", err)
	}

	other := baseObservation("suumo", "P-2")
	other.RoomNumber = "801"
	other.FloorNumber = testutil.IntPtr(8)
	other.Layout = "3LDK"
	other.AreaText = "72.0㎡"
	if err := r.ProcessObservation(other); err != nil {
		t.Fatalf("second: %v", err)
	}

	var buildings, properties int64
	db.Model(&models.Building{}).Count(&buildings)
	db.Model(&models.Property{}).Count(&properties)
	if buildings != 1 {
		t.Errorf("building count = %d, want 1", buildings)
	}
	if properties != 2 {
		t.Errorf("property count = %d, want 2", properties)
	}
}

func TestMissingIdentityRejected(t *testing.T) {
	r, _, db := newTestResolver(t, 70)

	obs := baseObservation("suumo", "P-1")
	obs.URL = ""
	if err := r.ProcessObservation(obs); !errors.Is(err, ErrBadObservation) {
		t.Errorf("ProcessObservation: expected ErrBadObservation, got %v", err)
	}

	w := NewQueueWorker(db, r, time.Second)
	if _, err := w.Enqueue(obs); !errors.Is(err, ErrBadObservation) {
		t.Errorf("Enqueue: expected ErrBadObservation, got %v", err)
	}
}

func TestSweepStale(t *testing.T) {
	r, st, db := newTestResolver(t, 70)

	fresh := baseObservation("suumo", "P-1")
	stale := baseObservation("suumo", "P-2")
	stale.RoomNumber = "401"
	if err := r.ProcessObservation(fresh); err != nil {
		t.Fatal(err)
	}
	if err := r.ProcessObservation(stale); err != nil {
		t.Fatal(err)
	}

	staleID := store.ListingID(stale.SourceSite, stale.SitePropertyID, stale.URL)
	old := time.Now().Add(-10 * 24 * time.Hour)
	db.Model(&models.Listing{}).Where("id = ?", staleID).
		Update("last_confirmed_at", old)

	n, err := r.SweepStale(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if n != 1 {
		t.Errorf("delisted = %d, want 1", n)
	}

	swept, _ := st.GetListing(staleID)
	if swept.IsActive() || swept.DelistedAt == nil {
		t.Error("stale listing must be delisted with a timestamp")
	}
	freshListing, _ := st.GetListing(store.ListingID(fresh.SourceSite, fresh.SitePropertyID, fresh.URL))
	if !freshListing.IsActive() {
		t.Error("fresh listing must stay active")
	}
}

func TestWorkerProcessesQueue(t *testing.T) {
	r, st, db := newTestResolver(t, 70)
	w := NewQueueWorker(db, r, time.Second)

	id, err := w.Enqueue(baseObservation("suumo", "P-1"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w.processNextBatch()

	var item models.IngestQueue
	if err := db.First(&item, id).Error; err != nil {
		t.Fatalf("queue item lookup: %v", err)
	}
	if item.Status != models.QueueStatusDone {
		t.Errorf("status = %s, want done", item.Status)
	}
	if item.CompletedAt == nil {
		t.Error("completed_at must be set")
	}

	obs := baseObservation("suumo", "P-1")
	if _, err := st.GetListing(store.ListingID(obs.SourceSite, obs.SitePropertyID, obs.URL)); err != nil {
		t.Errorf("resolved listing missing: %v", err)
	}
}

func TestWorkerBadPayloadPermanentFail(t *testing.T) {
	r, _, db := newTestResolver(t, 70)
	w := NewQueueWorker(db, r, time.Second)

	item := &models.IngestQueue{
		SourceSite:     "suumo",
		SitePropertyID: "P-1",
		URL:            "https://example.com/p1",
		Payload:        "{not json",
		Status:         models.QueueStatusPending,
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed queue item: %v", err)
	}

	w.processNextBatch()

	var after models.IngestQueue
	db.First(&after, item.ID)
	if after.Status != models.QueueStatusPermanentFail {
		t.Errorf("status = %s, want permanent_fail", after.Status)
	}
	if after.NextRetryAt != nil {
		t.Error("unparseable payloads must never be retried")
	}
}

func TestWorkerRetryBackoff(t *testing.T) {
	r, _, db := newTestResolver(t, 70)
	w := NewQueueWorker(db, r, time.Second)

	item := &models.IngestQueue{
		SourceSite:     "suumo",
		SitePropertyID: "P-1",
		URL:            "https://example.com/p1",
		Status:         models.QueueStatusProcessing,
		Attempts:       1,
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatal(err)
	}

	w.handleError(item, errors.New("database unavailable"))

	if item.Status != models.QueueStatusFailed {
		t.Errorf("status = %s, want failed", item.Status)
	}
	if item.NextRetryAt == nil {
		t.Fatal("next_retry_at must be scheduled")
	}
	delay := time.Until(*item.NextRetryAt)
	if delay < 30*time.Second || delay > 90*time.Second {
		t.Errorf("first retry delay = %v, want about 1m", delay)
	}

	// At the attempt cap the item fails permanently.
	item.Attempts = models.MaxRetryAttempts
	w.handleError(item, errors.New("database unavailable"))
	if item.Status != models.QueueStatusPermanentFail {
		t.Errorf("status = %s, want permanent_fail", item.Status)
	}
}

func TestWorkerStartStopReportsRunning(t *testing.T) {
	r, _, db := newTestResolver(t, 70)
	w := NewQueueWorker(db, r, time.Hour)

	if w.GetQueueStats()["is_running"].(bool) {
		t.Error("worker must report stopped before Start")
	}

	w.Start()

	// Stats are read from handler goroutines while the worker runs.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				w.GetQueueStats()
			}
		}()
	}

	if !w.GetQueueStats()["is_running"].(bool) {
		t.Error("worker must report running after Start")
	}

	w.Stop()
	wg.Wait()

	if w.GetQueueStats()["is_running"].(bool) {
		t.Error("worker must report stopped after Stop")
	}

	// A second Stop returns without closing the channel again.
	w.Stop()
}

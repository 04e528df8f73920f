package reassign

import (
	"errors"
	"sync"
	"testing"
	"time"

	"listing-aggregator/internal/matching"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/store"
	"listing-aggregator/internal/testutil"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	st := store.New(testutil.NewTestDB(t))
	scorer := matching.NewScorer(matching.DefaultWeights(), 70, 10)
	return New(st, scorer), st
}

func makeBuilding(t *testing.T, st *store.Store, name string) *models.Building {
	t.Helper()
	building, err := st.CreateBuilding(store.BuildingAttributes{Name: name})
	if err != nil {
		t.Fatalf("CreateBuilding(%q): %v", name, err)
	}
	return building
}

func makeProperty(t *testing.T, st *store.Store, buildingID string, attrs store.PropertyAttributes) *models.Property {
	t.Helper()
	property, err := st.CreateProperty(attrs, buildingID)
	if err != nil {
		t.Fatalf("CreateProperty: %v", err)
	}
	return property
}

func makeListing(t *testing.T, st *store.Store, propertyID, site, siteID, buildingName string) *models.Listing {
	t.Helper()
	now := time.Now()
	listing := &models.Listing{
		ID:               store.ListingID(site, siteID, "https://example.com/"+siteID),
		SourceSite:       site,
		SitePropertyID:   siteID,
		URL:              "https://example.com/" + siteID,
		PropertyID:       propertyID,
		BuildingNameText: buildingName,
		FloorNumber:      testutil.IntPtr(5),
		Area:             testutil.Float64Ptr(42.3),
		Layout:           "1LDK",
		Status:           models.ListingStatusActive,
		FirstSeenAt:      now,
		LastConfirmedAt:  now,
	}
	if err := st.DB().Create(listing).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return listing
}

// unitAttrs are attributes close enough to the seeded listings to score well.
func unitAttrs(room string) store.PropertyAttributes {
	return store.PropertyAttributes{
		RoomNumber:  room,
		FloorNumber: testutil.IntPtr(5),
		Area:        testutil.Float64Ptr(42.3),
		Layout:      "1LDK",
	}
}

func TestListingDetachFlow(t *testing.T) {
	o, st := newTestOrchestrator(t)
	building := makeBuilding(t, st, "メゾン青山")
	propA := makeProperty(t, st, building.ID, unitAttrs("101"))
	propB := makeProperty(t, st, building.ID, unitAttrs("102"))
	listing := makeListing(t, st, propA.ID, "suumo", "L-1", "メゾン青山")

	offer, err := o.RequestDetach(listing.ID, KindListing)
	if err != nil {
		t.Fatalf("RequestDetach: %v", err)
	}
	if offer.SourceKind != KindListing {
		t.Errorf("source kind = %s", offer.SourceKind)
	}
	found := false
	for _, c := range offer.Candidates {
		if c.TargetID == propA.ID {
			t.Error("current parent must not be re-offered")
		}
		if c.TargetID == propB.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("sibling property not among candidates: %+v", offer.Candidates)
	}

	if state, ok := o.SessionState(listing.ID, KindListing); !ok || state != StateCandidatesOffered {
		t.Errorf("session state = %v %v, want candidates_offered", state, ok)
	}

	if err := o.Confirm(listing.ID, KindListing, Choice{ExistingTargetID: propB.ID}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	result, err := o.Apply(listing.ID, KindListing, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.NewParentID != propB.ID || result.CreatedNew || result.AncestorDeleted {
		t.Errorf("result = %+v", result)
	}

	moved, _ := st.GetListing(listing.ID)
	if moved.PropertyID != propB.ID {
		t.Errorf("listing under %s, want %s", moved.PropertyID, propB.ID)
	}
	// The emptied old parent survives, flagged for review.
	old, _ := st.GetProperty(propA.ID)
	if !old.NeedsReview {
		t.Error("emptied old parent should be flagged")
	}

	// The session is consumed; a second apply conflicts.
	if _, err := o.Apply(listing.ID, KindListing, false); !errors.Is(err, store.ErrConflict) {
		t.Errorf("replayed apply: expected ErrConflict, got %v", err)
	}
}

func TestListingDetachDeletesEmptiedAncestor(t *testing.T) {
	o, st := newTestOrchestrator(t)
	building := makeBuilding(t, st, "メゾン青山")
	propA := makeProperty(t, st, building.ID, unitAttrs("101"))
	propB := makeProperty(t, st, building.ID, unitAttrs("102"))
	listing := makeListing(t, st, propA.ID, "suumo", "L-1", "メゾン青山")

	if _, err := o.RequestDetach(listing.ID, KindListing); err != nil {
		t.Fatalf("RequestDetach: %v", err)
	}
	if err := o.Confirm(listing.ID, KindListing, Choice{ExistingTargetID: propB.ID}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	result, err := o.Apply(listing.ID, KindListing, true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.AncestorDeleted {
		t.Error("expected emptied old parent to be deleted")
	}
	if _, err := st.GetProperty(propA.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old parent still present: %v", err)
	}
}

func TestListingDetachKeepsNonEmptyAncestor(t *testing.T) {
	o, st := newTestOrchestrator(t)
	building := makeBuilding(t, st, "メゾン青山")
	propA := makeProperty(t, st, building.ID, unitAttrs("101"))
	propB := makeProperty(t, st, building.ID, unitAttrs("102"))
	listing := makeListing(t, st, propA.ID, "suumo", "L-1", "メゾン青山")
	makeListing(t, st, propA.ID, "homes", "L-2", "メゾン青山")

	if _, err := o.RequestDetach(listing.ID, KindListing); err != nil {
		t.Fatal(err)
	}
	if err := o.Confirm(listing.ID, KindListing, Choice{ExistingTargetID: propB.ID}); err != nil {
		t.Fatal(err)
	}

	result, err := o.Apply(listing.ID, KindListing, true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.AncestorDeleted {
		t.Error("old parent still has a listing and must survive")
	}
	if _, err := st.GetProperty(propA.ID); err != nil {
		t.Errorf("old parent gone: %v", err)
	}
}

func TestListingDetachCreateNew(t *testing.T) {
	o, st := newTestOrchestrator(t)
	building := makeBuilding(t, st, "メゾン青山")
	propA := makeProperty(t, st, building.ID, unitAttrs("101"))
	listing := makeListing(t, st, propA.ID, "suumo", "L-1", "メゾン青山")
	makeListing(t, st, propA.ID, "homes", "L-2", "メゾン青山")

	if _, err := o.RequestDetach(listing.ID, KindListing); err != nil {
		t.Fatal(err)
	}

	// create_new without attributes is rejected.
	if err := o.Confirm(listing.ID, KindListing, Choice{CreateNew: true}); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("expected ErrInvalidChoice, got %v", err)
	}

	attrs := unitAttrs("101B")
	if err := o.Confirm(listing.ID, KindListing, Choice{CreateNew: true, NewProperty: &attrs}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	result, err := o.Apply(listing.ID, KindListing, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.CreatedNew {
		t.Error("expected a new property")
	}

	created, err := st.GetProperty(result.NewParentID)
	if err != nil {
		t.Fatalf("created property lookup: %v", err)
	}
	// A detached listing's new property stays in the listing's building.
	if created.BuildingID != building.ID {
		t.Errorf("new property under %s, want %s", created.BuildingID, building.ID)
	}
	moved, _ := st.GetListing(listing.ID)
	if moved.PropertyID != created.ID {
		t.Errorf("listing under %s, want %s", moved.PropertyID, created.ID)
	}
}

func TestListingDetachCreateNewDedupes(t *testing.T) {
	o, st := newTestOrchestrator(t)
	building := makeBuilding(t, st, "メゾン青山")
	propA := makeProperty(t, st, building.ID, unitAttrs("101"))
	propB := makeProperty(t, st, building.ID, unitAttrs("102"))
	listing := makeListing(t, st, propA.ID, "suumo", "L-1", "メゾン青山")
	makeListing(t, st, propA.ID, "homes", "L-2", "メゾン青山")

	if _, err := o.RequestDetach(listing.ID, KindListing); err != nil {
		t.Fatal(err)
	}

	// Attributes that hash to an already-existing sibling.
	attrs := unitAttrs("102")
	if err := o.Confirm(listing.ID, KindListing, Choice{CreateNew: true, NewProperty: &attrs}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	result, err := o.Apply(listing.ID, KindListing, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.CreatedNew {
		t.Error("deduplicated create must not be reported as a creation")
	}
	if result.NewParentID != propB.ID {
		t.Errorf("new parent = %s, want existing %s", result.NewParentID, propB.ID)
	}

	var count int64
	st.DB().Model(&models.Property{}).Where("building_id = ?", building.ID).Count(&count)
	if count != 2 {
		t.Errorf("property count = %d, want 2", count)
	}
}

func TestConfirmRejectsUnofferedTarget(t *testing.T) {
	o, st := newTestOrchestrator(t)
	building := makeBuilding(t, st, "メゾン青山")
	propA := makeProperty(t, st, building.ID, unitAttrs("101"))
	makeProperty(t, st, building.ID, unitAttrs("102"))
	listing := makeListing(t, st, propA.ID, "suumo", "L-1", "メゾン青山")

	// Confirm before any offer.
	if err := o.Confirm(listing.ID, KindListing, Choice{ExistingTargetID: "whatever"}); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("expected ErrInvalidChoice, got %v", err)
	}

	if _, err := o.RequestDetach(listing.ID, KindListing); err != nil {
		t.Fatal(err)
	}

	// A target id that was never offered, even a real one.
	if err := o.Confirm(listing.ID, KindListing, Choice{ExistingTargetID: propA.ID}); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("expected ErrInvalidChoice, got %v", err)
	}
	if err := o.Confirm(listing.ID, KindListing, Choice{}); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("empty choice: expected ErrInvalidChoice, got %v", err)
	}
}

func TestCancelAbandonsSession(t *testing.T) {
	o, st := newTestOrchestrator(t)
	building := makeBuilding(t, st, "メゾン青山")
	propA := makeProperty(t, st, building.ID, unitAttrs("101"))
	propB := makeProperty(t, st, building.ID, unitAttrs("102"))
	listing := makeListing(t, st, propA.ID, "suumo", "L-1", "メゾン青山")

	if _, err := o.RequestDetach(listing.ID, KindListing); err != nil {
		t.Fatal(err)
	}
	if err := o.Confirm(listing.ID, KindListing, Choice{ExistingTargetID: propB.ID}); err != nil {
		t.Fatal(err)
	}

	if !o.Cancel(listing.ID, KindListing) {
		t.Error("expected cancel to find the session")
	}
	if o.Cancel(listing.ID, KindListing) {
		t.Error("second cancel must report nothing to cancel")
	}

	// Nothing persisted; the listing never moved.
	unchanged, _ := st.GetListing(listing.ID)
	if unchanged.PropertyID != propA.ID {
		t.Errorf("listing moved to %s after cancel", unchanged.PropertyID)
	}
	if _, err := o.Apply(listing.ID, KindListing, false); !errors.Is(err, store.ErrConflict) {
		t.Errorf("apply after cancel: expected ErrConflict, got %v", err)
	}
}

func TestPropertyDetachFlow(t *testing.T) {
	o, st := newTestOrchestrator(t)
	buildingA := makeBuilding(t, st, "メゾン青山")
	buildingB := makeBuilding(t, st, "メゾン青山 B棟")
	property := makeProperty(t, st, buildingA.ID, unitAttrs("301"))

	offer, err := o.RequestDetach(property.ID, KindProperty)
	if err != nil {
		t.Fatalf("RequestDetach: %v", err)
	}
	found := false
	for _, c := range offer.Candidates {
		if c.TargetID == buildingA.ID {
			t.Error("current building must not be re-offered")
		}
		if c.TargetID == buildingB.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("near-identical building not among candidates: %+v", offer.Candidates)
	}

	if err := o.Confirm(property.ID, KindProperty, Choice{ExistingTargetID: buildingB.ID}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	result, err := o.Apply(property.ID, KindProperty, true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.NewParentID != buildingB.ID {
		t.Errorf("new parent = %s, want %s", result.NewParentID, buildingB.ID)
	}
	if !result.AncestorDeleted {
		t.Error("emptied old building should have been deleted")
	}

	moved, _ := st.GetProperty(property.ID)
	if moved.BuildingID != buildingB.ID {
		t.Errorf("property under %s, want %s", moved.BuildingID, buildingB.ID)
	}
	if _, err := st.GetBuilding(buildingA.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old building still present: %v", err)
	}
}

func TestPropertyDetachCreateNewBuilding(t *testing.T) {
	o, st := newTestOrchestrator(t)
	buildingA := makeBuilding(t, st, "メゾン青山")
	property := makeProperty(t, st, buildingA.ID, unitAttrs("301"))
	makeProperty(t, st, buildingA.ID, unitAttrs("302"))

	if _, err := o.RequestDetach(property.ID, KindProperty); err != nil {
		t.Fatal(err)
	}
	if err := o.Confirm(property.ID, KindProperty, Choice{
		CreateNew:   true,
		NewBuilding: &store.BuildingAttributes{Name: "新築レジデンス"},
	}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	result, err := o.Apply(property.ID, KindProperty, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.CreatedNew {
		t.Error("expected a new building")
	}
	moved, _ := st.GetProperty(property.ID)
	if moved.BuildingID != result.NewParentID {
		t.Errorf("property under %s, want %s", moved.BuildingID, result.NewParentID)
	}
}

func TestConcurrentApplyExactlyOneWins(t *testing.T) {
	o, st := newTestOrchestrator(t)
	building := makeBuilding(t, st, "メゾン青山")
	propA := makeProperty(t, st, building.ID, unitAttrs("101"))
	propB := makeProperty(t, st, building.ID, unitAttrs("102"))
	listing := makeListing(t, st, propA.ID, "suumo", "L-1", "メゾン青山")

	if _, err := o.RequestDetach(listing.ID, KindListing); err != nil {
		t.Fatal(err)
	}
	if err := o.Confirm(listing.ID, KindListing, Choice{ExistingTargetID: propB.ID}); err != nil {
		t.Fatal(err)
	}

	const racers = 4
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Apply(listing.ID, KindListing, false)
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if conflicts != racers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, racers-1)
	}
}

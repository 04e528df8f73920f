package history

import (
	"testing"

	"listing-aggregator/internal/testutil"
)

func TestRecordPricePointSkipsUnchanged(t *testing.T) {
	svc := NewService(testutil.NewTestDB(t))

	rent := testutil.IntPtr(120000)
	fee := testutil.IntPtr(8000)

	if err := svc.RecordPricePoint("listing-1", rent, fee); err != nil {
		t.Fatalf("first point: %v", err)
	}
	// Re-observing the same price must not grow the series.
	if err := svc.RecordPricePoint("listing-1", rent, fee); err != nil {
		t.Fatalf("unchanged point: %v", err)
	}

	points, err := svc.GetListingHistory("listing-1")
	if err != nil {
		t.Fatalf("GetListingHistory: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
}

func TestRecordPricePointAppendsChanges(t *testing.T) {
	svc := NewService(testutil.NewTestDB(t))

	if err := svc.RecordPricePoint("listing-1", testutil.IntPtr(120000), testutil.IntPtr(8000)); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordPricePoint("listing-1", testutil.IntPtr(118000), testutil.IntPtr(8000)); err != nil {
		t.Fatal(err)
	}
	// A fee change alone also counts.
	if err := svc.RecordPricePoint("listing-1", testutil.IntPtr(118000), testutil.IntPtr(9000)); err != nil {
		t.Fatal(err)
	}

	points, err := svc.GetListingHistory("listing-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	// Oldest first.
	if *points[0].Rent != 120000 || *points[2].ManagementFee != 9000 {
		t.Errorf("series out of order: %+v", points)
	}
}

func TestRecordPricePointNilTransitions(t *testing.T) {
	svc := NewService(testutil.NewTestDB(t))

	// Unknown rent, then a known one, then unknown again: each is a change.
	if err := svc.RecordPricePoint("listing-1", nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordPricePoint("listing-1", testutil.IntPtr(100000), nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordPricePoint("listing-1", nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordPricePoint("listing-1", nil, nil); err != nil {
		t.Fatal(err)
	}

	points, err := svc.GetListingHistory("listing-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
}

func TestHistoriesAreIndependent(t *testing.T) {
	svc := NewService(testutil.NewTestDB(t))

	if err := svc.RecordPricePoint("listing-1", testutil.IntPtr(100000), nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordPricePoint("listing-2", testutil.IntPtr(100000), nil); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"listing-1", "listing-2"} {
		points, err := svc.GetListingHistory(id)
		if err != nil {
			t.Fatal(err)
		}
		if len(points) != 1 {
			t.Errorf("%s points = %d, want 1", id, len(points))
		}
	}
}

package ingest

import (
	"errors"
	"fmt"
	"log"
	"time"

	"listing-aggregator/internal/matching"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/normalize"
	"listing-aggregator/internal/store"

	"gorm.io/gorm"
)

// ErrBadObservation marks observations that can never resolve (missing
// identity fields, unparseable payloads). The worker routes these to
// permanent_fail instead of retrying.
var ErrBadObservation = errors.New("bad observation")

// RawObservation is one scraped listing as handed over by the intake API.
// Attribute fields carry the raw site text; normalization happens here.
type RawObservation struct {
	SourceSite     string `json:"source_site"`
	SitePropertyID string `json:"site_property_id"`
	URL            string `json:"url"`

	BuildingName   string `json:"building_name,omitempty"`
	SiteBuildingID string `json:"site_building_id,omitempty"`
	Address        string `json:"address,omitempty"`

	RoomNumber  string `json:"room_number,omitempty"`
	FloorNumber *int   `json:"floor_number,omitempty"`
	AreaText    string `json:"area_text,omitempty"`
	Layout      string `json:"layout,omitempty"`
	Direction   string `json:"direction,omitempty"`

	Rent          *int `json:"rent,omitempty"`
	ManagementFee *int `json:"management_fee,omitempty"`
}

// PriceRecorder receives the price observation after a listing is resolved.
type PriceRecorder interface {
	RecordPricePoint(listingID string, rent, managementFee *int) error
}

// Indexer re-projects a property into the search index after its listing set
// changed. Indexing failures are logged, never propagated; search staleness
// must not fail resolution.
type Indexer interface {
	IndexPropertyID(propertyID string) error
}

// Resolver turns raw observations into graph updates: it finds or creates the
// building and property a listing belongs to, then upserts the listing itself.
type Resolver struct {
	db      *gorm.DB
	store   *store.Store
	scorer  *matching.Scorer
	history PriceRecorder
	indexer Indexer
}

// NewResolver creates a resolver. history and indexer may be nil.
func NewResolver(db *gorm.DB, st *store.Store, scorer *matching.Scorer, history PriceRecorder, indexer Indexer) *Resolver {
	return &Resolver{
		db:      db,
		store:   st,
		scorer:  scorer,
		history: history,
		indexer: indexer,
	}
}

// ProcessObservation resolves one observation into the canonical graph.
func (r *Resolver) ProcessObservation(obs *RawObservation) error {
	if obs.SourceSite == "" || obs.SitePropertyID == "" || obs.URL == "" {
		return fmt.Errorf("missing identity fields (source_site/site_property_id/url): %w", ErrBadObservation)
	}

	listingID := store.ListingID(obs.SourceSite, obs.SitePropertyID, obs.URL)

	existing, err := r.store.GetListing(listingID)
	if err == nil {
		return r.reconfirm(existing, obs)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	return r.resolveNew(listingID, obs)
}

// reconfirm refreshes an already-known listing: attribute snapshot, liveness
// timestamp and price history. Delisted listings seen again come back active.
func (r *Resolver) reconfirm(listing *models.Listing, obs *RawObservation) error {
	now := time.Now()
	updates := map[string]interface{}{
		"building_name_text": obs.BuildingName,
		"room_number":        normalize.NormalizeRoomNumber(obs.RoomNumber),
		"floor_number":       obs.FloorNumber,
		"layout":             normalize.NormalizeLayout(obs.Layout),
		"direction":          normalize.NormalizeDirection(obs.Direction),
		"rent":               obs.Rent,
		"management_fee":     obs.ManagementFee,
		"status":             models.ListingStatusActive,
		"delisted_at":        nil,
		"last_confirmed_at":  now,
	}
	if area, ok := normalize.NormalizeArea(obs.AreaText); ok {
		updates["area"] = area
	}

	if err := r.db.Model(&models.Listing{}).Where("id = ?", listing.ID).
		Updates(updates).Error; err != nil {
		return err
	}

	if listing.Status == models.ListingStatusDelisted {
		log.Printf("Ingest: listing %s reappeared on %s", listing.ID, obs.SourceSite)
	}

	// Occurrence counts track observation frequency, not first sightings.
	if obs.BuildingName != "" {
		property, err := r.store.GetProperty(listing.PropertyID)
		if err != nil {
			return err
		}
		if err := r.store.RecordListingName(property.BuildingID, obs.BuildingName); err != nil {
			return err
		}
	}

	if r.history != nil {
		if err := r.history.RecordPricePoint(listing.ID, obs.Rent, obs.ManagementFee); err != nil {
			return err
		}
	}
	r.reindex(listing.PropertyID)
	return nil
}

// resolveNew places a first-time observation: building first, then the
// property inside it, then the listing row.
func (r *Resolver) resolveNew(listingID string, obs *RawObservation) error {
	src := r.buildSource(obs)

	building, createdBuilding, err := r.resolveBuilding(obs, src)
	if err != nil {
		return err
	}

	var propertyID string
	var createdProperty bool
	err = r.store.WithLock(func(tx *gorm.DB) error {
		property, created, err := r.resolveProperty(tx, building.ID, obs, src)
		if err != nil {
			return err
		}
		propertyID = property.ID
		createdProperty = created

		now := time.Now()
		listing := &models.Listing{
			ID:               listingID,
			SourceSite:       obs.SourceSite,
			SitePropertyID:   obs.SitePropertyID,
			URL:              obs.URL,
			PropertyID:       property.ID,
			BuildingNameText: obs.BuildingName,
			RoomNumber:       normalize.NormalizeRoomNumber(obs.RoomNumber),
			FloorNumber:      obs.FloorNumber,
			Layout:           normalize.NormalizeLayout(obs.Layout),
			Direction:        normalize.NormalizeDirection(obs.Direction),
			Rent:             obs.Rent,
			ManagementFee:    obs.ManagementFee,
			Status:           models.ListingStatusActive,
			FirstSeenAt:      now,
			LastConfirmedAt:  now,
		}
		if area, ok := normalize.NormalizeArea(obs.AreaText); ok {
			listing.Area = &area
		}
		if err := tx.Create(listing).Error; err != nil {
			return err
		}

		if err := store.RecordListingNameTx(tx, building.ID, obs.BuildingName); err != nil {
			return err
		}
		return store.RecordExternalIDTx(tx, building.ID, obs.SourceSite, obs.SiteBuildingID)
	})
	if err != nil {
		return err
	}

	log.Printf("Ingest: listing %s resolved to property %s / building %s (new_property=%v, new_building=%v)",
		listingID, propertyID, building.ID, createdProperty, createdBuilding)

	if r.history != nil {
		if err := r.history.RecordPricePoint(listingID, obs.Rent, obs.ManagementFee); err != nil {
			return err
		}
	}
	r.reindex(propertyID)
	return nil
}

// resolveBuilding finds the building for an observation: exact external id
// first, then scored matching over live buildings, else a new shell.
func (r *Resolver) resolveBuilding(obs *RawObservation, src matching.Source) (*models.Building, bool, error) {
	if obs.SiteBuildingID != "" {
		building, err := r.store.FindBuildingByExternalID(obs.SourceSite, obs.SiteBuildingID)
		if err == nil {
			return building, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	pool, err := r.store.BuildingPool("")
	if err != nil {
		return nil, false, err
	}
	targets := make([]matching.Target, 0, len(pool))
	for _, b := range pool {
		names, extKeys, err := r.store.BuildingAliases(b.ID)
		if err != nil {
			return nil, false, err
		}
		targets = append(targets, matching.Target{
			ID: b.ID,
			Attributes: matching.Attributes{
				NameTokens: normalize.NormalizeBuildingName(b.NormalizedName),
			},
			Aliases:      names,
			ExternalKeys: extKeys,
		})
	}

	candidates := r.scorer.ScoreCandidates(src, targets)
	if len(candidates) > 0 && candidates[0].Score >= r.scorer.ConfidenceThreshold() {
		building, err := r.store.GetBuilding(candidates[0].TargetID)
		return building, false, err
	}

	building, err := r.store.CreateBuilding(store.BuildingAttributes{
		Name:    obs.BuildingName,
		Address: obs.Address,
	})
	return building, true, err
}

// resolveProperty finds or creates the property inside the chosen building.
// The candidate pool is restricted to that building: cross-building property
// matches without a building match are noise.
func (r *Resolver) resolveProperty(tx *gorm.DB, buildingID string, obs *RawObservation, src matching.Source) (*models.Property, bool, error) {
	var siblings []models.Property
	if err := tx.Where("building_id = ?", buildingID).Order("id ASC").Find(&siblings).Error; err != nil {
		return nil, false, err
	}

	targets := make([]matching.Target, 0, len(siblings))
	for _, p := range siblings {
		targets = append(targets, matching.Target{
			ID: p.ID,
			Attributes: matching.Attributes{
				FloorNumber: p.FloorNumber,
				Area:        p.Area,
				Layout:      p.Layout,
				Direction:   p.Direction,
				NameTokens:  src.NameTokens, // same building, name is not a discriminator here
			},
		})
	}

	candidates := r.scorer.ScoreCandidates(src, targets)
	if len(candidates) > 0 && candidates[0].Score >= r.scorer.ConfidenceThreshold() {
		for i := range siblings {
			if siblings[i].ID == candidates[0].TargetID {
				return &siblings[i], false, nil
			}
		}
	}

	attrs := store.PropertyAttributes{
		RoomNumber:          obs.RoomNumber,
		FloorNumber:         obs.FloorNumber,
		Layout:              obs.Layout,
		Direction:           obs.Direction,
		DisplayBuildingName: obs.BuildingName,
	}
	if area, ok := normalize.NormalizeArea(obs.AreaText); ok {
		attrs.Area = &area
	}
	return store.CreatePropertyTx(tx, attrs, buildingID)
}

func (r *Resolver) buildSource(obs *RawObservation) matching.Source {
	src := matching.Source{
		RawBuildingName: obs.BuildingName,
	}
	if obs.SiteBuildingID != "" {
		src.ExternalKey = obs.SourceSite + ":" + obs.SiteBuildingID
	}
	src.FloorNumber = obs.FloorNumber
	if area, ok := normalize.NormalizeArea(obs.AreaText); ok {
		src.Area = &area
	}
	src.Layout = normalize.NormalizeLayout(obs.Layout)
	src.Direction = normalize.NormalizeDirection(obs.Direction)
	src.NameTokens = normalize.NormalizeBuildingName(obs.BuildingName)
	return src
}

func (r *Resolver) reindex(propertyID string) {
	if r.indexer == nil {
		return
	}
	if err := r.indexer.IndexPropertyID(propertyID); err != nil {
		log.Printf("Ingest: search reindex failed for property %s: %v", propertyID, err)
	}
}

// SweepStale delists active listings not confirmed since the cutoff. Returns
// the number of listings delisted.
func (r *Resolver) SweepStale(staleAfter time.Duration) (int, error) {
	cutoff := time.Now().Add(-staleAfter)

	var stale []models.Listing
	if err := r.db.Where("status = ? AND last_confirmed_at < ?", models.ListingStatusActive, cutoff).
		Find(&stale).Error; err != nil {
		return 0, err
	}

	now := time.Now()
	for i := range stale {
		if err := r.db.Model(&models.Listing{}).Where("id = ?", stale[i].ID).
			Updates(map[string]interface{}{
				"status":      models.ListingStatusDelisted,
				"delisted_at": &now,
			}).Error; err != nil {
			return 0, err
		}
		r.reindex(stale[i].PropertyID)
	}

	if len(stale) > 0 {
		log.Printf("Ingest: delisted %d stale listings (cutoff %s)", len(stale), cutoff.Format(time.RFC3339))
	}
	return len(stale), nil
}

package store

import (
	"fmt"
	"log"
	"sync"

	"listing-aggregator/internal/models"
	"listing-aggregator/internal/normalize"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store owns the Listing-Property-Building graph. All mutations are serialized
// under a single lock and run inside a transaction, so two reassignments
// racing on the same entity can never both succeed with different parents.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// New creates a store on top of a GORM database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle for read-only use.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithLock runs fn inside the store's mutation lock and a transaction.
// Composite operations (reassignment apply, merge, revert) use this to stay
// all-or-nothing.
func (s *Store) WithLock(fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Transaction(fn)
}

// --- lookups ---

// GetListing retrieves a listing by id.
func (s *Store) GetListing(id string) (*models.Listing, error) {
	var listing models.Listing
	if err := s.db.Where("id = ?", id).First(&listing).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &listing, nil
}

// GetProperty retrieves a property by id.
func (s *Store) GetProperty(id string) (*models.Property, error) {
	return getProperty(s.db, id)
}

func getProperty(tx *gorm.DB, id string) (*models.Property, error) {
	var property models.Property
	if err := tx.Where("id = ?", id).First(&property).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("property %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &property, nil
}

// GetBuilding retrieves a building by id.
func (s *Store) GetBuilding(id string) (*models.Building, error) {
	return getBuilding(s.db, id)
}

func getBuilding(tx *gorm.DB, id string) (*models.Building, error) {
	var building models.Building
	if err := tx.Where("id = ?", id).First(&building).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("building %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &building, nil
}

// FindBuildingByExternalID resolves a source site's building id to a canonical
// building, following merge redirects so that lookups keyed on a merged-away
// building land on its absorber.
func (s *Store) FindBuildingByExternalID(sourceSite, siteBuildingID string) (*models.Building, error) {
	var ext models.BuildingExternalID
	err := s.db.Where("source_site = ? AND site_building_id = ?", sourceSite, siteBuildingID).First(&ext).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("external id %s:%s: %w", sourceSite, siteBuildingID, ErrNotFound)
		}
		return nil, err
	}

	building, err := getBuilding(s.db, ext.BuildingID)
	if err != nil {
		return nil, err
	}
	// Follow the redirect chain left behind by merges.
	for !building.IsActive() && building.MergedIntoID != "" {
		building, err = getBuilding(s.db, building.MergedIntoID)
		if err != nil {
			return nil, err
		}
	}
	return building, nil
}

// --- attach ---

// AttachListing reassigns a listing's owning property. If the old property is
// left with no listings it is flagged for operator review, not deleted.
func (s *Store) AttachListing(listingID, propertyID string) error {
	return s.WithLock(func(tx *gorm.DB) error {
		return AttachListingTx(tx, listingID, propertyID)
	})
}

// AttachListingTx is AttachListing inside an existing locked transaction.
func AttachListingTx(tx *gorm.DB, listingID, propertyID string) error {
	var listing models.Listing
	if err := tx.Where("id = ?", listingID).First(&listing).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("listing %s: %w", listingID, ErrNotFound)
		}
		return err
	}

	if _, err := getProperty(tx, propertyID); err != nil {
		return err
	}

	oldPropertyID := listing.PropertyID
	if oldPropertyID == propertyID {
		return nil
	}

	if err := tx.Model(&models.Listing{}).Where("id = ?", listingID).
		Update("property_id", propertyID).Error; err != nil {
		return err
	}

	return flagPropertyIfEmpty(tx, oldPropertyID)
}

// AttachProperty reassigns a property's owning building. The target must be a
// live building; merged-away redirects are not valid parents.
func (s *Store) AttachProperty(propertyID, buildingID string) error {
	return s.WithLock(func(tx *gorm.DB) error {
		return AttachPropertyTx(tx, propertyID, buildingID)
	})
}

// AttachPropertyTx is AttachProperty inside an existing locked transaction.
func AttachPropertyTx(tx *gorm.DB, propertyID, buildingID string) error {
	property, err := getProperty(tx, propertyID)
	if err != nil {
		return err
	}

	building, err := getBuilding(tx, buildingID)
	if err != nil {
		return err
	}
	if !building.IsActive() {
		return fmt.Errorf("building %s is merged away: %w", buildingID, ErrConflict)
	}

	oldBuildingID := property.BuildingID
	if oldBuildingID == buildingID {
		return nil
	}

	// The hash embeds the owning building, so it moves with the property.
	newHash := rehashProperty(property, buildingID)
	if err := tx.Model(&models.Property{}).Where("id = ?", propertyID).
		Updates(map[string]interface{}{
			"building_id":   buildingID,
			"property_hash": newHash,
		}).Error; err != nil {
		return err
	}

	return flagBuildingIfEmpty(tx, oldBuildingID)
}

func rehashProperty(p *models.Property, buildingID string) string {
	return PropertyHash(PropertyAttributes{
		RoomNumber:  p.RoomNumber,
		FloorNumber: p.FloorNumber,
		Area:        p.Area,
		Layout:      p.Layout,
		Direction:   p.Direction,
	}, buildingID)
}

func flagPropertyIfEmpty(tx *gorm.DB, propertyID string) error {
	var count int64
	if err := tx.Model(&models.Listing{}).Where("property_id = ?", propertyID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	log.Printf("Store: property %s has no listings left, flagging for review", propertyID)
	return tx.Model(&models.Property{}).Where("id = ?", propertyID).
		Update("needs_review", true).Error
}

func flagBuildingIfEmpty(tx *gorm.DB, buildingID string) error {
	var count int64
	if err := tx.Model(&models.Property{}).Where("building_id = ?", buildingID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	log.Printf("Store: building %s has no properties left, flagging for review", buildingID)
	return tx.Model(&models.Building{}).Where("id = ?", buildingID).
		Update("needs_review", true).Error
}

// --- create ---

// CreateProperty creates a property under a building, or returns the existing
// property when one with the same normalized attribute hash already lives
// there. This is the anti-duplication guarantee for auto-created properties.
func (s *Store) CreateProperty(attrs PropertyAttributes, buildingID string) (*models.Property, error) {
	var created *models.Property
	err := s.WithLock(func(tx *gorm.DB) error {
		var err error
		created, _, err = CreatePropertyTx(tx, attrs, buildingID)
		return err
	})
	return created, err
}

// CreatePropertyTx is CreateProperty inside an existing locked transaction.
// The bool reports whether a new row was created, false when the hash
// deduplicated to an existing property.
func CreatePropertyTx(tx *gorm.DB, attrs PropertyAttributes, buildingID string) (*models.Property, bool, error) {
	building, err := getBuilding(tx, buildingID)
	if err != nil {
		return nil, false, err
	}
	if !building.IsActive() {
		return nil, false, fmt.Errorf("building %s is merged away: %w", buildingID, ErrConflict)
	}

	hash := PropertyHash(attrs, buildingID)

	var existing models.Property
	result := tx.Where("building_id = ? AND property_hash = ?", buildingID, hash).First(&existing)
	if result.Error == nil {
		return &existing, false, nil
	}
	if result.Error != gorm.ErrRecordNotFound {
		return nil, false, result.Error
	}

	property := &models.Property{
		ID:                  uuid.NewString(),
		BuildingID:          buildingID,
		RoomNumber:          normalize.NormalizeRoomNumber(attrs.RoomNumber),
		FloorNumber:         attrs.FloorNumber,
		Layout:              normalize.NormalizeLayout(attrs.Layout),
		Direction:           normalize.NormalizeDirection(attrs.Direction),
		DisplayBuildingName: attrs.DisplayBuildingName,
		PropertyHash:        hash,
	}
	if attrs.Area != nil {
		rounded := normalize.RoundArea(*attrs.Area)
		property.Area = &rounded
	}

	if err := tx.Create(property).Error; err != nil {
		return nil, false, err
	}
	return property, true, nil
}

// CreateBuilding creates a new building shell. Matching against existing
// buildings is the scorer's job and happens before this is ever called.
func (s *Store) CreateBuilding(attrs BuildingAttributes) (*models.Building, error) {
	var created *models.Building
	err := s.WithLock(func(tx *gorm.DB) error {
		var err error
		created, err = CreateBuildingTx(tx, attrs)
		return err
	})
	return created, err
}

// CreateBuildingTx is CreateBuilding inside an existing locked transaction.
func CreateBuildingTx(tx *gorm.DB, attrs BuildingAttributes) (*models.Building, error) {
	tokens := normalize.NormalizeBuildingName(attrs.Name)
	name := normalize.NameKey(tokens)
	if name == "" {
		name = foldFallback(attrs.Name)
	}

	building := &models.Building{
		ID:             uuid.NewString(),
		NormalizedName: name,
		Address:        attrs.Address,
		TotalFloors:    attrs.TotalFloors,
		TotalUnits:     attrs.TotalUnits,
		BuiltYear:      attrs.BuiltYear,
		Status:         models.BuildingStatusActive,
	}

	if err := tx.Create(building).Error; err != nil {
		return nil, err
	}
	return building, nil
}

// --- delete ---

// DeleteProperty removes a property. Fails with ErrConflict while any listing,
// active or delisted, still belongs to it.
func (s *Store) DeleteProperty(id string) error {
	return s.WithLock(func(tx *gorm.DB) error {
		return DeletePropertyTx(tx, id)
	})
}

// DeletePropertyTx is DeleteProperty inside an existing locked transaction.
func DeletePropertyTx(tx *gorm.DB, id string) error {
	property, err := getProperty(tx, id)
	if err != nil {
		return err
	}

	var count int64
	if err := tx.Model(&models.Listing{}).Where("property_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("property %s still owns %d listings: %w", id, count, ErrConflict)
	}

	return tx.Delete(property).Error
}

// DeleteBuilding removes a building. Fails with ErrConflict while any property
// still belongs to it.
func (s *Store) DeleteBuilding(id string) error {
	return s.WithLock(func(tx *gorm.DB) error {
		return DeleteBuildingTx(tx, id)
	})
}

// DeleteBuildingTx is DeleteBuilding inside an existing locked transaction.
func DeleteBuildingTx(tx *gorm.DB, id string) error {
	building, err := getBuilding(tx, id)
	if err != nil {
		return err
	}

	var count int64
	if err := tx.Model(&models.Property{}).Where("building_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("building %s still owns %d properties: %w", id, count, ErrConflict)
	}

	if err := tx.Where("building_id = ?", id).Delete(&models.BuildingListingName{}).Error; err != nil {
		return err
	}
	if err := tx.Where("building_id = ?", id).Delete(&models.BuildingExternalID{}).Error; err != nil {
		return err
	}
	return tx.Delete(building).Error
}

// --- alias bookkeeping ---

// RecordListingName counts an observed building-name string against a building.
func (s *Store) RecordListingName(buildingID, name string) error {
	return s.WithLock(func(tx *gorm.DB) error {
		return RecordListingNameTx(tx, buildingID, name)
	})
}

// RecordListingNameTx is RecordListingName inside an existing transaction.
func RecordListingNameTx(tx *gorm.DB, buildingID, name string) error {
	if name == "" {
		return nil
	}

	var existing models.BuildingListingName
	result := tx.Where("building_id = ? AND name = ?", buildingID, name).First(&existing)
	if result.Error == gorm.ErrRecordNotFound {
		return tx.Create(&models.BuildingListingName{
			BuildingID:  buildingID,
			Name:        name,
			Occurrences: 1,
		}).Error
	}
	if result.Error != nil {
		return result.Error
	}

	return tx.Model(&existing).Update("occurrences", existing.Occurrences+1).Error
}

// RecordExternalID links a source site's building id to a building. Existing
// links are left untouched; an external id maps to one building at a time.
func (s *Store) RecordExternalID(buildingID, sourceSite, siteBuildingID string) error {
	return s.WithLock(func(tx *gorm.DB) error {
		return RecordExternalIDTx(tx, buildingID, sourceSite, siteBuildingID)
	})
}

// RecordExternalIDTx is RecordExternalID inside an existing transaction.
func RecordExternalIDTx(tx *gorm.DB, buildingID, sourceSite, siteBuildingID string) error {
	if sourceSite == "" || siteBuildingID == "" {
		return nil
	}
	var existing models.BuildingExternalID
	result := tx.Where("source_site = ? AND site_building_id = ?", sourceSite, siteBuildingID).First(&existing)
	if result.Error == gorm.ErrRecordNotFound {
		return tx.Create(&models.BuildingExternalID{
			BuildingID:     buildingID,
			SourceSite:     sourceSite,
			SiteBuildingID: siteBuildingID,
		}).Error
	}
	return result.Error
}

// --- candidate pools ---

// BuildingPool returns all live buildings except the excluded one, ordered by
// id for deterministic scoring input.
func (s *Store) BuildingPool(excludeID string) ([]models.Building, error) {
	var buildings []models.Building
	q := s.db.Where("status = ?", models.BuildingStatusActive)
	if excludeID != "" {
		q = q.Where("id != ?", excludeID)
	}
	err := q.Order("id ASC").Find(&buildings).Error
	return buildings, err
}

// PropertyPool returns all properties under any building except the excluded
// property, ordered by id.
func (s *Store) PropertyPool(excludeID string) ([]models.Property, error) {
	var properties []models.Property
	q := s.db.Session(&gorm.Session{})
	if excludeID != "" {
		q = q.Where("id != ?", excludeID)
	}
	err := q.Order("id ASC").Find(&properties).Error
	return properties, err
}

// PropertiesOfBuilding lists a building's properties ordered by id.
func (s *Store) PropertiesOfBuilding(buildingID string) ([]models.Property, error) {
	var properties []models.Property
	err := s.db.Where("building_id = ?", buildingID).Order("id ASC").Find(&properties).Error
	return properties, err
}

// ListingsOfProperty lists a property's listings ordered by id.
func (s *Store) ListingsOfProperty(propertyID string) ([]models.Listing, error) {
	var listings []models.Listing
	err := s.db.Where("property_id = ?", propertyID).Order("id ASC").Find(&listings).Error
	return listings, err
}

// BuildingAliases returns the observed listing-name strings and external id
// keys ("site:id") recorded on a building, for alias matching.
func (s *Store) BuildingAliases(buildingID string) (names []string, externalKeys []string, err error) {
	var nameRows []models.BuildingListingName
	if err = s.db.Where("building_id = ?", buildingID).Order("id ASC").Find(&nameRows).Error; err != nil {
		return nil, nil, err
	}
	for _, row := range nameRows {
		names = append(names, row.Name)
	}

	var extRows []models.BuildingExternalID
	if err = s.db.Where("building_id = ?", buildingID).Order("id ASC").Find(&extRows).Error; err != nil {
		return nil, nil, err
	}
	for _, row := range extRows {
		externalKeys = append(externalKeys, row.SourceSite+":"+row.SiteBuildingID)
	}
	return names, externalKeys, nil
}

package history

import (
	"log"
	"strconv"
	"time"

	"listing-aggregator/internal/models"

	"gorm.io/gorm"
)

// Service records listing price observations as an append-only series.
type Service struct {
	db *gorm.DB
}

// NewService creates a new history service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// RecordPricePoint appends a price point for the listing, skipping the write
// when neither rent nor management fee changed against the latest point.
func (s *Service) RecordPricePoint(listingID string, rent, managementFee *int) error {
	var latest models.ListingPricePoint
	result := s.db.Where("listing_id = ?", listingID).
		Order("recorded_at DESC, id DESC").
		First(&latest)

	if result.Error == nil {
		if intEqual(latest.Rent, rent) && intEqual(latest.ManagementFee, managementFee) {
			return nil
		}
		log.Printf("History: price change for listing %s (rent %s -> %s)",
			listingID, intLabel(latest.Rent), intLabel(rent))
	} else if result.Error != gorm.ErrRecordNotFound {
		return result.Error
	}

	return s.db.Create(&models.ListingPricePoint{
		ListingID:     listingID,
		Rent:          rent,
		ManagementFee: managementFee,
		RecordedAt:    time.Now(),
	}).Error
}

// GetListingHistory returns the listing's price points, oldest first.
func (s *Service) GetListingHistory(listingID string) ([]models.ListingPricePoint, error) {
	var points []models.ListingPricePoint
	err := s.db.Where("listing_id = ?", listingID).
		Order("recorded_at ASC, id ASC").
		Find(&points).Error
	return points, err
}

func intEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intLabel(v *int) string {
	if v == nil {
		return "unknown"
	}
	return strconv.Itoa(*v)
}

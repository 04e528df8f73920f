package models

import "time"

// ListingPricePoint is one observed price for a listing. Points are append-only;
// the full series is the listing's price history.
type ListingPricePoint struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingID     string    `gorm:"type:varchar(32);not null;index:idx_listing_recorded" json:"listing_id"`
	Rent          *int      `gorm:"type:int" json:"rent,omitempty"`
	ManagementFee *int      `gorm:"type:int" json:"management_fee,omitempty"`
	RecordedAt    time.Time `gorm:"type:datetime;not null;autoCreateTime;index:idx_listing_recorded,priority:2" json:"recorded_at"`
}

// TableName はテーブル名を明示的に指定
func (ListingPricePoint) TableName() string {
	return "listing_price_points"
}

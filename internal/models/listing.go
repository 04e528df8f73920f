package models

import "time"

// Listing is one scraped observation of a unit on a single source site.
// Every listing belongs to exactly one property at all times.
type Listing struct {
	// 基本情報
	ID             string `gorm:"type:varchar(32);primaryKey" json:"id"`
	SourceSite     string `gorm:"type:varchar(50);not null;index:idx_source_listing,unique" json:"source_site"`
	SitePropertyID string `gorm:"type:varchar(255);not null;index:idx_source_listing,unique" json:"site_property_id"`
	URL            string `gorm:"type:varchar(500);not null;index:idx_source_listing,unique" json:"url"`

	// 所属物件（正規化済み）
	PropertyID string `gorm:"type:varchar(36);not null;index" json:"property_id"`

	// スクレイプ時点の属性スナップショット
	BuildingNameText string   `gorm:"type:text" json:"building_name_text,omitempty"`
	RoomNumber       string   `gorm:"type:varchar(20)" json:"room_number,omitempty"`
	FloorNumber      *int     `gorm:"type:int" json:"floor_number,omitempty"`
	Area             *float64 `gorm:"type:decimal(10,2)" json:"area,omitempty"`
	Layout           string   `gorm:"type:varchar(20);index" json:"layout,omitempty"`
	Direction        string   `gorm:"type:varchar(10)" json:"direction,omitempty"`
	Rent             *int     `gorm:"type:int;index" json:"rent,omitempty"`
	ManagementFee    *int     `gorm:"type:int" json:"management_fee,omitempty"`

	// ステータス管理（論理削除）
	Status     ListingStatus `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	DelistedAt *time.Time    `gorm:"type:datetime" json:"delisted_at,omitempty"`

	// タイムスタンプ
	FirstSeenAt     time.Time `gorm:"type:datetime;not null" json:"first_seen_at"`
	LastConfirmedAt time.Time `gorm:"type:datetime;not null;index" json:"last_confirmed_at"`
	CreatedAt       time.Time `gorm:"type:datetime;not null;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"type:datetime;not null;autoUpdateTime" json:"updated_at"`
}

// ListingStatus は掲載のステータス
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusDelisted ListingStatus = "delisted"
)

// TableName はテーブル名を明示的に指定
func (Listing) TableName() string {
	return "listings"
}

// IsActive は掲載が現在も確認されているかどうか
func (l *Listing) IsActive() bool {
	return l.Status == ListingStatusActive
}

// MarkDelisted は掲載を論理削除（レコードは保持）
func (l *Listing) MarkDelisted() {
	l.Status = ListingStatusDelisted
	now := time.Now()
	l.DelistedAt = &now
}

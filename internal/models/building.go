package models

import "time"

// Building is the canonical structure containing one or more properties.
type Building struct {
	ID             string `gorm:"type:varchar(36);primaryKey" json:"id"`
	NormalizedName string `gorm:"type:varchar(255);not null;index" json:"normalized_name"`
	Address        string `gorm:"type:text" json:"address,omitempty"`
	TotalFloors    *int   `gorm:"type:int" json:"total_floors,omitempty"`
	TotalUnits     *int   `gorm:"type:int" json:"total_units,omitempty"`
	BuiltYear      *int   `gorm:"type:int" json:"built_year,omitempty"`

	// ステータス管理。マージで吸収された建物は削除せずリダイレクトとして残す。
	Status       BuildingStatus `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	MergedIntoID string         `gorm:"type:varchar(36);index" json:"merged_into_id,omitempty"`

	// 物件が全て外れた建物はオペレーター確認待ちとしてフラグされる
	NeedsReview bool `gorm:"type:boolean;not null;default:false;index" json:"needs_review"`

	CreatedAt time.Time `gorm:"type:datetime;not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:datetime;not null;autoUpdateTime" json:"updated_at"`
}

// BuildingStatus は建物のステータス
type BuildingStatus string

const (
	BuildingStatusActive BuildingStatus = "active"
	BuildingStatusMerged BuildingStatus = "merged"
)

// TableName はテーブル名を明示的に指定
func (Building) TableName() string {
	return "buildings"
}

// IsActive はマージで吸収されていない建物かどうか
func (b *Building) IsActive() bool {
	return b.Status == BuildingStatusActive
}

// BuildingExternalID links a source site's building identifier to a canonical
// building. Many external ids may point at the same building.
type BuildingExternalID struct {
	ID             uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	BuildingID     string `gorm:"type:varchar(36);not null;index" json:"building_id"`
	SourceSite     string `gorm:"type:varchar(50);not null;index:idx_external_key,unique" json:"source_site"`
	SiteBuildingID string `gorm:"type:varchar(255);not null;index:idx_external_key,unique" json:"site_building_id"`

	// このエイリアスを追加したマージ履歴。リバート時のロールバック対象の特定に使う。
	MergeEntryID string `gorm:"type:varchar(36);index" json:"merge_entry_id,omitempty"`

	CreatedAt time.Time `gorm:"type:datetime;not null;autoCreateTime" json:"created_at"`
}

// TableName はテーブル名を明示的に指定
func (BuildingExternalID) TableName() string {
	return "building_external_ids"
}

// BuildingListingName records a building-name string observed on listings,
// with an occurrence count. Used for alias matching and for surfacing
// mismatches in the console.
type BuildingListingName struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	BuildingID  string `gorm:"type:varchar(36);not null;index:idx_building_name,unique" json:"building_id"`
	Name        string `gorm:"type:varchar(255);not null;index:idx_building_name,unique" json:"name"`
	Occurrences int    `gorm:"type:int;not null;default:1" json:"occurrences"`

	// このエイリアスを追加したマージ履歴（マージ由来でなければ空）
	MergeEntryID string `gorm:"type:varchar(36);index" json:"merge_entry_id,omitempty"`

	CreatedAt time.Time `gorm:"type:datetime;not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:datetime;not null;autoUpdateTime" json:"updated_at"`
}

// TableName はテーブル名を明示的に指定
func (BuildingListingName) TableName() string {
	return "building_listing_names"
}

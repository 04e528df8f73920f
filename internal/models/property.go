package models

import "time"

// Property is the canonical real-world unit that one or more listings refer to.
// Every property belongs to exactly one building at all times.
type Property struct {
	ID         string `gorm:"type:varchar(36);primaryKey" json:"id"`
	BuildingID string `gorm:"type:varchar(36);not null;index:idx_building_hash,unique" json:"building_id"`

	// 部屋の定義属性
	RoomNumber  string   `gorm:"type:varchar(20)" json:"room_number,omitempty"`
	FloorNumber *int     `gorm:"type:int;index" json:"floor_number,omitempty"`
	Area        *float64 `gorm:"type:decimal(10,2)" json:"area,omitempty"`
	Layout      string   `gorm:"type:varchar(20);index" json:"layout,omitempty"`
	Direction   string   `gorm:"type:varchar(10)" json:"direction,omitempty"`

	// 建物名の表示上書き（掲載名と食い違う場合にオペレーターが設定）
	DisplayBuildingName string `gorm:"type:text" json:"display_building_name,omitempty"`

	// 正規化属性から導出したハッシュ。自動作成物件の重複排除キー。
	PropertyHash string `gorm:"type:varchar(32);not null;index:idx_building_hash,unique" json:"property_hash"`

	// 掲載が全て外れた物件はオペレーター確認待ちとしてフラグされる
	NeedsReview bool `gorm:"type:boolean;not null;default:false;index" json:"needs_review"`

	CreatedAt time.Time `gorm:"type:datetime;not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:datetime;not null;autoUpdateTime" json:"updated_at"`
}

// TableName はテーブル名を明示的に指定
func (Property) TableName() string {
	return "properties"
}

package models

import (
	"encoding/json"
	"time"
)

// MergeHistoryEntry records that a source building was absorbed into a target
// building. It carries an immutable snapshot of the source's identity and its
// property set at merge time; revert restores exactly that snapshot.
type MergeHistoryEntry struct {
	ID               string `gorm:"type:varchar(36);primaryKey" json:"id"`
	SourceBuildingID string `gorm:"type:varchar(36);not null;index" json:"source_building_id"`
	TargetBuildingID string `gorm:"type:varchar(36);not null;index" json:"target_building_id"`
	Actor            string `gorm:"type:varchar(100);not null" json:"actor"`

	// マージ時点のスナップショット（作成後は不変）
	SourceSnapshot string `gorm:"type:text;not null" json:"-"`
	PropertyIDs    string `gorm:"type:text;not null" json:"-"`
	PropertyCount  int    `gorm:"type:int;not null" json:"property_count"`

	Reverted   bool       `gorm:"type:boolean;not null;default:false" json:"reverted"`
	RevertedAt *time.Time `gorm:"type:datetime" json:"reverted_at,omitempty"`
	RevertedBy string     `gorm:"type:varchar(100)" json:"reverted_by,omitempty"`

	MergedAt time.Time `gorm:"type:datetime;not null;autoCreateTime;index" json:"merged_at"`
}

// TableName はテーブル名を明示的に指定
func (MergeHistoryEntry) TableName() string {
	return "merge_history_entries"
}

// BuildingSnapshot captures a building's identity at merge time.
type BuildingSnapshot struct {
	NormalizedName string `json:"normalized_name"`
	Address        string `json:"address,omitempty"`
	TotalFloors    *int   `json:"total_floors,omitempty"`
	TotalUnits     *int   `json:"total_units,omitempty"`
	BuiltYear      *int   `json:"built_year,omitempty"`
}

// SetSourceSnapshot serializes the building snapshot into the entry.
func (e *MergeHistoryEntry) SetSourceSnapshot(snap BuildingSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	e.SourceSnapshot = string(data)
	return nil
}

// GetSourceSnapshot deserializes the building snapshot from the entry.
func (e *MergeHistoryEntry) GetSourceSnapshot() (BuildingSnapshot, error) {
	var snap BuildingSnapshot
	err := json.Unmarshal([]byte(e.SourceSnapshot), &snap)
	return snap, err
}

// SetPropertyIDs serializes the merge-time property id set.
func (e *MergeHistoryEntry) SetPropertyIDs(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	e.PropertyIDs = string(data)
	e.PropertyCount = len(ids)
	return nil
}

// GetPropertyIDs deserializes the merge-time property id set.
func (e *MergeHistoryEntry) GetPropertyIDs() ([]string, error) {
	var ids []string
	err := json.Unmarshal([]byte(e.PropertyIDs), &ids)
	return ids, err
}

package store

import (
	"crypto/md5"
	"fmt"
	"strings"

	"listing-aggregator/internal/normalize"

	"golang.org/x/text/width"
)

// PropertyAttributes are the operator- or intake-supplied attributes for a
// property. The store normalizes them before hashing or persisting.
type PropertyAttributes struct {
	RoomNumber          string   `json:"room_number,omitempty"`
	FloorNumber         *int     `json:"floor_number,omitempty"`
	Area                *float64 `json:"area,omitempty"`
	Layout              string   `json:"layout,omitempty"`
	Direction           string   `json:"direction,omitempty"`
	DisplayBuildingName string   `json:"display_building_name,omitempty"`
}

// BuildingAttributes are the supplied attributes for a new building.
type BuildingAttributes struct {
	Name        string `json:"name"`
	Address     string `json:"address,omitempty"`
	TotalFloors *int   `json:"total_floors,omitempty"`
	TotalUnits  *int   `json:"total_units,omitempty"`
	BuiltYear   *int   `json:"built_year,omitempty"`
}

// PropertyHash fingerprints the normalized defining attributes of a property
// under a given building. Two createProperty calls with attributes that
// normalize identically yield the same hash, which is what makes auto-creation
// idempotent.
func PropertyHash(attrs PropertyAttributes, buildingID string) string {
	parts := []string{
		"building:" + buildingID,
		"room:" + normalize.NormalizeRoomNumber(attrs.RoomNumber),
		"floor:" + intPart(attrs.FloorNumber),
		"area:" + areaPart(attrs.Area),
		"layout:" + normalize.NormalizeLayout(attrs.Layout),
		"direction:" + normalize.NormalizeDirection(attrs.Direction),
	}
	return generateMD5(strings.Join(parts, "|"))
}

// ListingID derives the stable listing id from the identifying triple.
func ListingID(sourceSite, sitePropertyID, url string) string {
	return generateMD5(sourceSite + "|" + sitePropertyID + "|" + strings.TrimSpace(url))
}

func intPart(v *int) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%d", *v)
}

func areaPart(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.1f", normalize.RoundArea(*v))
}

// foldFallback is the stored name for buildings whose raw name yields no
// usable tokens.
func foldFallback(s string) string {
	return strings.TrimSpace(width.Fold.String(s))
}

// generateMD5 generates MD5 hash for a string
func generateMD5(text string) string {
	hash := md5.Sum([]byte(text))
	return fmt.Sprintf("%x", hash)
}

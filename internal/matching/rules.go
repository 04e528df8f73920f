package matching

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/width"
)

// Attributes is the comparable form of a listing or property, produced by the
// normalize package. Nil/empty fields are unknown and stay neutral in scoring.
type Attributes struct {
	FloorNumber *int
	Area        *float64
	Layout      string
	Direction   string
	NameTokens  []string
}

// Source is the detached side of a comparison.
type Source struct {
	Attributes

	// Raw observed building name and external building key ("site:id"),
	// used for exact alias matching against the target's recorded aliases.
	RawBuildingName string
	ExternalKey     string
}

// Target is one member of the candidate pool.
type Target struct {
	ID string
	Attributes

	Aliases      []string // building-name strings observed on listings
	ExternalKeys []string // "source_site:site_building_id" pairs
}

// Weights tunes how much each rule contributes to a candidate's score.
type Weights struct {
	FloorExact     float64 `yaml:"floor_exact"`
	AreaBand       float64 `yaml:"area_band"`
	LayoutExact    float64 `yaml:"layout_exact"`
	DirectionExact float64 `yaml:"direction_exact"`
	NameOverlap    float64 `yaml:"name_overlap"`
	AliasBonus     float64 `yaml:"alias_bonus"`
}

// DefaultWeights returns the tuned production weights.
func DefaultWeights() Weights {
	return Weights{
		FloorExact:     20,
		AreaBand:       25,
		LayoutExact:    15,
		DirectionExact: 10,
		NameOverlap:    30,
		AliasBonus:     25,
	}
}

// Rule is one independent scoring signal. A rule that does not fire returns
// a zero contribution and an empty detail; missing data never penalizes.
type Rule interface {
	Evaluate(src Source, tgt Target) (contribution float64, detail string)
}

type floorRule struct{ weight float64 }

func (r floorRule) Evaluate(src Source, tgt Target) (float64, string) {
	if src.FloorNumber == nil || tgt.FloorNumber == nil {
		return 0, ""
	}
	if *src.FloorNumber != *tgt.FloorNumber {
		return 0, ""
	}
	return r.weight, fmt.Sprintf("floor_number exact (%d)", *src.FloorNumber)
}

// areaRule fires when the two areas are within max(2.0㎡ absolute, 3% relative)
// of each other, contributing the full weight at zero distance and scaling
// down linearly toward the band edge.
type areaRule struct{ weight float64 }

func (r areaRule) Evaluate(src Source, tgt Target) (float64, string) {
	if src.Area == nil || tgt.Area == nil {
		return 0, ""
	}
	tolerance := math.Max(2.0, *src.Area*0.03)
	distance := math.Abs(*src.Area - *tgt.Area)
	if distance > tolerance {
		return 0, ""
	}
	contribution := r.weight * (1 - distance/tolerance)
	if contribution <= 0 {
		return 0, ""
	}
	if distance == 0 {
		return contribution, fmt.Sprintf("area exact (%.1f㎡)", *src.Area)
	}
	return contribution, fmt.Sprintf("area within %.1f㎡ (%.1f vs %.1f)", distance, *src.Area, *tgt.Area)
}

type layoutRule struct{ weight float64 }

func (r layoutRule) Evaluate(src Source, tgt Target) (float64, string) {
	if src.Layout == "" || tgt.Layout == "" || src.Layout != tgt.Layout {
		return 0, ""
	}
	return r.weight, fmt.Sprintf("layout exact (%s)", src.Layout)
}

type directionRule struct{ weight float64 }

func (r directionRule) Evaluate(src Source, tgt Target) (float64, string) {
	if src.Direction == "" || tgt.Direction == "" || src.Direction != tgt.Direction {
		return 0, ""
	}
	return r.weight, fmt.Sprintf("direction exact (%s)", src.Direction)
}

// nameOverlapRule scores Jaccard overlap between the normalized token sets of
// the two building names.
type nameOverlapRule struct{ weight float64 }

func (r nameOverlapRule) Evaluate(src Source, tgt Target) (float64, string) {
	overlap := jaccard(src.NameTokens, tgt.NameTokens)
	if overlap <= 0 {
		return 0, ""
	}
	return r.weight * overlap, fmt.Sprintf("building name token overlap %.0f%%", overlap*100)
}

// aliasRule adds a fixed bonus when the observed building name or external
// building id exactly matches one already recorded on the target.
type aliasRule struct{ weight float64 }

func (r aliasRule) Evaluate(src Source, tgt Target) (float64, string) {
	if src.ExternalKey != "" {
		for _, key := range tgt.ExternalKeys {
			if key == src.ExternalKey {
				return r.weight, fmt.Sprintf("external id match (%s)", key)
			}
		}
	}
	if src.RawBuildingName != "" {
		folded := foldName(src.RawBuildingName)
		for _, alias := range tgt.Aliases {
			if foldName(alias) == folded {
				return r.weight, fmt.Sprintf("known alias %q", alias)
			}
		}
	}
	return 0, ""
}

func foldName(s string) string {
	return strings.ToLower(width.Fold.String(strings.TrimSpace(s)))
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, tok := range a {
		set[tok] = true
	}
	shared := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, tok := range b {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if set[tok] {
			shared++
		} else {
			union++
		}
	}
	return float64(shared) / float64(union)
}

package matching

import (
	"sort"
)

// Candidate is a scored, explained suggestion for where to re-home a detached
// listing or property. Candidates are ephemeral; they are never persisted.
type Candidate struct {
	TargetID     string   `json:"target_id"`
	Score        float64  `json:"score"`
	MatchDetails []string `json:"match_details"`
}

// Scorer ranks a candidate pool against a source using an ordered list of
// independent weighted rules.
type Scorer struct {
	rules               []Rule
	confidenceThreshold float64
	minScore            float64
}

// NewScorer builds a scorer from weights and thresholds. minScore is the noise
// floor below which candidates are dropped entirely; confidenceThreshold is
// the score under which the console should default toward "create new".
func NewScorer(w Weights, confidenceThreshold, minScore float64) *Scorer {
	return &Scorer{
		rules: []Rule{
			floorRule{w.FloorExact},
			areaRule{w.AreaBand},
			layoutRule{w.LayoutExact},
			directionRule{w.DirectionExact},
			nameOverlapRule{w.NameOverlap},
			aliasRule{w.AliasBonus},
		},
		confidenceThreshold: confidenceThreshold,
		minScore:            minScore,
	}
}

// ScoreCandidates scores every target and returns candidates ordered by score
// descending, ties broken by target id ascending. Identical inputs always
// produce identical output; the console and the confirm step rely on that.
func (s *Scorer) ScoreCandidates(src Source, targets []Target) []Candidate {
	candidates := make([]Candidate, 0, len(targets))

	for _, tgt := range targets {
		var score float64
		var details []string
		for _, rule := range s.rules {
			contribution, detail := rule.Evaluate(src, tgt)
			if contribution <= 0 {
				continue
			}
			score += contribution
			details = append(details, detail)
		}
		if score < s.minScore {
			continue
		}
		candidates = append(candidates, Candidate{
			TargetID:     tgt.ID,
			Score:        score,
			MatchDetails: details,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].TargetID < candidates[j].TargetID
	})

	return candidates
}

// CanCreateNew reports whether the console should default toward creating a
// new entity instead of forcing a low-confidence match.
func (s *Scorer) CanCreateNew(candidates []Candidate) bool {
	if len(candidates) == 0 {
		return true
	}
	return candidates[0].Score < s.confidenceThreshold
}

// ConfidenceThreshold exposes the configured threshold for callers that need
// to make the same accept/create decision (listing intake auto-resolution).
func (s *Scorer) ConfidenceThreshold() float64 {
	return s.confidenceThreshold
}

package normalize

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// noiseWords are legal-entity and marketing fragments that carry no identity.
// Source sites decorate the same building name differently with these.
var noiseWords = []string{
	"株式会社",
	"有限会社",
	"(仮称)",
	"仮称",
	"新築",
	"築浅",
	"分譲",
	"賃貸",
	"limited",
	"ltd",
	"co",
	"inc",
}

var spaceRe = regexp.MustCompile(`\s+`)

// NormalizeBuildingName canonicalizes a raw building-name string into a sorted,
// deduplicated token set. Full-width characters are folded to their half-width
// forms, the result lowercased, noise fragments stripped, and the remainder
// split on whitespace and punctuation. An empty result means the name carried
// no usable identity; callers treat that as neutral, not as an error.
func NormalizeBuildingName(text string) []string {
	folded := strings.ToLower(width.Fold.String(text))

	for _, noise := range noiseWords {
		folded = strings.ReplaceAll(folded, noise, " ")
	}

	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		if unicode.IsSpace(r) {
			return true
		}
		switch r {
		case '・', '･', '、', '。', '，', ',', '.', '／', '/', '－', '―', '-', '（', '）', '(', ')', '「', '」', '【', '】', '〜', '~', '※', '号', '棟':
			return true
		}
		return false
	})

	seen := make(map[string]bool, len(tokens))
	result := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		result = append(result, tok)
	}

	sort.Strings(result)
	return result
}

// NameKey joins a normalized token set into the stable string stored as a
// building's normalized_name.
func NameKey(tokens []string) string {
	return strings.Join(tokens, " ")
}

var areaRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// NormalizeArea parses an area string with optional unit suffix (㎡, m2, 平米
// and friends) into square meters rounded to 0.1. Returns false when no
// plausible value can be extracted.
func NormalizeArea(text string) (float64, bool) {
	folded := width.Fold.String(strings.TrimSpace(text))
	m := areaRe.FindString(folded)
	if m == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return RoundArea(v), v > 0 && v < 10000
}

// RoundArea rounds an area value to one decimal place so that values scraped
// with differing precision compare equal.
func RoundArea(v float64) float64 {
	return math.Round(v*10) / 10
}

// layoutSynonyms maps free-form layout spellings onto the closed code set.
var layoutSynonyms = map[string]string{
	"ワンルーム": "1R",
	"1ルーム":  "1R",
	"studio": "1R",
}

var layoutRe = regexp.MustCompile(`^([1-9])(s?)(l?)(d?)(k?)$`)

// NormalizeLayout maps a raw layout string onto one of the fixed layout codes
// (1R, 1K, 1DK, 1LDK, 2SLDK, ...). Returns the empty string when the input
// does not resolve to a known code; scoring treats that as neutral.
func NormalizeLayout(text string) string {
	folded := strings.ToLower(width.Fold.String(strings.TrimSpace(text)))
	if folded == "" {
		return ""
	}

	if code, ok := layoutSynonyms[folded]; ok {
		return code
	}

	if folded == "1r" {
		return "1R"
	}

	m := layoutRe.FindStringSubmatch(folded)
	if m == nil {
		return ""
	}

	// A bare room count is not a layout code.
	if m[2] == "" && m[3] == "" && m[4] == "" && m[5] == "" {
		return ""
	}

	// L and D without a trailing K do not occur in the closed set.
	if (m[3] != "" || m[4] != "") && m[5] == "" {
		return ""
	}

	return m[1] + strings.ToUpper(m[2]+m[3]+m[4]+m[5])
}

// directions is the closed 8-point compass set used for unit orientation.
var directions = map[string]bool{
	"北": true, "北東": true, "東": true, "南東": true,
	"南": true, "南西": true, "西": true, "北西": true,
}

// NormalizeDirection maps a raw direction string ("南向き", "南東" etc.) onto
// the closed compass set. Returns the empty string when unrecognized.
func NormalizeDirection(text string) string {
	s := strings.TrimSpace(width.Fold.String(text))
	s = strings.TrimSuffix(s, "向き")
	s = strings.TrimSuffix(s, "向")
	if directions[s] {
		return s
	}
	return ""
}

// NormalizeRoomNumber canonicalizes a room-number string: width-folded,
// uppercased, stripped of the 号室/号 suffix. Returns the empty string for
// unusable input.
func NormalizeRoomNumber(text string) string {
	s := strings.ToUpper(width.Fold.String(strings.TrimSpace(text)))
	s = strings.TrimSuffix(s, "号室")
	s = strings.TrimSuffix(s, "号")
	s = spaceRe.ReplaceAllString(s, "")
	return s
}

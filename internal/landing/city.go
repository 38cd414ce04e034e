package landing

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/havenly/havenly-backend/internal/util"
)

const maxCityDistance = 2

// DefaultCities seeds fuzzy city matching.
var DefaultCities = []string{
	"Malibu", "Los Angeles", "Santa Monica", "Pasadena", "San Diego",
	"San Francisco", "Newport Beach", "Laguna Beach", "Austin", "Dallas",
	"Houston", "Miami", "Miami Beach", "Seattle", "Portland", "Denver",
	"Phoenix", "Scottsdale", "Chicago", "New York", "Boston", "Nashville",
	"Atlanta",
}

// CitySlug lower-cases city and joins its words with dashes.
func CitySlug(city string) string {
	return util.Slugify(city, 0)
}

// CityName turns a slug back into a display name: "miami-beach" → "Miami Beach".
func CityName(slug string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(slug, "-", " "))
}

// MatchCity finds the closest known city slug within two edits of the
// requested one.
func MatchCity(requested string, known []string) (string, bool) {
	want := CitySlug(requested)
	if want == "" {
		return "", false
	}
	best, bestDist := "", maxCityDistance+1
	for _, city := range known {
		slug := CitySlug(city)
		if slug == want {
			return slug, true
		}
		if d := levenshtein(want, slug); d < bestDist {
			best, bestDist = slug, d
		}
	}
	if bestDist > maxCityDistance {
		return "", false
	}
	return best, true
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

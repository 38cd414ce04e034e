package landing

import (
	"fmt"
	"strings"

	"github.com/havenly/havenly-backend/internal/listings"
)

// Kind names one landing-page variant. The set is closed.
type Kind string

const (
	KindHomesForSale    Kind = "homes-for-sale"
	KindLuxuryHomes     Kind = "luxury-homes"
	KindCondosForSale   Kind = "condos-for-sale"
	KindNewListings     Kind = "new-listings"
	KindWaterfrontHomes Kind = "waterfront-homes"
	KindOpenHouses      Kind = "open-houses"
)

const luxuryFloor = 1_000_000.0

type template struct {
	label string
	// focus steers the generated copy
	focus string
	// search narrows the listings shown on the page
	search func(city string) listings.SearchOptions
}

var templates = map[Kind]template{
	KindHomesForSale: {
		label: "Homes for Sale",
		focus: "the overall housing market, neighborhoods and what buyers can expect",
		search: func(city string) listings.SearchOptions {
			return listings.SearchOptions{City: city}
		},
	},
	KindLuxuryHomes: {
		label: "Luxury Homes",
		focus: "high-end estates, premium amenities and prestigious neighborhoods",
		search: func(city string) listings.SearchOptions {
			floor := luxuryFloor
			return listings.SearchOptions{City: city, MinPrice: &floor, Sort: listings.SortPriceDesc}
		},
	},
	KindCondosForSale: {
		label: "Condos for Sale",
		focus: "condominium living, HOA considerations and walkable areas",
		search: func(city string) listings.SearchOptions {
			return listings.SearchOptions{City: city, PropertyType: "condo"}
		},
	},
	KindNewListings: {
		label: "New Listings",
		focus: "homes that just hit the market and how to move quickly",
		search: func(city string) listings.SearchOptions {
			return listings.SearchOptions{City: city, Sort: listings.SortNewest}
		},
	},
	KindWaterfrontHomes: {
		label: "Waterfront Homes",
		focus: "ocean, lake and bay front properties, views and flood considerations",
		search: func(city string) listings.SearchOptions {
			view := true
			return listings.SearchOptions{City: city, HasView: &view}
		},
	},
	KindOpenHouses: {
		label: "Open Houses",
		focus: "touring homes this weekend and what to ask at an open house",
		search: func(city string) listings.SearchOptions {
			return listings.SearchOptions{City: city, Sort: listings.SortUpdated}
		},
	},
}

// kindOrder fixes the order Kinds reports.
var kindOrder = []Kind{
	KindHomesForSale,
	KindLuxuryHomes,
	KindCondosForSale,
	KindNewListings,
	KindWaterfrontHomes,
	KindOpenHouses,
}

type KindInfo struct {
	Slug  Kind   `json:"slug"`
	Label string `json:"label"`
}

func Kinds() []KindInfo {
	out := make([]KindInfo, 0, len(kindOrder))
	for _, k := range kindOrder {
		out = append(out, KindInfo{Slug: k, Label: templates[k].label})
	}
	return out
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := templates[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// skeleton is the SEO-only copy served before anything is generated.
func skeleton(city string, kind Kind) Content {
	label := templates[kind].label
	return Content{
		Title:           fmt.Sprintf("%s %s | Havenly", city, label),
		MetaDescription: fmt.Sprintf("Browse %s in %s. Photos, prices and neighborhood details updated daily on Havenly.", strings.ToLower(label), city),
		H1:              fmt.Sprintf("%s in %s", label, city),
		Intro:           fmt.Sprintf("Explore the latest %s in %s.", strings.ToLower(label), city),
		Keywords:        []string{strings.ToLower(city + " " + label), strings.ToLower(city + " real estate")},
	}
}

func imageQuery(city string, kind Kind) string {
	return city + " " + strings.ToLower(templates[kind].label)
}

const systemPrompt = "You are a real-estate copywriter for Havenly. Write accurate, helpful, non-hyped copy. Reply with a single JSON object and nothing else."

func prompt(city string, kind Kind) string {
	t := templates[kind]
	return fmt.Sprintf(`Write landing page copy for "%s in %s".
Focus on %s.
Return JSON with this shape:
{"metaDescription": string (max 155 chars),
 "intro": string (2-3 sentences),
 "sections": [{"heading": string, "body": string}] (3 to 5 items),
 "faq": [{"question": string, "answer": string}] (3 items)}`, t.label, city, t.focus)
}

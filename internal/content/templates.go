package content

import (
	"errors"
	"fmt"
	"strings"
)

// Template selects the shape of a generated blog post.
type Template string

const (
	TemplateMarketUpdate      Template = "market-update"
	TemplateNeighborhoodGuide Template = "neighborhood-guide"
	TemplateBuyerTips         Template = "buyer-tips"
	TemplateSellerTips        Template = "seller-tips"
	TemplateListingSpotlight  Template = "listing-spotlight"
)

var ErrUnknownTemplate = errors.New("unknown content template")

type templateSpec struct {
	label   string
	tags    []string
	cues    []string
	outline string
}

var templates = map[Template]templateSpec{
	TemplateMarketUpdate: {
		label:   "Market update",
		tags:    []string{"market"},
		cues:    []string{"market", "price", "prices", "inventory", "rates", "interest", "forecast", "crash", "bubble", "median"},
		outline: "Summarize current prices, inventory and days on market, explain what is driving them and close with what buyers and sellers should do now.",
	},
	TemplateNeighborhoodGuide: {
		label:   "Neighborhood guide",
		tags:    []string{"neighborhoods"},
		cues:    []string{"neighborhood", "neighborhoods", "living in", "moving to", "schools", "best places", "guide", "things to do"},
		outline: "Introduce the area, cover three to five neighborhoods with their character, schools, commute and typical home prices, then give a short verdict.",
	},
	TemplateBuyerTips: {
		label:   "Buyer tips",
		tags:    []string{"buying"},
		cues:    []string{"buy", "buying", "buyer", "first-time", "first time", "mortgage", "pre-approval", "down payment", "closing costs", "offer"},
		outline: "Give a practical step-by-step checklist for buyers with one concrete example per step and common mistakes to avoid.",
	},
	TemplateSellerTips: {
		label:   "Seller tips",
		tags:    []string{"selling"},
		cues:    []string{"sell", "selling", "seller", "staging", "listing price", "curb appeal", "home value", "appraisal"},
		outline: "Explain how to prepare, price and market a home, with a timeline from the first agent call to closing.",
	},
	TemplateListingSpotlight: {
		label:   "Listing spotlight",
		tags:    []string{"listings"},
		cues:    []string{"open house", "for sale", "listing", "luxury", "waterfront", "condo", "estate", "mansion"},
		outline: "Showcase standout homes currently for sale, describing each property's best features and who it suits.",
	},
}

var templateOrder = []Template{
	TemplateMarketUpdate,
	TemplateNeighborhoodGuide,
	TemplateBuyerTips,
	TemplateSellerTips,
	TemplateListingSpotlight,
}

// Templates lists every template in display order.
func Templates() []Template {
	out := make([]Template, len(templateOrder))
	copy(out, templateOrder)
	return out
}

func ParseTemplate(s string) (Template, error) {
	t := Template(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := templates[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, s)
	}
	return t, nil
}

// ChooseTemplate picks the template whose cue words best match topic.
// Topics with no cue fall back to a market update when a city is known and
// buyer tips otherwise.
func ChooseTemplate(topic, city string) Template {
	text := " " + strings.ToLower(topic) + " "
	best, bestHits := Template(""), 0
	for _, t := range templateOrder {
		hits := 0
		for _, cue := range templates[t].cues {
			if strings.Contains(text, " "+cue) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = t, hits
		}
	}
	if best != "" {
		return best
	}
	if strings.TrimSpace(city) != "" {
		return TemplateMarketUpdate
	}
	return TemplateBuyerTips
}

const systemPrompt = `You write blog posts for Havenly, a residential real-estate brokerage.
Write in plain, friendly American English for home buyers and sellers. Use markdown with ## headings.
Never invent statistics; speak in ranges or trends when unsure.
Reply with a JSON object: {"title": string, "metaDescription": string (max 155 chars), "contentMd": string, "tags": [string]}.`

func buildPrompt(t Template, topic, city string) string {
	spec := templates[t]
	var b strings.Builder
	fmt.Fprintf(&b, "Post type: %s.\n", spec.label)
	fmt.Fprintf(&b, "Topic: %s.\n", topic)
	if city != "" {
		fmt.Fprintf(&b, "Focus the post on %s.\n", city)
	}
	fmt.Fprintf(&b, "Structure: %s\n", spec.outline)
	b.WriteString("Length: 700 to 1000 words.")
	return b.String()
}
